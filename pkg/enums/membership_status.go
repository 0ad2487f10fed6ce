package enums

import "fmt"

// MembershipStatus captures the lifecycle of a shared-subscription membership.
type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusAccepted MembershipStatus = "accepted"
	MembershipStatusRejected MembershipStatus = "rejected"
	MembershipStatusLeft     MembershipStatus = "left"
)

var validMembershipStatuses = []MembershipStatus{
	MembershipStatusPending,
	MembershipStatusAccepted,
	MembershipStatusRejected,
	MembershipStatusLeft,
}

// membershipTransitions is the authoritative transition table. A rejected
// membership is deleted rather than stored, so rejected and left are terminal.
var membershipTransitions = map[MembershipStatus][]MembershipStatus{
	MembershipStatusPending:  {MembershipStatusAccepted, MembershipStatusRejected},
	MembershipStatusAccepted: {MembershipStatusLeft},
	MembershipStatusRejected: {},
	MembershipStatusLeft:     {},
}

// String implements fmt.Stringer.
func (m MembershipStatus) String() string {
	return string(m)
}

// IsValid reports whether the value matches a known MembershipStatus.
func (m MembershipStatus) IsValid() bool {
	for _, candidate := range validMembershipStatuses {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are defined for the status.
func (m MembershipStatus) IsTerminal() bool {
	return len(membershipTransitions[m]) == 0 && m.IsValid()
}

// CanTransitionTo reports whether the transition m -> next is allowed.
func (m MembershipStatus) CanTransitionTo(next MembershipStatus) bool {
	for _, candidate := range membershipTransitions[m] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseMembershipStatus converts raw input into a MembershipStatus.
func ParseMembershipStatus(value string) (MembershipStatus, error) {
	for _, candidate := range validMembershipStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid membership status %q", value)
}
