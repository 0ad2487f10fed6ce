package enums

import (
	"fmt"
	"time"
)

// RenewalCadence defines how often a subscription renews.
type RenewalCadence string

const (
	RenewalCadenceDaily     RenewalCadence = "daily"
	RenewalCadenceWeekly    RenewalCadence = "weekly"
	RenewalCadenceMonthly   RenewalCadence = "monthly"
	RenewalCadenceQuarterly RenewalCadence = "quarterly"
	RenewalCadenceYearly    RenewalCadence = "yearly"
)

var validRenewalCadences = []RenewalCadence{
	RenewalCadenceDaily,
	RenewalCadenceWeekly,
	RenewalCadenceMonthly,
	RenewalCadenceQuarterly,
	RenewalCadenceYearly,
}

// String implements fmt.Stringer.
func (r RenewalCadence) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RenewalCadence.
func (r RenewalCadence) IsValid() bool {
	for _, candidate := range validRenewalCadences {
		if candidate == r {
			return true
		}
	}
	return false
}

// Next returns the renewal date that follows the given one.
func (r RenewalCadence) Next(from time.Time) time.Time {
	switch r {
	case RenewalCadenceDaily:
		return from.AddDate(0, 0, 1)
	case RenewalCadenceWeekly:
		return from.AddDate(0, 0, 7)
	case RenewalCadenceMonthly:
		return from.AddDate(0, 1, 0)
	case RenewalCadenceQuarterly:
		return from.AddDate(0, 3, 0)
	case RenewalCadenceYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from
	}
}

// ParseRenewalCadence converts raw input into a RenewalCadence.
func ParseRenewalCadence(value string) (RenewalCadence, error) {
	for _, candidate := range validRenewalCadences {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid renewal cadence %q", value)
}
