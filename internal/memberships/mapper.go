package memberships

import (
	"github.com/luisherrera/subtally-backend/pkg/db/models"
)

type memberRow struct {
	models.Membership
	Email       string `gorm:"column:email"`
	DisplayName string `gorm:"column:display_name"`
}

func memberFromRow(row memberRow) MemberDTO {
	return MemberDTO{
		MembershipDTO: *FromModel(&row.Membership),
		Email:         row.Email,
		DisplayName:   row.DisplayName,
	}
}

func membersFromRows(rows []memberRow) []MemberDTO {
	out := make([]MemberDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, memberFromRow(row))
	}
	return out
}
