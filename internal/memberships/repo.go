package memberships

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
)

// Repository exposes membership persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Get retrieves the membership row for the pair regardless of status.
func (r *Repository) Get(ctx context.Context, subscriptionID, userID uuid.UUID) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND user_id = ?", subscriptionID, userID).
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// Create persists a new membership row.
func (r *Repository) Create(ctx context.Context, subscriptionID, userID uuid.UUID, status enums.MembershipStatus, invitedBy *uuid.UUID) (*models.Membership, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid membership status %q", status)
	}

	membership := &models.Membership{
		SubscriptionID:  subscriptionID,
		UserID:          userID,
		Status:          status,
		InvitedByUserID: invitedBy,
	}

	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		return nil, err
	}
	return membership, nil
}

// AcceptPending flips a pending row to accepted and stamps joined_at in one
// conditional UPDATE. Returns the number of rows affected.
func (r *Repository) AcceptPending(ctx context.Context, subscriptionID, userID uuid.UUID, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("subscription_id = ? AND user_id = ? AND status = ?", subscriptionID, userID, enums.MembershipStatusPending).
		Updates(map[string]any{
			"status":    enums.MembershipStatusAccepted,
			"joined_at": now,
		})
	return result.RowsAffected, result.Error
}

// DeletePending removes a pending row, used when an invite is rejected.
func (r *Repository) DeletePending(ctx context.Context, subscriptionID, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("subscription_id = ? AND user_id = ? AND status = ?", subscriptionID, userID, enums.MembershipStatusPending).
		Delete(&models.Membership{})
	return result.RowsAffected, result.Error
}

// MarkLeft flips an accepted row to left.
func (r *Repository) MarkLeft(ctx context.Context, subscriptionID, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("subscription_id = ? AND user_id = ? AND status = ?", subscriptionID, userID, enums.MembershipStatusAccepted).
		UpdateColumn("status", enums.MembershipStatusLeft)
	return result.RowsAffected, result.Error
}

// ListBySubscription returns every membership row for the subscription.
func (r *Repository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Membership, error) {
	var rows []models.Membership
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListMembers returns memberships joined with member profiles.
func (r *Repository) ListMembers(ctx context.Context, subscriptionID uuid.UUID) ([]MemberDTO, error) {
	var rows []memberRow
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Select("memberships.*, users.email, users.display_name").
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.subscription_id = ?", subscriptionID).
		Order("memberships.created_at").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return membersFromRows(rows), nil
}

// ListForUser returns the user's memberships across subscriptions.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, statuses ...enums.MembershipStatus) ([]models.Membership, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var rows []models.Membership
	err := query.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// CountAccepted counts accepted members for seat accounting. The admin holds
// an implicit seat and is not represented here.
func (r *Repository) CountAccepted(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.MembershipStatusAccepted).
		Count(&count).Error
	return count, err
}

// CountBySubscription counts every row for the subscription regardless of status.
func (r *Repository) CountBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("subscription_id = ?", subscriptionID).
		Count(&count).Error
	return count, err
}

// DeleteByID removes a membership row by primary key.
func (r *Repository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Membership{}).Error
}

// DeleteByPair removes a membership row addressed by its natural key. The
// delete coordinator retries with this formulation when the primary-key
// delete fails.
func (r *Repository) DeleteByPair(ctx context.Context, subscriptionID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Exec("DELETE FROM memberships WHERE subscription_id = ? AND user_id = ?", subscriptionID, userID).Error
}

// AcceptedUserIDs returns the user ids of accepted members.
func (r *Repository) AcceptedUserIDs(ctx context.Context, subscriptionID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.MembershipStatusAccepted).
		Pluck("user_id", &ids).Error
	return ids, err
}
