package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
)

// Repository exposes subscription persistence operations.
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

// Create persists a new subscription row.
func (r *Repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// FindByID loads one subscription.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByAdmin returns subscriptions owned by the user.
func (r *Repository) ListByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("admin_id = ?", adminID).
		Order("next_renewal_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListByIDs loads the given subscriptions, used to expand a member's feed.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("next_renewal_at ASC").
		Find(&rows).Error
	return rows, err
}

// Updates applies the provided column map to one subscription.
func (r *Repository) Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// DeleteRow removes the subscription row only. Dependent rows are the delete
// coordinator's responsibility.
func (r *Repository) DeleteRow(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Subscription{}).Error
}

// DeleteCascade invokes the server-side procedure that removes the
// subscription with its memberships and notifications in one transaction.
func (r *Repository) DeleteCascade(ctx context.Context, id, actorID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Exec("SELECT delete_subscription_cascade(?, ?)", id, actorID).Error
}

// ListRenewalsDue returns auto-renewing subscriptions whose renewal date has
// passed the provided instant.
func (r *Repository) ListRenewalsDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("auto_renew AND next_renewal_at <= ?", now).
		Order("next_renewal_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// AdvanceRenewal moves next_renewal_at forward, guarded by the previous value
// so concurrent job runs advance each subscription once.
func (r *Repository) AdvanceRenewal(ctx context.Context, id uuid.UUID, from, to time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND next_renewal_at = ?", id, from).
		UpdateColumn("next_renewal_at", to)
	return result.RowsAffected, result.Error
}
