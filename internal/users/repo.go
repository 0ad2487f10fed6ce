package users

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// FindByEmail retrieves the user matching the provided email exactly.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmailFold returns every active user whose email matches ignoring case.
// Multiple rows are possible because the uniqueness constraint is case-sensitive.
func (r *Repository) FindByEmailFold(ctx context.Context, email string) ([]models.User, error) {
	var matches []models.User
	err := r.db.WithContext(ctx).
		Where("lower(email) = lower(?) AND is_active", strings.TrimSpace(email)).
		Order("created_at ASC").
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// ResolveIdentifier delegates to the server-side resolve_invitee function for
// identifiers the direct lookups could not match. A NULL result means no match.
func (r *Repository) ResolveIdentifier(ctx context.Context, identifier string) (*uuid.UUID, error) {
	var resolved sql.NullString
	err := r.db.WithContext(ctx).
		Raw("SELECT resolve_invitee(?)", identifier).
		Scan(&resolved).Error
	if err != nil {
		return nil, err
	}
	if !resolved.Valid || resolved.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(resolved.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin refreshes the user's last_login_at timestamp.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}
