package invitations

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/internal/memberships"
	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
)

func setupInvitationTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS memberships (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL,
  joined_at DATETIME,
  invited_by_user_id TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (subscription_id, user_id)
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

type stubUsers struct {
	byEmail  map[string]*models.User
	folded   map[string][]models.User
	resolved map[string]*uuid.UUID
}

func (s *stubUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := s.byEmail[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubUsers) FindByEmailFold(ctx context.Context, email string) ([]models.User, error) {
	return s.folded[email], nil
}

func (s *stubUsers) ResolveIdentifier(ctx context.Context, identifier string) (*uuid.UUID, error) {
	return s.resolved[identifier], nil
}

type stubSubs struct {
	byID map[uuid.UUID]*models.Subscription
}

func (s *stubSubs) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if sub, ok := s.byID[id]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type sqliteTxRunner struct {
	db *gorm.DB
}

func (r sqliteTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type inviteFixture struct {
	db      *gorm.DB
	users   *stubUsers
	subs    *stubSubs
	emitter *recordingEmitter
	svc     Service
	admin   uuid.UUID
	sub     *models.Subscription
	invitee *models.User
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()

	db := setupInvitationTestDB(t)
	adminID := uuid.New()
	sub := &models.Subscription{
		ID:       uuid.New(),
		AdminID:  adminID,
		Name:     "Family Streaming",
		IsShared: true,
	}
	invitee := &models.User{ID: uuid.New(), Email: "friend@example.com", DisplayName: "Friend"}

	users := &stubUsers{
		byEmail:  map[string]*models.User{invitee.Email: invitee},
		folded:   map[string][]models.User{},
		resolved: map[string]*uuid.UUID{},
	}
	subs := &stubSubs{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	emitter := &recordingEmitter{}

	logg := logger.New(logger.Options{ServiceName: "test"})
	svc, err := NewService(users, memberships.NewRepository(db), subs, sqliteTxRunner{db: db}, emitter, logg)
	require.NoError(t, err)

	return &inviteFixture{
		db:      db,
		users:   users,
		subs:    subs,
		emitter: emitter,
		svc:     svc,
		admin:   adminID,
		sub:     sub,
		invitee: invitee,
	}
}

func TestInviteCreatesPendingMembership(t *testing.T) {
	fx := newInviteFixture(t)

	dto, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.NoError(t, err)
	require.Equal(t, enums.MembershipStatusPending, dto.Status)
	require.Equal(t, fx.invitee.ID, dto.UserID)

	require.Len(t, fx.emitter.events, 1)
	require.Equal(t, enums.EventInviteCreated, fx.emitter.events[0].EventType)

	var row models.Membership
	require.NoError(t, fx.db.Where("subscription_id = ? AND user_id = ?", fx.sub.ID, fx.invitee.ID).First(&row).Error)
	require.NotNil(t, row.InvitedByUserID)
	require.Equal(t, fx.admin, *row.InvitedByUserID)
}

func TestInviteRequiresAdmin(t *testing.T) {
	fx := newInviteFixture(t)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, uuid.New())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestInviteRequiresSharedSubscription(t *testing.T) {
	fx := newInviteFixture(t)
	fx.sub.IsShared = false

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestInviteDuplicateConflicts(t *testing.T) {
	fx := newInviteFixture(t)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.NoError(t, err)

	_, err = fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestInviteAdminConflicts(t *testing.T) {
	fx := newInviteFixture(t)
	fx.users.byEmail["admin@example.com"] = &models.User{ID: fx.admin, Email: "admin@example.com"}

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, "admin@example.com", fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestInviteEnforcesSeatLimit(t *testing.T) {
	fx := newInviteFixture(t)
	maxMembers := 2
	fx.sub.MaxMembers = &maxMembers

	// One accepted member plus the admin's implicit seat fills the plan.
	require.NoError(t, fx.db.Create(&models.Membership{
		ID:             uuid.New(),
		SubscriptionID: fx.sub.ID,
		UserID:         uuid.New(),
		Status:         enums.MembershipStatusAccepted,
	}).Error)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestInvitePendingRowsDoNotHoldSeats(t *testing.T) {
	fx := newInviteFixture(t)
	maxMembers := 2
	fx.sub.MaxMembers = &maxMembers

	require.NoError(t, fx.db.Create(&models.Membership{
		ID:             uuid.New(),
		SubscriptionID: fx.sub.ID,
		UserID:         uuid.New(),
		Status:         enums.MembershipStatusPending,
	}).Error)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.NoError(t, err)
}

func TestInviteFoldedEmailMatch(t *testing.T) {
	fx := newInviteFixture(t)
	fx.users.folded["Friend@Example.com"] = []models.User{*fx.invitee}

	dto, err := fx.svc.Invite(context.Background(), fx.sub.ID, "Friend@Example.com", fx.admin)
	require.NoError(t, err)
	require.Equal(t, fx.invitee.ID, dto.UserID)
}

func TestInviteAmbiguousIdentifier(t *testing.T) {
	fx := newInviteFixture(t)
	fx.users.folded["shared@example.com"] = []models.User{
		{ID: uuid.New(), Email: "Shared@example.com"},
		{ID: uuid.New(), Email: "SHARED@example.com"},
	}

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, "shared@example.com", fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeAmbiguousIdentifier, pkgerrors.As(err).Code())
}

func TestInviteUnknownIdentifierNotFound(t *testing.T) {
	fx := newInviteFixture(t)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, "stranger@example.com", fx.admin)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestInviteResolvedIdentifierFallback(t *testing.T) {
	fx := newInviteFixture(t)
	resolvedID := uuid.New()
	fx.users.resolved["@friendhandle"] = &resolvedID

	dto, err := fx.svc.Invite(context.Background(), fx.sub.ID, "@friendhandle", fx.admin)
	require.NoError(t, err)
	require.Equal(t, resolvedID, dto.UserID)
}

func TestInviteReinviteAfterRejection(t *testing.T) {
	fx := newInviteFixture(t)

	_, err := fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.NoError(t, err)

	// A rejection deletes the row, so the pair is free for a second invite.
	require.NoError(t, fx.db.Where("subscription_id = ? AND user_id = ?", fx.sub.ID, fx.invitee.ID).
		Delete(&models.Membership{}).Error)

	_, err = fx.svc.Invite(context.Background(), fx.sub.ID, fx.invitee.Email, fx.admin)
	require.NoError(t, err)
	require.Len(t, fx.emitter.events, 2)
}
