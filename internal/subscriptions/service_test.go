package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/pkg/db/models"
	"github.com/luisherrera/subtally-backend/pkg/enums"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
)

type stubSubscriptionRepo struct {
	byID           map[uuid.UUID]*models.Subscription
	owned          []models.Subscription
	due            []models.Subscription
	cascadeErr     error
	cascadeCalls   int
	deleteRowErr   error
	deleteRowCalls int
	advanceRows    int64
	advanceCalls   int
	updatedFields  map[string]any
}

func (s *stubSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	sub.ID = uuid.New()
	return nil
}

func (s *stubSubscriptionRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if sub, ok := s.byID[id]; ok {
		copied := *sub
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubSubscriptionRepo) ListByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.Subscription, error) {
	return s.owned, nil
}

func (s *stubSubscriptionRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Subscription, error) {
	out := make([]models.Subscription, 0, len(ids))
	for _, id := range ids {
		if sub, ok := s.byID[id]; ok {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *stubSubscriptionRepo) Updates(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	s.updatedFields = fields
	return nil
}

func (s *stubSubscriptionRepo) DeleteRow(ctx context.Context, id uuid.UUID) error {
	s.deleteRowCalls++
	if s.deleteRowErr != nil {
		return s.deleteRowErr
	}
	delete(s.byID, id)
	return nil
}

func (s *stubSubscriptionRepo) DeleteCascade(ctx context.Context, id, actorID uuid.UUID) error {
	s.cascadeCalls++
	if s.cascadeErr != nil {
		return s.cascadeErr
	}
	delete(s.byID, id)
	return nil
}

func (s *stubSubscriptionRepo) ListRenewalsDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return s.due, nil
}

func (s *stubSubscriptionRepo) AdvanceRenewal(ctx context.Context, id uuid.UUID, from, to time.Time) (int64, error) {
	s.advanceCalls++
	return s.advanceRows, nil
}

type stubMembershipRepo struct {
	rows            []models.Membership
	deleteByIDErr   map[uuid.UUID]error
	deleteByPairErr map[uuid.UUID]error
	deletedIDs      []uuid.UUID
	pairRetries     int
}

func (s *stubMembershipRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Membership, error) {
	return s.rows, nil
}

func (s *stubMembershipRepo) ListForUser(ctx context.Context, userID uuid.UUID, statuses ...enums.MembershipStatus) ([]models.Membership, error) {
	out := []models.Membership{}
	for _, row := range s.rows {
		if row.UserID != userID {
			continue
		}
		for _, status := range statuses {
			if row.Status == status {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

func (s *stubMembershipRepo) CountBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	for _, row := range s.rows {
		deleted := false
		for _, id := range s.deletedIDs {
			if row.ID == id {
				deleted = true
				break
			}
		}
		if !deleted {
			count++
		}
	}
	return count, nil
}

func (s *stubMembershipRepo) CountAccepted(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	var count int64
	for _, row := range s.rows {
		if row.Status == enums.MembershipStatusAccepted {
			count++
		}
	}
	return count, nil
}

func (s *stubMembershipRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if err, ok := s.deleteByIDErr[id]; ok {
		return err
	}
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *stubMembershipRepo) DeleteByPair(ctx context.Context, subscriptionID, userID uuid.UUID) error {
	s.pairRetries++
	for _, row := range s.rows {
		if row.SubscriptionID != subscriptionID || row.UserID != userID {
			continue
		}
		if err, ok := s.deleteByPairErr[row.ID]; ok {
			return err
		}
		s.deletedIDs = append(s.deletedIDs, row.ID)
		return nil
	}
	return nil
}

type stubNotificationCleanup struct {
	deleted int64
	err     error
	calls   int
}

func (s *stubNotificationCleanup) DeleteBySubscription(ctx context.Context, subscriptionID uuid.UUID) (int64, error) {
	s.calls++
	return s.deleted, s.err
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type recordingEmitter struct {
	events []outbox.DomainEvent
	err    error
}

func (r *recordingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func testSubscription(adminID uuid.UUID) *models.Subscription {
	return &models.Subscription{
		ID:            uuid.New(),
		AdminID:       adminID,
		Name:          "Family Streaming",
		Cost:          decimal.RequireFromString("15.99"),
		Cadence:       enums.RenewalCadenceMonthly,
		StartDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NextRenewalAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		IsShared:      true,
	}
}

func newTestService(t *testing.T, repo *stubSubscriptionRepo, members *stubMembershipRepo, notifications *stubNotificationCleanup, emitter *recordingEmitter, cascadeRPC bool) Service {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test"})
	svc, err := NewService(repo, members, notifications, stubTxRunner{}, emitter, logg, cascadeRPC)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCreateComputesNextRenewal(t *testing.T) {
	t.Parallel()

	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	dto, err := svc.Create(context.Background(), uuid.New(), CreateSubscriptionInput{
		Name:      "Family Streaming",
		Cost:      decimal.RequireFromString("15.99"),
		Cadence:   enums.RenewalCadenceMonthly,
		StartDate: start,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	if !dto.NextRenewalAt.Equal(want) {
		t.Fatalf("next renewal %s, want %s", dto.NextRenewalAt, want)
	}
	if !dto.AutoRenew {
		t.Fatal("auto renew must default to true")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	cases := []CreateSubscriptionInput{
		{Cost: decimal.Zero, Cadence: enums.RenewalCadenceMonthly, StartDate: time.Now()},
		{Name: "x", Cost: decimal.RequireFromString("-1"), Cadence: enums.RenewalCadenceMonthly, StartDate: time.Now()},
		{Name: "x", Cost: decimal.Zero, Cadence: "fortnightly", StartDate: time.Now()},
		{Name: "x", Cost: decimal.Zero, Cadence: enums.RenewalCadenceMonthly},
	}
	for _, input := range cases {
		if _, err := svc.Create(context.Background(), uuid.New(), input); err == nil {
			t.Fatalf("expected validation error for %+v", input)
		} else if pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
			t.Fatalf("expected validation code, got %v", err)
		}
	}
}

func TestGetForbidsNonMembers(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	if _, err := svc.Get(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("admin access failed: %v", err)
	}

	_, err := svc.Get(context.Background(), sub.ID, uuid.New())
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
}

func TestGetAllowsAcceptedMember(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	memberID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	members := &stubMembershipRepo{rows: []models.Membership{
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: memberID, Status: enums.MembershipStatusAccepted},
	}}
	svc := newTestService(t, repo, members, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	dto, err := svc.Get(context.Background(), sub.ID, memberID)
	if err != nil {
		t.Fatalf("accepted member access failed: %v", err)
	}
	if dto.ID != sub.ID {
		t.Fatalf("unexpected subscription %s", dto.ID)
	}
}

func TestUpdateNeverTouchesAdminID(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	name := "Premium Streaming"
	if _, err := svc.Update(context.Background(), sub.ID, adminID, UpdateSubscriptionInput{Name: &name}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := repo.updatedFields["admin_id"]; ok {
		t.Fatal("admin_id must never be written")
	}
	if repo.updatedFields["name"] != name {
		t.Fatalf("expected name update, got %v", repo.updatedFields)
	}
}

func TestUpdateForbidsNonAdmin(t *testing.T) {
	t.Parallel()

	sub := testSubscription(uuid.New())
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	name := "hijacked"
	_, err := svc.Update(context.Background(), sub.ID, uuid.New(), UpdateSubscriptionInput{Name: &name})
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestUpdateRejectsUnshareWithMembershipRows(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	members := &stubMembershipRepo{rows: []models.Membership{
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusPending},
	}}
	svc := newTestService(t, repo, members, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	shared := false
	_, err := svc.Update(context.Background(), sub.ID, adminID, UpdateSubscriptionInput{IsShared: &shared})
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if repo.updatedFields != nil {
		t.Fatalf("no fields must be written, got %v", repo.updatedFields)
	}

	// with no membership rows left the flip goes through
	empty := &stubMembershipRepo{}
	svc = newTestService(t, repo, empty, &stubNotificationCleanup{}, &recordingEmitter{}, true)
	if _, err := svc.Update(context.Background(), sub.ID, adminID, UpdateSubscriptionInput{IsShared: &shared}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repo.updatedFields["is_shared"] != false {
		t.Fatalf("expected is_shared update, got %v", repo.updatedFields)
	}
}

func TestUpdateRejectsMaxMembersBelowOccupancy(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	members := &stubMembershipRepo{rows: []models.Membership{
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusAccepted},
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusAccepted},
	}}
	svc := newTestService(t, repo, members, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	// two accepted members plus the admin occupy three seats
	two := 2
	_, err := svc.Update(context.Background(), sub.ID, adminID, UpdateSubscriptionInput{MaxMembers: &two})
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if repo.updatedFields != nil {
		t.Fatalf("no fields must be written, got %v", repo.updatedFields)
	}

	three := 3
	if _, err := svc.Update(context.Background(), sub.ID, adminID, UpdateSubscriptionInput{MaxMembers: &three}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repo.updatedFields["max_members"] != three {
		t.Fatalf("expected max_members update, got %v", repo.updatedFields)
	}
}

func TestDeleteUsesCascadeProcedure(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	memberID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	members := &stubMembershipRepo{rows: []models.Membership{
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: memberID, Status: enums.MembershipStatusAccepted},
	}}
	cleanup := &stubNotificationCleanup{}
	emitter := &recordingEmitter{}
	svc := newTestService(t, repo, members, cleanup, emitter, true)

	if err := svc.Delete(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.cascadeCalls != 1 {
		t.Fatalf("expected one cascade call, got %d", repo.cascadeCalls)
	}
	if cleanup.calls != 0 {
		t.Fatal("manual cleanup must not run when the procedure succeeds")
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventSubscriptionDeleted {
		t.Fatalf("expected subscription_deleted event, got %+v", emitter.events)
	}
}

func TestDeleteFallsBackToManualCascade(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	rows := []models.Membership{
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusAccepted},
		{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusPending},
	}
	repo := &stubSubscriptionRepo{
		byID:       map[uuid.UUID]*models.Subscription{sub.ID: sub},
		cascadeErr: errors.New("function does not exist"),
	}
	members := &stubMembershipRepo{rows: rows}
	cleanup := &stubNotificationCleanup{}
	emitter := &recordingEmitter{}
	svc := newTestService(t, repo, members, cleanup, emitter, true)

	if err := svc.Delete(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if cleanup.calls != 1 {
		t.Fatal("expected notification cleanup in manual fallback")
	}
	if len(members.deletedIDs) != 2 {
		t.Fatalf("expected both membership rows deleted, got %d", len(members.deletedIDs))
	}
	if repo.deleteRowCalls != 1 {
		t.Fatalf("expected parent row deleted once, got %d", repo.deleteRowCalls)
	}
	if len(emitter.events) != 1 {
		t.Fatalf("expected deletion event, got %d", len(emitter.events))
	}
}

func TestDeleteRetriesMembershipByPair(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	row := models.Membership{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusAccepted}
	repo := &stubSubscriptionRepo{
		byID:       map[uuid.UUID]*models.Subscription{sub.ID: sub},
		cascadeErr: errors.New("down"),
	}
	members := &stubMembershipRepo{
		rows:          []models.Membership{row},
		deleteByIDErr: map[uuid.UUID]error{row.ID: errors.New("lock timeout")},
	}
	svc := newTestService(t, repo, members, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	if err := svc.Delete(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if members.pairRetries != 1 {
		t.Fatalf("expected one pair retry, got %d", members.pairRetries)
	}
	if repo.deleteRowCalls != 1 {
		t.Fatal("expected parent row deleted after retry succeeded")
	}
}

func TestDeleteKeepsParentWhenMembershipsSurvive(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	row := models.Membership{ID: uuid.New(), SubscriptionID: sub.ID, UserID: uuid.New(), Status: enums.MembershipStatusAccepted}
	repo := &stubSubscriptionRepo{
		byID:       map[uuid.UUID]*models.Subscription{sub.ID: sub},
		cascadeErr: errors.New("down"),
	}
	members := &stubMembershipRepo{
		rows:            []models.Membership{row},
		deleteByIDErr:   map[uuid.UUID]error{row.ID: errors.New("lock timeout")},
		deleteByPairErr: map[uuid.UUID]error{row.ID: errors.New("still locked")},
	}
	emitter := &recordingEmitter{}
	svc := newTestService(t, repo, members, &stubNotificationCleanup{}, emitter, true)

	err := svc.Delete(context.Background(), sub.ID, adminID)
	if err == nil {
		t.Fatal("expected incomplete cascade error")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeIncompleteCascade {
		t.Fatalf("expected incomplete cascade code, got %v", err)
	}
	if repo.deleteRowCalls != 0 {
		t.Fatal("parent row must survive an incomplete cascade")
	}
	if len(emitter.events) != 0 {
		t.Fatal("no deletion event while the cascade is incomplete")
	}
}

func TestDeleteToleratesNotificationCleanupFailure(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	cleanup := &stubNotificationCleanup{err: errors.New("timeout")}
	svc := newTestService(t, repo, &stubMembershipRepo{}, cleanup, &recordingEmitter{}, false)

	if err := svc.Delete(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("notification cleanup failure must not block the delete: %v", err)
	}
	if repo.deleteRowCalls != 1 {
		t.Fatal("expected parent row deleted")
	}
}

func TestDeleteForbidsNonAdmin(t *testing.T) {
	t.Parallel()

	sub := testSubscription(uuid.New())
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, true)

	err := svc.Delete(context.Background(), sub.ID, uuid.New())
	if err == nil || pkgerrors.As(err).Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.cascadeCalls != 0 {
		t.Fatal("cascade must not run for non-admins")
	}
}

func TestDeleteSkipsProcedureWhenDisabled(t *testing.T) {
	t.Parallel()

	adminID := uuid.New()
	sub := testSubscription(adminID)
	repo := &stubSubscriptionRepo{byID: map[uuid.UUID]*models.Subscription{sub.ID: sub}}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, &recordingEmitter{}, false)

	if err := svc.Delete(context.Background(), sub.ID, adminID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if repo.cascadeCalls != 0 {
		t.Fatal("procedure must be skipped when the flag is off")
	}
}

func TestAdvanceDueRenewalsEmitsEvents(t *testing.T) {
	t.Parallel()

	sub := testSubscription(uuid.New())
	repo := &stubSubscriptionRepo{
		byID:        map[uuid.UUID]*models.Subscription{sub.ID: sub},
		due:         []models.Subscription{*sub},
		advanceRows: 1,
	}
	emitter := &recordingEmitter{}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, emitter, true)

	advanced, err := svc.AdvanceDueRenewals(context.Background(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("AdvanceDueRenewals: %v", err)
	}
	if advanced != 1 {
		t.Fatalf("expected one advanced subscription, got %d", advanced)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType != enums.EventRenewalDue {
		t.Fatalf("expected renewal_due event, got %+v", emitter.events)
	}
}

func TestAdvanceDueRenewalsSkipsConcurrentlyAdvanced(t *testing.T) {
	t.Parallel()

	sub := testSubscription(uuid.New())
	repo := &stubSubscriptionRepo{
		byID:        map[uuid.UUID]*models.Subscription{sub.ID: sub},
		due:         []models.Subscription{*sub},
		advanceRows: 0,
	}
	emitter := &recordingEmitter{}
	svc := newTestService(t, repo, &stubMembershipRepo{}, &stubNotificationCleanup{}, emitter, true)

	if _, err := svc.AdvanceDueRenewals(context.Background(), time.Now().UTC(), 100); err != nil {
		t.Fatalf("AdvanceDueRenewals: %v", err)
	}
	if len(emitter.events) != 0 {
		t.Fatal("no event when another run already advanced the row")
	}
}
