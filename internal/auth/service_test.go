package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/luisherrera/subtally-backend/internal/users"
	pkgauth "github.com/luisherrera/subtally-backend/pkg/auth"
	"github.com/luisherrera/subtally-backend/pkg/config"
	"github.com/luisherrera/subtally-backend/pkg/db"
	"github.com/luisherrera/subtally-backend/pkg/db/models"
	pkgerrors "github.com/luisherrera/subtally-backend/pkg/errors"
	"github.com/luisherrera/subtally-backend/pkg/security"
)

type stubSessionStore struct {
	created map[string]uuid.UUID
	revoked []string
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{created: map[string]uuid.UUID{}}
}

func (s *stubSessionStore) Create(ctx context.Context, accessID string, userID uuid.UUID) error {
	s.created[accessID] = userID
	return nil
}

func (s *stubSessionStore) Revoke(ctx context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	delete(s.created, accessID)
	return nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "subtally",
		ExpirationMinutes: 30,
	}
}

func testPasswordConfig() config.PasswordConfig {
	// small parameters keep the argon2 hashing fast in tests
	return config.PasswordConfig{
		ArgonMemoryKB:    8192,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func setupAuthTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  display_name TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, conn.Exec(ddl).Error)
	return conn
}

func newAuthService(t *testing.T, conn *gorm.DB, sessions *stubSessionStore) Service {
	t.Helper()

	client, err := db.NewFromConn(conn)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		DB:             client,
		UserRepo:       users.NewRepository(conn),
		SessionManager: sessions,
		JWTConfig:      testJWTConfig(),
		PasswordConfig: testPasswordConfig(),
	})
	require.NoError(t, err)
	return svc
}

func seedUser(t *testing.T, conn *gorm.DB, email, password string) *models.User {
	t.Helper()

	hash, err := security.HashPassword(password, testPasswordConfig())
	require.NoError(t, err)

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Tester",
		IsActive:     true,
	}
	require.NoError(t, conn.Create(user).Error)
	return user
}

func TestRegisterNormalizesEmail(t *testing.T) {
	conn := setupAuthTestDB(t)
	svc := newAuthService(t, conn, newStubSessionStore())

	dto, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "  New.User@Example.COM ",
		Password:    "long-enough-password",
		DisplayName: "New User",
	})
	require.NoError(t, err)
	require.Equal(t, "new.user@example.com", dto.Email)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	conn := setupAuthTestDB(t)
	svc := newAuthService(t, conn, newStubSessionStore())
	seedUser(t, conn, "taken@example.com", "irrelevant-pass")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "taken@example.com",
		Password:    "long-enough-password",
		DisplayName: "Someone",
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
}

func TestRegisterValidatesInput(t *testing.T) {
	conn := setupAuthTestDB(t)
	svc := newAuthService(t, conn, newStubSessionStore())

	cases := []RegisterRequest{
		{Password: "long-enough-password", DisplayName: "x"},
		{Email: "a@b.com", Password: "short", DisplayName: "x"},
		{Email: "a@b.com", Password: "long-enough-password"},
	}
	for _, req := range cases {
		_, err := svc.Register(context.Background(), req)
		require.Error(t, err)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	}
}

func TestLoginMintsTokenAndSession(t *testing.T) {
	conn := setupAuthTestDB(t)
	sessions := newStubSessionStore()
	svc := newAuthService(t, conn, sessions)
	user := seedUser(t, conn, "user@example.com", "correct-horse-battery")

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "User@Example.com",
		Password: "correct-horse-battery",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.Equal(t, user.ID, resp.User.ID)
	require.NotNil(t, resp.User.LastLoginAt)

	claims, err := pkgauth.ParseAccessToken(testJWTConfig(), resp.AccessToken)
	require.NoError(t, err)
	require.NotEmpty(t, claims.ID)
	require.Len(t, sessions.created, 1)
	require.Equal(t, user.ID, sessions.created[claims.ID])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	conn := setupAuthTestDB(t)
	svc := newAuthService(t, conn, newStubSessionStore())
	seedUser(t, conn, "user@example.com", "correct-horse-battery")

	cases := []LoginRequest{
		{Email: "user@example.com", Password: "wrong"},
		{Email: "ghost@example.com", Password: "correct-horse-battery"},
		{Email: "", Password: "correct-horse-battery"},
	}
	for _, req := range cases {
		_, err := svc.Login(context.Background(), req)
		require.Error(t, err)
		require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	conn := setupAuthTestDB(t)
	svc := newAuthService(t, conn, newStubSessionStore())
	user := seedUser(t, conn, "dormant@example.com", "correct-horse-battery")
	require.NoError(t, conn.Model(user).UpdateColumn("is_active", false).Error)

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "dormant@example.com",
		Password: "correct-horse-battery",
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.As(err).Code())
}

func TestLogoutRevokesSession(t *testing.T) {
	conn := setupAuthTestDB(t)
	sessions := newStubSessionStore()
	svc := newAuthService(t, conn, sessions)

	require.NoError(t, svc.Logout(context.Background(), "access-id"))
	require.Equal(t, []string{"access-id"}, sessions.revoked)

	err := svc.Logout(context.Background(), "  ")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
