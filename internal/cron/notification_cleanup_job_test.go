package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luisherrera/subtally-backend/pkg/logger"
)

type stubCleanupRepo struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (s *stubCleanupRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return s.deleted, s.err
}

func TestNotificationCleanupComputesCutoff(t *testing.T) {
	repo := &stubCleanupRepo{deleted: 3}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: repo,
		Retention:  10,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	fixed := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	job.(*notificationCleanupJob).now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := fixed.Add(-10 * 24 * time.Hour)
	if !repo.cutoff.Equal(want) {
		t.Fatalf("cutoff %s, want %s", repo.cutoff, want)
	}
}

func TestNotificationCleanupDefaultsRetention(t *testing.T) {
	repo := &stubCleanupRepo{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if got := job.(*notificationCleanupJob).retention; got != notificationRetentionDays {
		t.Fatalf("retention %d, want %d", got, notificationRetentionDays)
	}
}

func TestNotificationCleanupPropagatesError(t *testing.T) {
	repo := &stubCleanupRepo{err: errors.New("boom")}
	job, _ := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Repository: repo,
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
