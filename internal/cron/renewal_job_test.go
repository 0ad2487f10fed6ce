package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luisherrera/subtally-backend/pkg/logger"
)

type stubAdvancer struct {
	batches []int
	calls   int
	err     error
}

func (s *stubAdvancer) AdvanceDueRenewals(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.calls >= len(s.batches) {
		return 0, nil
	}
	advanced := s.batches[s.calls]
	s.calls++
	return advanced, nil
}

func TestRenewalJobDrainsBacklogInBatches(t *testing.T) {
	advancer := &stubAdvancer{batches: []int{2, 2, 1}}
	job, err := NewRenewalJob(RenewalJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: advancer,
		BatchLimit:    2,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if advancer.calls != 3 {
		t.Fatalf("expected 3 batches, got %d", advancer.calls)
	}
}

func TestRenewalJobStopsOnShortBatch(t *testing.T) {
	advancer := &stubAdvancer{batches: []int{1}}
	job, _ := NewRenewalJob(RenewalJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: advancer,
		BatchLimit:    100,
	})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if advancer.calls != 1 {
		t.Fatalf("expected a single batch, got %d", advancer.calls)
	}
}

func TestRenewalJobPropagatesError(t *testing.T) {
	advancer := &stubAdvancer{err: errors.New("db down")}
	job, _ := NewRenewalJob(RenewalJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "cron-test"}),
		Subscriptions: advancer,
	})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
