package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/luisherrera/subtally-backend/pkg/logger"
)

const renewalBatchLimit = 100

type RenewalJobParams struct {
	Logger        *logger.Logger
	Subscriptions renewalAdvancer
	BatchLimit    int
}

type renewalAdvancer interface {
	AdvanceDueRenewals(ctx context.Context, now time.Time, limit int) (int, error)
}

// NewRenewalJob builds the job that rolls past-due renewal dates forward
// and queues renewal reminders.
func NewRenewalJob(params RenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = renewalBatchLimit
	}
	return &renewalJob{
		logg:          params.Logger,
		subscriptions: params.Subscriptions,
		limit:         limit,
		now:           time.Now,
	}, nil
}

type renewalJob struct {
	logg          *logger.Logger
	subscriptions renewalAdvancer
	limit         int
	now           func() time.Time
}

func (j *renewalJob) Name() string { return "renewal-advance" }

func (j *renewalJob) Run(ctx context.Context) error {
	// Drain in batches so one oversized backlog cannot starve the cycle.
	total := 0
	for {
		advanced, err := j.subscriptions.AdvanceDueRenewals(ctx, j.now().UTC(), j.limit)
		total += advanced
		if err != nil {
			return fmt.Errorf("advance renewals: %w", err)
		}
		if advanced < j.limit {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscriptions_advanced": total,
	})
	j.logg.Info(logCtx, "renewal advance complete")
	return nil
}
