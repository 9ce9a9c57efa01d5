package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Assigner periodically retries PENDING items, and immediately whenever a
// preparer comes online.
type Assigner struct {
	svc      *Service
	interval time.Duration
}

func NewAssigner(svc *Service, interval time.Duration) *Assigner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Assigner{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled.
func (a *Assigner) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.svc.wake:
		}
		a.pass(ctx)
	}
}

func (a *Assigner) pass(ctx context.Context) {
	sum, err := a.svc.AssignPending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.svc.log.Error("assignment pass", zap.Error(err))
		}
		return
	}
	if sum.Assigned > 0 || sum.Skipped > 0 {
		a.svc.log.Info("assignment pass",
			zap.Int("assigned", sum.Assigned),
			zap.Int("parked", sum.Parked),
			zap.Int("skipped", sum.Skipped),
		)
	}
}
