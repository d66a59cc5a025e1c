package approval

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/viant/overseer/internal/clock"
	"github.com/viant/overseer/policy"
)

// DecisionFunc decides a pending item: DecisionAuto approves it,
// DecisionDeny rejects it with reason and DecisionAsk leaves it for a human.
type DecisionFunc func(item *Item) (decision policy.Decision, reason string)

// AutoDecider starts a goroutine that polls ListPending and applies fn to
// every item. Approvals are recorded for the category policy, rejections
// for the "policy" actor. It returns stop(); call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context, svc *Service, fn DecisionFunc, interval time.Duration) (stop func()) {
	return every(ctx, interval, func() {
		items, err := svc.ListPending(ctx)
		if err != nil {
			svc.logger.WithError(err).Warn("auto decision sweep failed")
			return
		}
		for _, item := range items {
			decision, reason := fn(item)
			var err error
			switch decision {
			case policy.DecisionAuto:
				_, err = svc.ApproveByPolicy(ctx, item.TaskID)
			case policy.DecisionDeny:
				_, err = svc.Reject(ctx, item.TaskID, "policy", reason)
			default:
				continue
			}
			if err != nil {
				svc.logger.WithError(err).WithFields(logrus.Fields{"task": item.TaskID, "decision": decision}).Warn("auto decision failed")
			}
		}
	})
}

// RunEscalator periodically escalates items that waited past the timeout.
func RunEscalator(ctx context.Context, svc *Service, interval time.Duration) (stop func()) {
	return every(ctx, interval, func() {
		if _, err := svc.Escalate(ctx, clock.Now()); err != nil {
			svc.logger.WithError(err).Warn("escalation sweep failed")
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) (stop func()) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
