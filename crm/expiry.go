/*
expiry.go - Policy expiration sweep

PURPOSE:
  Moves Active policies whose end date has passed to Expired. Expiry is
  not a cancellation: no chargeback, notification or follow-up task is
  produced, and Cancelled policies are never touched.

DESIGN:
  - ExpirePolicies is one store transaction, safe to run repeatedly
  - ExpiryScheduler runs it on a ticker in a background goroutine,
    once immediately on Start

USAGE:
  sched := crm.NewExpiryScheduler(svc, time.Hour)
  sched.Start()
  // ... later
  sched.Stop()
*/
package crm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// ExpirePolicies marks every Active policy that ended before today as Expired
// and returns how many changed.
func (s *Service) ExpirePolicies(ctx context.Context) (int, error) {
	today := s.today()
	expired := 0
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		due, err := r.policies.Filter(ctx, func(p Policy) bool {
			return p.Status == PolicyActive && !p.EndDate.IsZero() && p.EndDate.Before(today)
		})
		if err != nil {
			return err
		}
		for _, p := range due {
			if _, err := r.policies.Update(ctx, p.ID, map[string]any{"status": PolicyExpired}); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.Log.Info("policies expired", zap.Int("count", expired), zap.String("as_of", today.String()))
	}
	return expired, nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// ExpiryScheduler runs ExpirePolicies periodically.
type ExpiryScheduler struct {
	Service  *Service
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewExpiryScheduler(svc *Service, interval time.Duration) *ExpiryScheduler {
	return &ExpiryScheduler{Service: svc, Interval: interval}
}

// Start begins the sweep loop. Calling Start twice is a no-op.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		return
	}
	es.ticker = time.NewTicker(es.Interval)
	es.stop = make(chan struct{})
	es.wg.Add(1)
	go es.run(es.ticker, es.stop)

	es.Service.Log.Info("expiry scheduler started", zap.Duration("interval", es.Interval))
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.Service.Log.Info("expiry scheduler stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	es.RunNow()
	for {
		select {
		case <-ticker.C:
			es.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow sweeps once, logging failures.
func (es *ExpiryScheduler) RunNow() {
	if _, err := es.Service.ExpirePolicies(context.Background()); err != nil {
		es.Service.Log.Error("policy expiry sweep failed", zap.Error(err))
	}
}
