package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// LockKey is the lease held while a scan runs.
const LockKey = "sla_scan:lock"

// Runner drives the scanner from one or more triggers.
type Runner struct {
	Scanner  *Scanner
	Triggers []Trigger
	Locker   Locker
	LockTTL  time.Duration
	Now      func() time.Time
	// OnResult observes each completed scan.
	OnResult func(context.Context, Result)
}

// Run blocks until ctx is done. Failed ticks are logged and dropped; the next
// trigger starts a fresh scan.
func (r *Runner) Run(ctx context.Context) error {
	fires := make(chan time.Time)
	var wg sync.WaitGroup
	for _, t := range r.Triggers {
		wg.Add(1)
		go func(ch <-chan time.Time) {
			defer wg.Done()
			for at := range ch {
				select {
				case fires <- at:
				case <-ctx.Done():
					return
				}
			}
		}(t.Fire(ctx))
	}
	go func() {
		wg.Wait()
		close(fires)
	}()
	for range fires {
		r.Tick(ctx)
	}
	return ctx.Err()
}

// Tick runs one scan under the lease. It reports false when the scan was not
// run or failed.
func (r *Runner) Tick(ctx context.Context) (Result, bool) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	locker := r.Locker
	if locker == nil {
		locker = NoLock{}
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	release, ok, err := locker.Acquire(ctx, LockKey, ttl)
	if err != nil {
		log.Error().Err(err).Msg("sla scan lock")
		return Result{}, false
	}
	if !ok {
		log.Debug().Msg("sla scan held by another instance")
		return Result{}, false
	}
	defer release(context.WithoutCancel(ctx))

	res, err := r.Scanner.Scan(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("sla scan")
		return res, false
	}
	log.Info().Int("scanned", res.Scanned).Int("paused", res.Paused).Int("alerts", res.Alerts).
		Int("notifications", res.Notifications).Int("failures", res.Failures).Bool("skipped", res.Skipped).
		Msg("sla scan")
	if r.OnResult != nil {
		r.OnResult(ctx, res)
	}
	return res, true
}
