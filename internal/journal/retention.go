package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voice-agent-lab/internal/logging"
)

// RetentionPolicy bounds how much of the journal is kept.
type RetentionPolicy struct {
	// Schedule is a standard five-field cron spec or a descriptor such as
	// "@hourly".
	Schedule   string
	MaxAge     time.Duration
	MaxEntries int
}

// cronLogger routes cron's own logging into ours.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) { logging.Debugw("journal: cron "+msg, kv...) }
func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	logging.Warnw("journal: cron "+msg, append(kv, "err", err)...)
}

// Retention prunes a store on a cron schedule.
type Retention struct {
	store  Store
	policy RetentionPolicy
	cron   *cron.Cron
}

// StartRetention schedules pruning and starts the scheduler. A policy
// with neither MaxAge nor MaxEntries set returns a nil Retention.
func StartRetention(store Store, policy RetentionPolicy) (*Retention, error) {
	if policy.MaxAge <= 0 && policy.MaxEntries <= 0 {
		return nil, nil
	}
	if policy.Schedule == "" {
		policy.Schedule = "@hourly"
	}
	r := &Retention{
		store:  store,
		policy: policy,
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
	}
	if _, err := r.cron.AddFunc(policy.Schedule, func() { _, _ = r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", policy.Schedule, err)
	}
	r.cron.Start()
	logging.Infow("journal: retention scheduled", "schedule", policy.Schedule, "max_age", policy.MaxAge.String(), "max_entries", policy.MaxEntries)
	return r, nil
}

// RunOnce applies the policy immediately.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Time{}
	if r.policy.MaxAge > 0 {
		cutoff = time.Now().Add(-r.policy.MaxAge)
	}
	n, err := r.store.Prune(ctx, cutoff, r.policy.MaxEntries)
	if err != nil {
		logging.Warnw("journal: prune failed", "err", err)
		return n, err
	}
	if n > 0 {
		logging.Infow("journal: pruned entries", "removed", n)
	}
	return n, nil
}

// Stop halts the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	if r == nil {
		return
	}
	<-r.cron.Stop().Done()
}
