// Package scheduler fires the periodic per-account jobs. Each tick lists the active
// accounts and hands them to the coordinator without waiting for the runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"commentguard/internal/coordinator"
	"commentguard/internal/middleware"

	"github.com/robfig/cron/v3"
)

// AccountLister yields the accounts a tick fans out over.
type AccountLister interface {
	ListActiveIDs(ctx context.Context) ([]uint, error)
}

// Dispatcher starts a job for many accounts. coordinator.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job coordinator.Job, accountIDs []uint) *coordinator.Batch
}

// Trigger binds a cron spec to a job.
type Trigger struct {
	Spec string
	Job  coordinator.Job
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron     *cron.Cron
	accounts AccountLister
	dispatch Dispatcher
	ctx      context.Context
}

// New returns a stopped Scheduler. ctx is the parent of every tick.
func New(ctx context.Context, accounts AccountLister, dispatch Dispatcher) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		accounts: accounts,
		dispatch: dispatch,
		ctx:      ctx,
	}
}

// Add registers triggers. An invalid spec fails the whole call.
func (s *Scheduler) Add(triggers ...Trigger) error {
	for _, t := range triggers {
		job := t.Job
		if _, err := s.cron.AddFunc(t.Spec, func() { s.Tick(s.ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, t.Spec, err)
		}
		middleware.Logger.Info("job scheduled", slog.String("job", job.Name), slog.String("spec", t.Spec))
	}
	return nil
}

// Tick runs one firing of job. It returns as soon as the accounts are dispatched.
func (s *Scheduler) Tick(ctx context.Context, job coordinator.Job) *coordinator.Batch {
	ids, err := s.accounts.ListActiveIDs(ctx)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to list active accounts",
			slog.String("job", job.Name), slog.String("error", err.Error()))
		return nil
	}
	batch := s.dispatch.Dispatch(ctx, job, ids)
	middleware.Logger.InfoContext(ctx, "tick dispatched",
		slog.String("job", job.Name),
		slog.Int("dispatched", len(batch.Dispatched)),
		slog.Int("skipped", len(batch.Skipped)),
	)
	return batch
}

// Start begins firing triggers in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new firings. The returned context is done once running tick
// functions return; dispatched account runs are the coordinator's to drain.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many triggers are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	middleware.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	middleware.Logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
