package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"commentguard/internal/middleware"
	"commentguard/internal/observability"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Weight selects which pool a job draws its slot from.
type Weight int

const (
	// Heavy work performs a full account sync.
	Heavy Weight = iota
	// Light work performs a single cheap call per account.
	Light
)

// Job describes one kind of per-account work.
type Job struct {
	// Name labels logs and metrics.
	Name string
	// Lock namespaces the account lock. Jobs sharing a Lock never overlap on one account.
	Lock   string
	Weight Weight
	Run    func(ctx context.Context, accountID uint) error
}

// Coordinator owns the lock set and the heavy and light worker pools.
type Coordinator struct {
	locks LockSet
	heavy *semaphore.Weighted
	light *semaphore.Weighted
	wg    sync.WaitGroup
}

// New returns a Coordinator that runs at most heavyLimit heavy and lightLimit
// light jobs at a time.
func New(locks LockSet, heavyLimit, lightLimit int) *Coordinator {
	if heavyLimit < 1 {
		heavyLimit = 1
	}
	if lightLimit < 1 {
		lightLimit = 1
	}
	return &Coordinator{
		locks: locks,
		heavy: semaphore.NewWeighted(int64(heavyLimit)),
		light: semaphore.NewWeighted(int64(lightLimit)),
	}
}

func lockKey(job Job, accountID uint) string {
	return fmt.Sprintf("%s:%d", job.Lock, accountID)
}

// Batch is the set of runs spawned by one Dispatch.
type Batch struct {
	Dispatched []uint
	Skipped    []uint

	g    errgroup.Group
	mu   sync.Mutex
	errs map[uint]error
}

// Wait blocks until every dispatched run finishes and joins their errors.
func (b *Batch) Wait() error {
	_ = b.g.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := make([]error, 0, len(b.errs))
	for id, err := range b.errs {
		errs = append(errs, fmt.Errorf("account %d: %w", id, err))
	}
	return errors.Join(errs...)
}

// Err returns the error recorded for accountID, if any. Call after Wait.
func (b *Batch) Err(accountID uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errs[accountID]
}

func (b *Batch) record(accountID uint, err error) {
	b.mu.Lock()
	if b.errs == nil {
		b.errs = make(map[uint]error)
	}
	b.errs[accountID] = err
	b.mu.Unlock()
}

// Dispatch locks every free account synchronously, skips the ones already held and
// starts the rest in the background. It returns without waiting for the runs.
// Runs are detached from ctx cancellation: once started they complete or fail.
func (c *Coordinator) Dispatch(ctx context.Context, job Job, accountIDs []uint) *Batch {
	batch := &Batch{}
	runCtx := context.WithoutCancel(ctx)

	for _, id := range accountIDs {
		key := lockKey(job, id)
		ok, err := c.locks.Acquire(ctx, key)
		if err != nil {
			middleware.Logger.ErrorContext(ctx, "lock acquire failed",
				slog.String("job", job.Name),
				slog.Uint64("account_id", uint64(id)),
				slog.String("error", err.Error()),
			)
			batch.Skipped = append(batch.Skipped, id)
			continue
		}
		if !ok {
			middleware.Logger.InfoContext(ctx, "account still in flight, skipping",
				slog.String("job", job.Name),
				slog.Uint64("account_id", uint64(id)),
			)
			observability.AccountSkips.WithLabelValues(job.Name).Inc()
			batch.Skipped = append(batch.Skipped, id)
			continue
		}

		batch.Dispatched = append(batch.Dispatched, id)
		c.spawn(runCtx, batch, job, id, key)
	}

	return batch
}

// TryDispatch starts job for a single account, returning ErrLocked when it is already in flight.
func (c *Coordinator) TryDispatch(ctx context.Context, job Job, accountID uint) (*Batch, error) {
	batch := c.Dispatch(ctx, job, []uint{accountID})
	if len(batch.Dispatched) == 0 {
		return nil, ErrLocked
	}
	return batch, nil
}

func (c *Coordinator) pool(w Weight) *semaphore.Weighted {
	if w == Light {
		return c.light
	}
	return c.heavy
}

func (c *Coordinator) spawn(ctx context.Context, batch *Batch, job Job, accountID uint, key string) {
	c.wg.Add(1)
	observability.InFlightAccounts.WithLabelValues(job.Name).Inc()

	batch.g.Go(func() error {
		defer c.wg.Done()
		defer observability.InFlightAccounts.WithLabelValues(job.Name).Dec()
		defer func() {
			if err := c.locks.Release(ctx, key); err != nil {
				middleware.Logger.WarnContext(ctx, "lock release failed",
					slog.String("job", job.Name),
					slog.Uint64("account_id", uint64(accountID)),
					slog.String("error", err.Error()),
				)
			}
		}()

		err := c.run(ctx, job, accountID)
		if err != nil {
			batch.record(accountID, err)
			middleware.Logger.ErrorContext(ctx, "account run failed",
				slog.String("job", job.Name),
				slog.Uint64("account_id", uint64(accountID)),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
}

func (c *Coordinator) run(ctx context.Context, job Job, accountID uint) (err error) {
	pool := c.pool(job.Weight)
	if err := pool.Acquire(ctx, 1); err != nil {
		return err
	}
	defer pool.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			middleware.Logger.ErrorContext(ctx, "account run panicked",
				slog.String("job", job.Name),
				slog.Uint64("account_id", uint64(accountID)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	return job.Run(middleware.WithAccountID(ctx, accountID), accountID)
}

// Shutdown waits for every dispatched run to finish or ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator shutdown: %w", ctx.Err())
	}
}
