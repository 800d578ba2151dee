package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/coordinator"
	"commentguard/internal/middleware"
	"commentguard/internal/platform"
	"commentguard/internal/repository"

	"github.com/google/uuid"
)

// pendingBacklog bounds how many leftover NEW comments one run picks up.
const pendingBacklog = 200

// Moderator is the part of ModerationService the worker drives.
type Moderator interface {
	Moderate(ctx context.Context, commentID uint) (*Outcome, error)
}

// batchEmbedder is implemented by moderators that can embed a run's comments
// up front instead of one at a time.
type batchEmbedder interface {
	EmbedBatch(ctx context.Context, ids []uint)
}

// AccountWorker builds the per-account jobs the coordinator runs.
type AccountWorker struct {
	accounts  repository.AccountRepository
	comments  repository.CommentRepository
	sync      *SyncService
	moderator Moderator
	platform  platform.Client
	tokens    TokenSource
}

// NewAccountWorker returns a new AccountWorker.
func NewAccountWorker(
	accounts repository.AccountRepository,
	comments repository.CommentRepository,
	sync *SyncService,
	moderator Moderator,
	client platform.Client,
	tokens TokenSource,
) *AccountWorker {
	return &AccountWorker{
		accounts:  accounts,
		comments:  comments,
		sync:      sync,
		moderator: moderator,
		platform:  client,
		tokens:    tokens,
	}
}

// RunReport is the outcome of one sync-and-moderate run.
type RunReport struct {
	RunID     string      `json:"run_id"`
	Sync      *SyncResult `json:"sync"`
	Moderated int         `json:"moderated"`
	Failed    int         `json:"failed"`
}

// SyncJob syncs and moderates an account. Hybrid and deep runs share one lock.
func (w *AccountWorker) SyncJob(mode SyncMode) coordinator.Job {
	return coordinator.Job{
		Name:   "sync_" + string(mode),
		Lock:   "sync",
		Weight: coordinator.Heavy,
		Run: func(ctx context.Context, accountID uint) error {
			_, err := w.RunSync(ctx, accountID, mode)
			return err
		},
	}
}

// StatsJob refreshes an account's follower count.
func (w *AccountWorker) StatsJob() coordinator.Job {
	return coordinator.Job{
		Name:   "stats",
		Lock:   "stats",
		Weight: coordinator.Light,
		Run:    w.RefreshStats,
	}
}

// RunSync diffs the account and classifies every enqueued comment in fetch order,
// followed by NEW comments left behind by earlier runs. Their embeddings are
// requested in one batch first. A failing comment is logged and does not stop
// the others.
func (w *AccountWorker) RunSync(ctx context.Context, accountID uint, mode SyncMode) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	ctx = middleware.WithRunID(ctx, report.RunID)

	res, err := w.sync.Sync(ctx, accountID, mode)
	report.Sync = res
	if err != nil {
		return report, err
	}

	pending, err := w.comments.ListPendingIDs(ctx, accountID, pendingBacklog)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to list pending comments", slog.String("error", err.Error()))
	}

	queued := make(map[uint]struct{}, len(res.Enqueued)+len(pending))
	order := make([]uint, 0, len(res.Enqueued)+len(pending))
	for _, ids := range [][]uint{res.Enqueued, pending} {
		for _, id := range ids {
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			order = append(order, id)
		}
	}

	if b, ok := w.moderator.(batchEmbedder); ok {
		b.EmbedBatch(ctx, order)
	}

	for _, id := range order {
		out, err := w.moderator.Moderate(ctx, id)
		if err != nil {
			report.Failed++
			middleware.Logger.ErrorContext(ctx, "moderation failed, continuing",
				slog.Uint64("comment_id", uint64(id)), slog.String("error", err.Error()))
			continue
		}
		if !out.Skipped {
			report.Moderated++
		}
	}

	middleware.Logger.InfoContext(ctx, "account run finished",
		slog.String("mode", string(mode)),
		slog.Int("moderated", report.Moderated),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// RefreshStats stores the account's current follower count.
func (w *AccountWorker) RefreshStats(ctx context.Context, accountID uint) error {
	account, err := w.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	token, err := w.tokens.Token(ctx, account)
	if err != nil {
		return err
	}

	stats, err := w.platform.GetAccountStats(ctx, account.ExternalID, token)
	if err != nil {
		if errors.Is(err, platform.ErrPermission) {
			middleware.Logger.WarnContext(ctx, "account token rejected", slog.String("error", err.Error()))
		}
		return fmt.Errorf("account stats: %w", err)
	}
	return w.accounts.UpdateFollowerCount(ctx, account.ID, stats.FollowerCount, time.Now())
}
