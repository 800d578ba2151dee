package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"commentguard/internal/middleware"
	"commentguard/internal/models"
	"commentguard/internal/observability"
	"commentguard/internal/platform"
	"commentguard/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// SyncMode selects how many posts are fetched and which of them are inspected.
type SyncMode string

const (
	// ModeHybrid always inspects the newest posts and older ones only when their
	// comment count moved.
	ModeHybrid SyncMode = "hybrid"
	// ModeDeep inspects every post in a large window regardless of counts.
	ModeDeep SyncMode = "deep"
)

// ParseSyncMode defaults an empty value to ModeHybrid.
func ParseSyncMode(s string) (SyncMode, bool) {
	switch SyncMode(s) {
	case "", ModeHybrid:
		return ModeHybrid, true
	case ModeDeep:
		return ModeDeep, true
	default:
		return "", false
	}
}

// SyncConfig sizes the post windows.
type SyncConfig struct {
	DeepCheckWindow int
	HybridWindow    int
	DeepSyncWindow  int
}

// SyncResult summarizes one account run.
type SyncResult struct {
	PostsTouched      int    `json:"posts_touched"`
	Created           int    `json:"created"`
	Updated           int    `json:"updated"`
	VisibilityChanged int    `json:"visibility_changed"`
	PostErrors        int    `json:"post_errors"`
	Enqueued          []uint `json:"enqueued"`
}

// SyncService diffs remote posts and comments against stored state.
type SyncService struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	comments repository.CommentRepository
	platform platform.Client
	tokens   TokenSource
	cfg      SyncConfig
	now      func() time.Time
}

// NewSyncService returns a new SyncService.
func NewSyncService(
	accounts repository.AccountRepository,
	posts repository.PostRepository,
	comments repository.CommentRepository,
	client platform.Client,
	tokens TokenSource,
	cfg SyncConfig,
) *SyncService {
	if cfg.DeepCheckWindow < 1 {
		cfg.DeepCheckWindow = 20
	}
	if cfg.HybridWindow < cfg.DeepCheckWindow {
		cfg.HybridWindow = cfg.DeepCheckWindow
	}
	if cfg.DeepSyncWindow < cfg.DeepCheckWindow {
		cfg.DeepSyncWindow = cfg.DeepCheckWindow
	}
	return &SyncService{
		accounts: accounts,
		posts:    posts,
		comments: comments,
		platform: client,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *SyncService) window(mode SyncMode) int {
	if mode == ModeDeep {
		return s.cfg.DeepSyncWindow
	}
	return s.cfg.HybridWindow
}

// Sync fetches the account's post window and stores every new or changed comment.
// Comments needing classification are returned in fetch order. Failures of a single
// post are logged and counted; a permission failure aborts the run.
func (s *SyncService) Sync(ctx context.Context, accountID uint, mode SyncMode) (res *SyncResult, err error) {
	ctx, span := observability.StartSpan(ctx, "sync", "account",
		attribute.Int64("account_id", int64(accountID)),
		attribute.String("mode", string(mode)),
	)
	done := observability.TrackSync(string(mode))
	defer func() {
		done(err)
		observability.EndSpan(span, err)
	}()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Token(ctx, account)
	if err != nil {
		return nil, err
	}

	remote, err := s.platform.ListRecentPosts(ctx, account.ExternalID, token, s.window(mode))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	ids := make([]string, len(remote))
	for i, p := range remote {
		ids[i] = p.ID
	}
	stored, err := s.posts.FindByExternalIDs(ctx, account.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}

	res = &SyncResult{}
	for i, rp := range remote {
		post := stored[rp.ID]
		if post == nil {
			post = &models.Post{AccountID: account.ID, ExternalID: rp.ID, Caption: rp.Caption, PostedAt: rp.PostedAt}
			if err := s.posts.Create(ctx, post); err != nil {
				middleware.Logger.ErrorContext(ctx, "failed to store post",
					slog.String("post", rp.ID), slog.String("error", err.Error()))
				res.PostErrors++
				continue
			}
		}

		if !needsInspection(mode, i, s.cfg.DeepCheckWindow, post, rp) {
			continue
		}

		if err := s.syncPost(ctx, account, post, rp, token, res); err != nil {
			if errors.Is(err, platform.ErrPermission) {
				return res, err
			}
			middleware.Logger.WarnContext(ctx, "post sync failed, continuing",
				slog.String("post", rp.ID), slog.String("error", err.Error()))
			res.PostErrors++
			continue
		}
		res.PostsTouched++
	}

	if err := s.accounts.MarkSynced(ctx, account.ID, mode == ModeDeep, s.now()); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to record sync time", slog.String("error", err.Error()))
	}

	middleware.Logger.InfoContext(ctx, "account synced",
		slog.String("mode", string(mode)),
		slog.Int("posts_touched", res.PostsTouched),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("post_errors", res.PostErrors),
	)
	return res, nil
}

// needsInspection applies the deep-check / signal-check rule. A post that was
// never inspected successfully is always inspected.
func needsInspection(mode SyncMode, index, deepCheck int, post *models.Post, rp platform.Post) bool {
	switch {
	case mode == ModeDeep:
		return true
	case index < deepCheck:
		return true
	case post.LastCheckedAt == nil:
		return true
	default:
		return post.CommentCount != rp.CommentCount
	}
}

func (s *SyncService) syncPost(ctx context.Context, account *models.Account, post *models.Post, rp platform.Post, token string, res *SyncResult) error {
	remote, err := s.platform.ListComments(ctx, rp.ID, token)
	if err != nil {
		return fmt.Errorf("list comments of %s: %w", rp.ID, err)
	}

	ids := make([]string, len(remote))
	for i, c := range remote {
		ids[i] = c.ID
	}
	existing, err := s.comments.FindByExternalIDs(ctx, account.ID, ids)
	if err != nil {
		return fmt.Errorf("load comments of %s: %w", rp.ID, err)
	}

	seen := make(map[string]*models.Comment, len(remote))
	failed := 0
	for _, rc := range parentsFirst(remote) {
		stored, err := s.syncComment(ctx, account.ID, post.ID, rc, existing[rc.ID], seen, res)
		if err != nil {
			failed++
			middleware.Logger.WarnContext(ctx, "comment sync failed, continuing",
				slog.String("comment", rc.ID), slog.String("error", err.Error()))
			continue
		}
		seen[rc.ID] = stored
	}
	// Leave the stored count stale so the next signal check revisits the post.
	if failed > 0 {
		return fmt.Errorf("%d of %d comments of %s failed", failed, len(remote), rp.ID)
	}

	now := s.now()
	post.Caption = rp.Caption
	post.CommentCount = rp.CommentCount
	post.LastCheckedAt = &now
	return s.posts.Update(ctx, post)
}

func (s *SyncService) syncComment(
	ctx context.Context,
	accountID, postID uint,
	rc platform.Comment,
	stored *models.Comment,
	seen map[string]*models.Comment,
	res *SyncResult,
) (*models.Comment, error) {
	parentID, err := s.resolveParent(ctx, accountID, rc.ParentID, seen)
	if err != nil {
		return nil, err
	}

	if stored == nil {
		c := &models.Comment{
			AccountID:        accountID,
			PostID:           postID,
			ExternalID:       rc.ID,
			ParentID:         parentID,
			ParentExternalID: rc.ParentID,
			Text:             rc.Text,
			CommenterID:      rc.CommenterID,
			CommenterName:    rc.CommenterName,
			CommentedAt:      rc.CreatedAt,
			IsHidden:         rc.Hidden,
		}
		if err := s.comments.Create(ctx, c); err != nil {
			return nil, err
		}
		res.Created++
		res.Enqueued = append(res.Enqueued, c.ID)
		observability.CommentsSynced.WithLabelValues("created").Inc()
		return c, nil
	}

	if stored.ParentID == nil && parentID != nil {
		if err := s.comments.UpdateFields(ctx, stored.ID, map[string]interface{}{"parent_id": *parentID}); err != nil {
			return nil, err
		}
		stored.ParentID = parentID
	}

	switch {
	case models.HashText(rc.Text) != stored.TextHash:
		stored.Text = rc.Text
		stored.CommenterName = rc.CommenterName
		stored.IsHidden = rc.Hidden
		if err := s.comments.UpdateText(ctx, stored); err != nil {
			return nil, err
		}
		res.Updated++
		res.Enqueued = append(res.Enqueued, stored.ID)
		observability.CommentsSynced.WithLabelValues("updated").Inc()
	case stored.IsHidden != rc.Hidden:
		if err := s.comments.UpdateVisibility(ctx, stored.ID, rc.Hidden); err != nil {
			return nil, err
		}
		stored.IsHidden = rc.Hidden
		res.Updated++
		res.VisibilityChanged++
		observability.CommentsSynced.WithLabelValues("visibility").Inc()
	}
	return stored, nil
}

// resolveParent checks comments already processed in this run before the database.
// An unknown parent leaves the reply unlinked; ParentExternalID still records it.
func (s *SyncService) resolveParent(ctx context.Context, accountID uint, parentExternalID string, seen map[string]*models.Comment) (*uint, error) {
	if parentExternalID == "" {
		return nil, nil
	}
	if p, ok := seen[parentExternalID]; ok {
		id := p.ID
		return &id, nil
	}
	p, err := s.comments.FindByExternalID(ctx, accountID, parentExternalID)
	if err != nil {
		return nil, fmt.Errorf("parent lookup: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	id := p.ID
	return &id, nil
}

// parentsFirst keeps fetch order but moves a parent that appears later in the
// batch ahead of its first reply.
func parentsFirst(comments []platform.Comment) []platform.Comment {
	index := make(map[string]int, len(comments))
	for i, c := range comments {
		index[c.ID] = i
	}

	out := make([]platform.Comment, 0, len(comments))
	emitted := make([]bool, len(comments))
	var emit func(i int, depth int)
	emit = func(i int, depth int) {
		if emitted[i] {
			return
		}
		emitted[i] = true
		if p, ok := index[comments[i].ParentID]; ok && depth < len(comments) {
			emit(p, depth+1)
		}
		out = append(out, comments[i])
	}
	for i := range comments {
		emit(i, 0)
	}
	return out
}
