// Package notifications delivers review-queue events to connected reviewers.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"commentguard/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const reviewChannelPattern = "review:account:*"

// Event types published on the review feed.
const (
	EventCommentFlagged  = "comment_flagged"
	EventCommentReviewed = "comment_reviewed"
	EventActionFailed    = "action_failed"
)

// ReviewEvent is one change to an account's review queue.
type ReviewEvent struct {
	Type      string    `json:"type"`
	AccountID uint      `json:"account_id"`
	CommentID uint      `json:"comment_id"`
	Status    string    `json:"status"`
	Category  string    `json:"category,omitempty"`
	RiskScore int       `json:"risk_score"`
	Action    string    `json:"action,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher is implemented by Notifier (Redis fan-out) and Hub (in-process delivery).
type Publisher interface {
	PublishReviewEvent(ctx context.Context, ev ReviewEvent) error
}

// Notifier publishes review events into Redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// AccountChannel derives the Redis channel name for an account's review feed.
func AccountChannel(accountID uint) string {
	return "review:account:" + strconv.FormatUint(uint64(accountID), 10)
}

// PublishReviewEvent sends ev to the account's channel. A nil client is a no-op.
func (n *Notifier) PublishReviewEvent(ctx context.Context, ev ReviewEvent) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal review event: %w", err)
	}
	return n.rdb.Publish(ctx, AccountChannel(ev.AccountID), payload).Err()
}

// StartReviewSubscriber subscribes to every account feed and calls onMessage with
// the account id and raw payload until ctx is cancelled.
func (n *Notifier) StartReviewSubscriber(ctx context.Context, onMessage func(accountID uint, payload string)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, reviewChannelPattern)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", reviewChannelPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var accountID uint
				if _, err := fmt.Sscanf(msg.Channel, "review:account:%d", &accountID); err != nil {
					middleware.Logger.Warn("invalid review channel", slog.String("channel", msg.Channel))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("review subscriber panicked",
								slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
						}
					}()
					onMessage(accountID, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
