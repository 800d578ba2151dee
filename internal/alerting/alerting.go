// Package alerting notifies operators when a decision crosses the escalation score.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"commentguard/internal/middleware"

	"github.com/mymmrac/telego"
)

// Escalation is what an operator needs to triage an alert.
type Escalation struct {
	AccountID     uint
	CommentID     uint
	CommenterName string
	Category      string
	RiskScore     int
	Action        string
	Excerpt       string
}

// Alerter delivers escalations. Implementations never fail the pipeline.
type Alerter interface {
	Escalate(ctx context.Context, e Escalation)
}

// Noop drops every alert. It is used when no chat is configured.
type Noop struct{}

func (Noop) Escalate(context.Context, Escalation) {}

// Sender is the subset of *telego.Bot used here.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Telegram posts escalations to one chat.
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram builds a Telegram alerter from a bot token. An empty token or chat
// yields Noop.
func NewTelegram(token string, chatID int64) (Alerter, error) {
	if token == "" || chatID == 0 {
		return Noop{}, nil
	}
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{sender: bot, chatID: chatID}, nil
}

// NewTelegramWithSender is NewTelegram for an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID}
}

const maxExcerpt = 280

func (t *Telegram) Escalate(ctx context.Context, e Escalation) {
	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   FormatEscalation(e),
	}
	if _, err := t.sender.SendMessage(ctx, params); err != nil {
		middleware.Logger.WarnContext(ctx, "escalation alert failed",
			slog.Uint64("comment_id", uint64(e.CommentID)),
			slog.String("error", err.Error()),
		)
	}
}

// FormatEscalation renders the alert body.
func FormatEscalation(e Escalation) string {
	excerpt := strings.TrimSpace(e.Excerpt)
	if r := []rune(excerpt); len(r) > maxExcerpt {
		excerpt = string(r[:maxExcerpt]) + "…"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Escalation: %s (risk %d)\n", e.Category, e.RiskScore)
	fmt.Fprintf(&b, "Account %d, comment %d by %s\n", e.AccountID, e.CommentID, e.CommenterName)
	fmt.Fprintf(&b, "Action taken: %s\n", e.Action)
	if excerpt != "" {
		fmt.Fprintf(&b, "\n%s", excerpt)
	}
	return b.String()
}
