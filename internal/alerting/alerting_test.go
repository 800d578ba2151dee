package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type senderStub struct {
	sent []*telego.SendMessageParams
	err  error
}

func (s *senderStub) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	s.sent = append(s.sent, p)
	return &telego.Message{}, s.err
}

func TestTelegramEscalate(t *testing.T) {
	stub := &senderStub{}
	alerter := NewTelegramWithSender(stub, -100123)

	alerter.Escalate(context.Background(), Escalation{
		AccountID:     4,
		CommentID:     99,
		CommenterName: "mallory",
		Category:      "blackmail",
		RiskScore:     97,
		Action:        "delete",
		Excerpt:       "pay me or else",
	})

	require.Len(t, stub.sent, 1)
	assert.Equal(t, int64(-100123), stub.sent[0].ChatID.ID)
	assert.Contains(t, stub.sent[0].Text, "blackmail (risk 97)")
	assert.Contains(t, stub.sent[0].Text, "mallory")
	assert.Contains(t, stub.sent[0].Text, "pay me or else")
}

func TestTelegramEscalateSwallowsErrors(t *testing.T) {
	stub := &senderStub{err: errors.New("network")}
	alerter := NewTelegramWithSender(stub, 1)
	assert.NotPanics(t, func() {
		alerter.Escalate(context.Background(), Escalation{CommentID: 1})
	})
}

func TestNewTelegramUnconfigured(t *testing.T) {
	a, err := NewTelegram("", 0)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, a)
}

func TestFormatEscalationTruncates(t *testing.T) {
	body := FormatEscalation(Escalation{Excerpt: strings.Repeat("x", 400)})
	assert.Contains(t, body, strings.Repeat("x", maxExcerpt)+"…")
	assert.NotContains(t, body, strings.Repeat("x", maxExcerpt+1))
}
