package notifications

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_DeliverRespectsAccountFilter(t *testing.T) {
	hub := NewHub()

	all, err := hub.Register(1, nil, nil)
	require.NoError(t, err)
	onlyTwo, err := hub.Register(2, []uint{2}, nil)
	require.NoError(t, err)

	require.NoError(t, hub.PublishReviewEvent(context.Background(), ReviewEvent{Type: EventCommentFlagged, AccountID: 1, CommentID: 10}))
	require.NoError(t, hub.PublishReviewEvent(context.Background(), ReviewEvent{Type: EventCommentFlagged, AccountID: 2, CommentID: 20}))

	assert.Len(t, drain(all), 2)
	got := drain(onlyTwo)
	require.Len(t, got, 1)

	var ev ReviewEvent
	require.NoError(t, json.Unmarshal(got[0], &ev))
	assert.Equal(t, uint(20), ev.CommentID)
	assert.False(t, ev.At.IsZero())
}

func TestHub_ConnectionLimits(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerReviewer; i++ {
		_, err := hub.Register(7, nil, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(7, nil, nil)
	assert.ErrorIs(t, err, ErrReviewerFull)

	_, err = hub.Register(8, nil, nil)
	assert.NoError(t, err)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(3, nil, nil)
	require.NoError(t, err)

	hub.UnregisterClient(c)
	hub.UnregisterClient(c)
	assert.Equal(t, 0, hub.Count())

	hub.Deliver(1, []byte("after"))
}

func TestHub_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(4, nil, nil)
	require.NoError(t, err)

	for i := 0; i < cap(c.Send)+5; i++ {
		c.TrySend([]byte("x"))
	}
	assert.Len(t, c.Send, cap(c.Send))
}

func TestHub_ShutdownRejectsNewClients(t *testing.T) {
	hub := NewHub()
	_, err := hub.Register(5, nil, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 0, hub.Count())

	_, err = hub.Register(5, nil, nil)
	assert.ErrorIs(t, err, ErrServerFull)
}
