package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_NilClientIsNoop(t *testing.T) {
	n := NewNotifier(nil)
	assert.NoError(t, n.PublishReviewEvent(context.Background(), ReviewEvent{AccountID: 1}))
	assert.NoError(t, n.StartReviewSubscriber(context.Background(), func(uint, string) {}))
}

func TestAccountChannel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "review:account:1", AccountChannel(1))
	assert.Equal(t, "review:account:100", AccountChannel(100))
}

func TestNotifier_RoundTripThroughHub(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	hub := NewHub()
	client, err := hub.Register(1, []uint{9}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, hub.StartWiring(ctx, n))

	require.NoError(t, n.PublishReviewEvent(context.Background(), ReviewEvent{Type: EventCommentFlagged, AccountID: 9, CommentID: 3, RiskScore: 77}))
	require.NoError(t, n.PublishReviewEvent(context.Background(), ReviewEvent{Type: EventCommentFlagged, AccountID: 8, CommentID: 4}))

	var msg []byte
	require.Eventually(t, func() bool {
		select {
		case msg = <-client.Send:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	var ev ReviewEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, uint(3), ev.CommentID)
	assert.Equal(t, 77, ev.RiskScore)

	assert.Never(t, func() bool { return len(client.Send) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNotifier_SubscriberStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	n := NewNotifier(rdb)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var seen []uint
	require.NoError(t, n.StartReviewSubscriber(ctx, func(accountID uint, _ string) {
		mu.Lock()
		seen = append(seen, accountID)
		mu.Unlock()
	}))

	require.NoError(t, n.PublishReviewEvent(context.Background(), ReviewEvent{AccountID: 1}))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, n.PublishReviewEvent(context.Background(), ReviewEvent{AccountID: 2}))
	assert.Never(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 1
	}, 200*time.Millisecond, 10*time.Millisecond)
}
