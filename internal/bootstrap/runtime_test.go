package bootstrap

import (
	"context"
	"testing"
	"time"

	"commentguard/internal/config"
	"commentguard/internal/coordinator"
	"commentguard/internal/scheduler"
	"commentguard/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockSet(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("local backend", func(t *testing.T) {
		_, ok := lockSet(&config.Config{LocksetBackend: "local"}, rdb).(*coordinator.LocalLockSet)
		assert.True(t, ok)
	})
	t.Run("redis backend", func(t *testing.T) {
		_, ok := lockSet(&config.Config{LocksetBackend: "redis", LockTTLMinutes: 30}, rdb).(*coordinator.RedisLockSet)
		assert.True(t, ok)
	})
	t.Run("redis backend without a client falls back to local", func(t *testing.T) {
		_, ok := lockSet(&config.Config{LocksetBackend: "redis"}, nil).(*coordinator.LocalLockSet)
		assert.True(t, ok)
	})
}

func testRuntime(ctx context.Context) *Runtime {
	coord := coordinator.New(coordinator.NewLocalLockSet(), 1, 1)
	return &Runtime{
		Config: &config.Config{
			Env:              "test",
			ScheduleFastPoll: "@every 5m",
			ScheduleHourly:   "@hourly",
			ScheduleDeepSync: "0 3 * * *",
		},
		Worker:      service.NewAccountWorker(nil, nil, nil, nil, nil, nil),
		Coordinator: coord,
		Scheduler:   scheduler.New(ctx, nil, coord),
	}
}

func TestTriggers(t *testing.T) {
	rt := testRuntime(context.Background())

	triggers := rt.Triggers()
	require.Len(t, triggers, 3)

	got := map[string]string{}
	for _, tr := range triggers {
		got[tr.Job.Name] = tr.Spec
	}
	assert.Equal(t, map[string]string{
		"sync_hybrid": "@every 5m",
		"stats":       "@hourly",
		"sync_deep":   "0 3 * * *",
	}, got)
	assert.Equal(t, triggers[0].Job.Lock, triggers[2].Job.Lock, "hybrid and deep sync share a lock")
}

func TestStartScheduler_InvalidSpec(t *testing.T) {
	rt := testRuntime(context.Background())
	rt.Config.ScheduleHourly = "not a schedule"

	assert.Error(t, rt.StartScheduler())
}

func TestStartSchedulerAndClose(t *testing.T) {
	rt := testRuntime(context.Background())

	require.NoError(t, rt.StartScheduler())
	assert.Equal(t, 3, rt.Scheduler.Entries())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, rt.Close(ctx))
}
