//go:build integration
// +build integration

package redis_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ticketrush/onsale-service/internal/domain"
	rediscache "github.com/ticketrush/onsale-service/internal/infrastructure/redis"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *rediscache.Cache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	return rediscache.New(addr, "", 0)
}

func TestQueue_JoinOrderAndPositions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()
	t.Cleanup(func() { _ = cache.ClearQueue(context.Background(), eventID) })

	base := time.Now()
	tokens := make([]string, 5)
	for i := range tokens {
		tokens[i] = uuid.NewString()
		require.NoError(t, cache.Enqueue(ctx, eventID, tokens[i], "user", base.Add(time.Duration(i)*time.Millisecond), time.Minute))
	}

	for i, tok := range tokens {
		pos, total, err := cache.Position(ctx, eventID, tok)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), pos, "positions are 1-indexed join order")
		require.Equal(t, int64(5), total)
	}

	user, err := cache.TokenUser(ctx, eventID, tokens[0])
	require.NoError(t, err)
	require.Equal(t, "user", user)

	_, err = cache.TokenUser(ctx, eventID, "never-joined")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestQueue_ExpiredTokenPruned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()
	t.Cleanup(func() { _ = cache.ClearQueue(context.Background(), eventID) })

	tok := uuid.NewString()
	require.NoError(t, cache.Enqueue(ctx, eventID, tok, "user", time.Now(), 50*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	_, err := cache.TokenUser(ctx, eventID, tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// the lazy prune removed the stale queue member
	n, err := cache.QueueLength(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestAdvanceWave_InitAndGating(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()
	t.Cleanup(func() { _ = cache.ClearQueue(context.Background(), eventID) })

	now := time.Now()

	// first observation: wave_end = min(total, size)
	we, err := cache.AdvanceWave(ctx, eventID, 250, now, 100, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(100), we)

	// inside the interval: no movement
	we, err = cache.AdvanceWave(ctx, eventID, 250, now.Add(10*time.Second), 100, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(100), we)

	// interval elapsed: advance one wave
	we, err = cache.AdvanceWave(ctx, eventID, 250, now.Add(31*time.Second), 100, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(200), we)

	// clamp at total
	we, err = cache.AdvanceWave(ctx, eventID, 250, now.Add(62*time.Second), 100, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(250), we)
}

func TestAdvanceWave_ConcurrentPollsAdvanceOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()
	t.Cleanup(func() { _ = cache.ClearQueue(context.Background(), eventID) })

	now := time.Now()
	_, err := cache.AdvanceWave(ctx, eventID, 1000, now, 100, 30*time.Second)
	require.NoError(t, err)

	// Many racing polls past the interval: the script admits one advance.
	later := now.Add(31 * time.Second)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			we, err := cache.AdvanceWave(ctx, eventID, 1000, later, 100, 30*time.Second)
			if err == nil {
				results <- we
			}
		}()
	}
	wg.Wait()
	close(results)

	for we := range results {
		require.Equal(t, int64(200), we, "losers observe the winner's cursor")
	}
}

func TestGrantAdmission_TTL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()
	tok := uuid.NewString()

	ok, err := cache.HasAdmission(ctx, eventID, tok)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.GrantAdmission(ctx, eventID, tok, 100*time.Millisecond))

	ok, err = cache.HasAdmission(ctx, eventID, tok)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(150 * time.Millisecond)
	ok, err = cache.HasAdmission(ctx, eventID, tok)
	require.NoError(t, err)
	require.False(t, ok, "grant runs out on its TTL")
}

func TestClearQueue_DropsEverything(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	eventID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Enqueue(ctx, eventID, uuid.NewString(), "user", time.Now(), time.Minute))
	}
	_, err := cache.AdvanceWave(ctx, eventID, 3, time.Now(), 100, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, cache.ClearQueue(ctx, eventID))

	n, err := cache.QueueLength(ctx, eventID)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	// wave cursor reinitialises on the next poll
	we, err := cache.AdvanceWave(ctx, eventID, 40, time.Now(), 100, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(40), we)
}

func TestAllowRequest_FixedWindow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := cache.AllowRequest(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := cache.AllowRequest(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "fourth request in the window is rejected")
}
