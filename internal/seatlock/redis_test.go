package seatlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts an in-memory miniredis server and a client for it.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, RedisOptions{Wait: 50 * time.Millisecond, Lease: time.Minute})
	ctx := context.Background()
	key := SeatKey("trip-1", 5)

	unlock, err := r.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, mr.Exists("seat_lock:"+key))

	token, err := mr.Get("seat_lock:" + key)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = r.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, mr.Exists("seat_lock:"+key))

	unlock, err = r.Acquire(ctx, key)
	require.NoError(t, err)
	unlock()
}

func TestRedis_ReleaseDoesNotDropForeignLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, RedisOptions{Wait: 50 * time.Millisecond, Lease: time.Second})
	ctx := context.Background()
	key := SeatKey("trip-1", 7)

	unlock, err := r.Acquire(ctx, key)
	require.NoError(t, err)

	// Lease runs out and another caller takes the seat.
	mr.FastForward(2 * time.Second)
	unlockOther, err := r.Acquire(ctx, key)
	require.NoError(t, err)

	unlock()
	assert.True(t, mr.Exists("seat_lock:"+key), "stale release removed the new owner's lock")

	unlockOther()
	assert.False(t, mr.Exists("seat_lock:"+key))
}

func TestRedis_ConcurrentAcquireSingleWinner(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, RedisOptions{Wait: 20 * time.Millisecond, Lease: time.Minute})
	key := SeatKey("trip-1", 12)

	var (
		mu       sync.Mutex
		winners  int
		timeouts int
		unlocks  []Unlock
		wg       sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := r.Acquire(context.Background(), key)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				unlocks = append(unlocks, unlock)
			} else if assert.ErrorIs(t, err, ErrLockTimeout) {
				timeouts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 9, timeouts)
	for _, u := range unlocks {
		u()
	}
}

func TestRedis_BackendDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, RedisOptions{Wait: 50 * time.Millisecond})
	mr.Close()

	_, err := r.Acquire(context.Background(), SeatKey("trip-1", 1))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
