package seatlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const defaultKeyPrefix = "seat_lock:"

// releaseScript deletes the key only while it still carries our token, so a
// caller whose lease ran out can never drop somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOptions struct {
	Prefix string
	// Lease bounds how long a crashed holder can keep a seat locked.
	Lease time.Duration
	Wait  time.Duration
	Retry time.Duration
}

// Redis is a cross-process locker built on SET NX PX with an owner token.
type Redis struct {
	Client *redis.Client
	opts   RedisOptions
}

func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = defaultKeyPrefix
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 25 * time.Millisecond
	}
	return &Redis{Client: client, opts: opts}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Unlock, error) {
	redisKey := r.opts.Prefix + key
	token := uuid.NewString()

	waitCtx := ctx
	if r.opts.Wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.opts.Wait)
		defer cancel()
	}

	retry := time.NewTimer(0)
	defer retry.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrLockTimeout
		case <-retry.C:
		}

		ok, err := r.Client.SetNX(ctx, redisKey, token, r.opts.Lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if ok {
			return r.unlockFunc(redisKey, token), nil
		}
		retry.Reset(r.opts.Retry)
	}
}

func (r *Redis) unlockFunc(redisKey, token string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// A failed release is recovered by the lease.
			_ = releaseScript.Run(ctx, r.Client, []string{redisKey}, token).Err()
		})
	}
}
