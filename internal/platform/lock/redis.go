package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// RedisLocker is a Locker shared by every replica. Each hold is a SET NX key
// with a random token; a watchdog extends the TTL while held so a long turn
// does not lose the lock, and a crashed holder frees it after TTL.
type RedisLocker struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	minWait time.Duration
	maxWait time.Duration
	release *redis.Script
	refresh *redis.Script
	logger  zerolog.Logger
}

func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		minWait: 20 * time.Millisecond,
		maxWait: 250 * time.Millisecond,
		release: redis.NewScript(releaseScript),
		refresh: redis.NewScript(refreshScript),
		logger:  logger,
	}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	wait := l.minWait

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-time.After(wait):
		}
		if wait *= 2; wait > l.maxWait {
			wait = l.maxWait
		}
	}

	stop := make(chan struct{})
	go l.watchdog(k, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			res, err := l.release.Run(rctx, l.client, []string{k}, token).Int64()
			if err != nil {
				l.logger.Error().Err(err).Str("key", k).Msg("release lock failed")
				return
			}
			if res == 0 {
				l.logger.Warn().Str("key", k).Msg("lock expired before release")
			}
		})
	}, nil
}

func (l *RedisLocker) watchdog(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			res, err := l.refresh.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.logger.Warn().Err(err).Str("key", key).Msg("refresh lock failed")
				continue
			}
			if res == 0 {
				return
			}
		}
	}
}
