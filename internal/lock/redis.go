package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
)

const (
	defaultKeyPrefix  = "approvals:lock:"
	defaultRetryDelay = 25 * time.Millisecond
	releaseTimeout    = 2 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block the key.
	TTL time.Duration
	// Timeout bounds the wait in Acquire. Zero waits until ctx is done.
	Timeout    time.Duration
	RetryDelay time.Duration
	KeyPrefix  string
}

// RedisLocker is a distributed lock built on SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    *logger.Logger
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, log *logger.Logger) *RedisLocker {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: client, cfg: cfg, log: log}
}

// Acquire polls until the key is set with a fresh token, ctx is done or the
// configured timeout elapses.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	redisKey := l.cfg.KeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), errors.ErrCodeUnavailable, "timed out waiting for lock "+key)
			}
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to acquire lock "+key)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeUnavailable, "timed out waiting for lock "+key)
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(redisKey, token) })
	}, nil
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.log.Warn().Err(err).Str("key", redisKey).Msg("Failed to release lock")
	}
}
