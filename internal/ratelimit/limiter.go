package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/logger"
)

const (
	defaultKeyPrefix = "rl"
	defaultTimeout   = 100 * time.Millisecond
)

// The whole token bucket round trip runs server side: read the bucket,
// refill from elapsed time, apply the cost, persist. One EVAL per call,
// so two racing requests can never both spend the last token.
// Time comes in as an argument to keep the script deterministic
const tokenBucketScript = `
local tokens = tonumber(redis.call("HGET", KEYS[1], "tokens"))
local refilled_at = tonumber(redis.call("HGET", KEYS[1], "refilled_at"))

local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now_us = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

if tokens == nil or refilled_at == nil then
  tokens = capacity
  refilled_at = now_us
elseif now_us > refilled_at then
  local refilled = (now_us - refilled_at) / 1000000 * rate
  tokens = math.min(capacity, tokens + refilled)
  refilled_at = now_us
end

local allowed = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "refilled_at", refilled_at)
redis.call("PEXPIRE", KEYS[1], ttl_ms)

return allowed
`

var tokenBucketLua = redis.NewScript(tokenBucketScript)

type Config struct {
	// Bucket capacity and steady refill rate in tokens per second
	Capacity   float64
	RefillRate float64

	// Refuse requests when the backing store cannot answer. Off by
	// default: the limiter then admits with a warning, trading strict
	// enforcement for availability
	FailClosed bool

	// Per-call deadline for the store round trip
	// If not set the default is used
	Timeout time.Duration

	// Redis key namespace
	// If not set the default is used
	KeyPrefix string
}

// Limiter is an atomic token bucket on Redis, one bucket per scope key
type Limiter struct {
	redis      redis.UniversalClient
	capacity   float64
	refillRate float64
	failClosed bool
	timeout    time.Duration
	keyPrefix  string
	logger     logger.Logger

	// Injectable clock, used by tests
	now func() time.Time
}

func New(redisClient redis.UniversalClient, cfg Config, l logger.Logger) (*Limiter, error) {
	if redisClient == nil {
		return nil, errors.New("redis client must not be nil")
	}
	if cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return nil, errors.New("capacity and refill rate must be positive")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Limiter{
		redis:      redisClient,
		capacity:   cfg.Capacity,
		refillRate: cfg.RefillRate,
		failClosed: cfg.FailClosed,
		timeout:    cfg.Timeout,
		keyPrefix:  cfg.KeyPrefix,
		logger:     l,
		now:        time.Now,
	}, nil
}

// Allow spends one token from the bucket of the scope key
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN spends 'cost' tokens from the bucket of the scope key.
// On store failure the configured policy decides: fail-open admits the
// request with a warning, fail-closed surfaces the store error
func (l *Limiter) AllowN(ctx context.Context, key string, cost float64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	// TTL long enough for an idle bucket to refill completely before the key dies
	ttl := time.Duration(l.capacity/l.refillRate*float64(time.Second)) * 2
	if ttl < time.Second {
		ttl = time.Second
	}

	allowed, err := tokenBucketLua.Run(ctx, l.redis,
		[]string{l.keyPrefix + ":" + key},
		l.capacity,
		l.refillRate,
		l.now().UnixMicro(),
		cost,
		ttl.Milliseconds(),
	).Int64()

	if err != nil {
		if l.failClosed {
			return false, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
		}

		l.logger.Warn("rate limit store unavailable, admitting request", "key", key, "error", err.Error())
		return true, nil
	}

	return allowed == 1, nil
}
