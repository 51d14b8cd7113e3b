// Package ratelimit is a Redis token bucket shared by every API replica.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter allows limit attempts per window for each key.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// New returns a Limiter whose keys live under "rl:"+prefix.
func New(rdb *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// refill is the time one token takes to come back.
func (l *Limiter) refill() time.Duration {
	if l.limit <= 0 {
		return 0
	}
	return l.window / time.Duration(l.limit)
}

// Allow takes a token from key's bucket. When Redis fails it reports true
// together with the error: callers log and let the request through.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	refill := l.refill().Milliseconds()
	if refill < 1 {
		refill = 1
	}
	res, err := bucket.Run(ctx, l.rdb, []string{l.prefix + key}, l.limit, refill, time.Now().UnixMilli()).Int()
	if err != nil {
		return true, err
	}
	return res == 1, nil
}

// Reset forgets key's bucket, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Del(ctx, l.prefix+key).Err()
}

// Middleware limits requests per keyFunc(c). An empty key is not limited,
// and neither is anything on a nil Limiter.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		ok, err := l.Allow(ctx, key)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("limiter", l.prefix).Msg("rate limit")
		}
		if !ok {
			secs := int(l.refill().Round(time.Second) / time.Second)
			c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": "rate_limited", "message": "too many requests"}})
			return
		}
		c.Next()
	}
}

// bucket keeps the remaining tokens and the last refill time in a hash per key.
var bucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
else
  local add = math.floor((now - ts) / interval)
  if add > 0 then
    tokens = math.min(tokens + add, capacity)
    ts = ts + add * interval
  end
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, interval * capacity)
return allowed
`)
