package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures the Redis fixed-window API limiter.
type RateLimitConfig struct {
	Redis      *redis.Client
	DefaultRPS int           // used when the owner has no own limit
	KeyPrefix  string        // default "rl:owner:"
	Window     time.Duration // default 1s
}

// RateLimitMiddleware caps API calls per owner and window. It runs after
// APIKeyMiddleware; unauthenticated requests and a missing Redis pass through.
// The API only queues work, so this guards the API itself, never the pacing
// of platform actions.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:owner:"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ownerID, ok := OwnerIDFromCtx(c)
			if !ok || cfg.Redis == nil {
				return next(c)
			}
			limit := cfg.DefaultRPS
			if v, ok := c.Get(ctxOwnerRPS).(int); ok && v > 0 {
				limit = v
			}
			if limit <= 0 {
				return next(c)
			}

			now := time.Now()
			slot := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + strconv.FormatInt(ownerID, 10) + ":" + strconv.FormatInt(slot, 10)

			ctx := c.Request().Context()
			pipe := cfg.Redis.TxPipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.PExpire(ctx, key, 2*cfg.Window)
			if _, err := pipe.Exec(ctx); err != nil {
				c.Logger().Warnf("rate limit check skipped: %v", err)
				return next(c)
			}

			if cnt.Val() > int64(limit) {
				remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
				c.Response().Header().Set("Retry-After", strconv.Itoa(int((remain+time.Second-1)/time.Second)))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
