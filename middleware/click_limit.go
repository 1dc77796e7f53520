// middleware/click_limit.go
package middleware

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// ClickLimiter caps petal clicks per user in fixed windows. With a Redis
// client the counters are shared across replicas; without one each process
// counts on its own.
type ClickLimiter struct {
	Redis  redis.UniversalClient
	Clock  clockwork.Clock
	Max    int
	Window time.Duration
	Prefix string
}

func NewClickLimiter(rdb redis.UniversalClient, max int, window time.Duration) *ClickLimiter {
	return &ClickLimiter{
		Redis:  rdb,
		Clock:  clockwork.NewRealClock(),
		Max:    max,
		Window: window,
		Prefix: "petals:click",
	}
}

// Handler returns the Fiber middleware. It must run after UserContextMiddleware.
func (l *ClickLimiter) Handler() fiber.Handler {
	if l.Max <= 0 || l.Window <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if l.Redis == nil {
		log.Println("⚠️  [CLICK_LIMIT] No Redis configured, using in-process limiter")
		return limiter.New(limiter.Config{
			Max:          l.Max,
			Expiration:   l.Window,
			KeyGenerator: UserID,
			LimitReached: func(c *fiber.Ctx) error {
				return Abort(c, fiber.StatusTooManyRequests, "rate_limited", "too many clicks, slow down")
			},
		})
	}
	return l.redisHandler
}

func (l *ClickLimiter) redisHandler(c *fiber.Ctx) error {
	now := l.Clock.Now()
	window := now.UnixNano() / int64(l.Window)
	key := fmt.Sprintf("%s:%s:%d", l.Prefix, UserID(c), window)

	ctx := c.UserContext()
	count, err := l.Redis.Incr(ctx, key).Result()
	if err != nil {
		// Redis being down should not stop petal clicks.
		log.Printf("⚠️  [CLICK_LIMIT] Redis INCR failed for %s: %v", key, err)
		return c.Next()
	}
	if count == 1 {
		if err := l.Redis.Expire(ctx, key, l.Window).Err(); err != nil {
			log.Printf("⚠️  [CLICK_LIMIT] Redis EXPIRE failed for %s: %v", key, err)
		}
	}

	remaining := int64(l.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(l.Max))
	c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

	if count > int64(l.Max) {
		reset := time.Unix(0, (window+1)*int64(l.Window)).Sub(now)
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(reset.Seconds())+1))
		return Abort(c, fiber.StatusTooManyRequests, "rate_limited", "too many clicks, slow down")
	}
	return c.Next()
}
