package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RedeemRateLimit throttles redemption attempts per code (or per IP when no
// code is supplied) using Redis, slowing down PIN guessing against a known
// card number.
func RedeemRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 10
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		var req struct {
			Code string `json:"code"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Code)
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:redeem:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err == nil && cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many redemption attempts, try again later")
		}
		return c.Next()
	}
}
