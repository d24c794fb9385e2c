package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Webhook intake throttle. Generous on purpose: gateways burst retries
// after an outage and dropping them only delays reconciliation.
const (
	webhookRate  = 50.0
	webhookBurst = 200
)

// WebhookLimiter throttles inbound webhook deliveries per provider.
type WebhookLimiter struct {
	bucket *TokenBucket
	log    *zap.Logger
}

func NewWebhookLimiter(client *redis.Client, log *zap.Logger) *WebhookLimiter {
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		log:    log.Named("ratelimit.webhook"),
	}
}

// Middleware answers 429 when the provider's bucket is drained. Redis
// errors fail open so a cache outage never blocks settlements.
func (l *WebhookLimiter) Middleware(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.bucket.Allow(c.Request.Context(), "webhook:rate:"+provider, webhookRate, webhookBurst)
		if err != nil {
			l.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{"type": "rate_limited", "message": "too many webhook deliveries"},
			})
			return
		}
		c.Next()
	}
}
