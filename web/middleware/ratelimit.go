package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig holds per-profile rate limiting settings.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket refilling at refillRate tokens/second.
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow checks if a request can proceed and consumes a token if so.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Remaining returns the number of tokens currently available.
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	return int(min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate)))
}

// ProfileRateLimiter tracks one bucket per profile. Retrieval and
// maintenance routes share the budget; a runaway caller on one profile
// cannot starve the rest.
type ProfileRateLimiter struct {
	config      RateLimiterConfig
	limits      map[string]*TokenBucket
	mu          sync.Mutex
	logger      *zap.Logger
	stopCleanup chan struct{}
}

// NewProfileRateLimiter creates the limiter and starts its cleanup routine.
func NewProfileRateLimiter(config RateLimiterConfig, logger *zap.Logger) *ProfileRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	limiter := &ProfileRateLimiter{
		config:      config,
		limits:      make(map[string]*TokenBucket),
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go limiter.cleanupRoutine()
	return limiter
}

func (prl *ProfileRateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(prl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			prl.cleanup()
		case <-prl.stopCleanup:
			return
		}
	}
}

// cleanup drops the bucket map when it grows past a sane population of
// active profiles. Dropped buckets refill on recreation, which only ever
// errs in the caller's favor.
func (prl *ProfileRateLimiter) cleanup() {
	prl.mu.Lock()
	defer prl.mu.Unlock()
	if len(prl.limits) > 1000 {
		prl.logger.Info("Cleaning up rate limiter cache", zap.Int("buckets", len(prl.limits)))
		prl.limits = make(map[string]*TokenBucket)
	}
}

// Stop stops the cleanup routine.
func (prl *ProfileRateLimiter) Stop() {
	close(prl.stopCleanup)
}

// Allow reports whether a request for the profile can proceed.
func (prl *ProfileRateLimiter) Allow(profileID string) bool {
	prl.mu.Lock()
	bucket, exists := prl.limits[profileID]
	if !exists {
		refillRate := float64(prl.config.RequestsPerMinute) / 60.0
		bucket = NewTokenBucket(float64(prl.config.BurstSize), refillRate)
		prl.limits[profileID] = bucket
	}
	prl.mu.Unlock()

	return bucket.Allow()
}

// Limit returns remaining tokens and the burst limit for a profile.
func (prl *ProfileRateLimiter) Limit(profileID string) (remaining int, limit int) {
	prl.mu.Lock()
	bucket, exists := prl.limits[profileID]
	prl.mu.Unlock()

	if !exists {
		return prl.config.BurstSize, prl.config.BurstSize
	}
	return bucket.Remaining(), prl.config.BurstSize
}

// RateLimitMiddleware limits requests per profile. The profile is read from
// the profile_id field of the JSON body, bound earlier by the handler chain,
// or from the X-Profile-ID header; requests without one share a bucket.
func RateLimitMiddleware(limiter *ProfileRateLimiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		profileID := c.GetHeader("X-Profile-ID")
		if profileID == "" {
			profileID = "anonymous"
		}

		allowed := limiter.Allow(profileID)
		remaining, limit := limiter.Limit(profileID)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			logger.Warn("Rate limit exceeded",
				zap.String("profile_id", profileID),
				zap.String("path", c.FullPath()),
				zap.Int("limit", limit))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       limit,
				"remaining":   remaining,
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}
