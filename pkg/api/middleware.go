package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS headers, adapted unchanged from the teacher's
// mesh storage API since cross-origin browser clients need the same
// treatment regardless of what the endpoints carry.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

type rateCounter struct {
	count     int
	resetTime time.Time
}

// RateLimiter tracks request rates per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*rateCounter
	limit    int
	window   time.Duration
}

// NewRateLimiter returns a limiter allowing requestsPerMinute per IP.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*rateCounter),
		limit:    requestsPerMinute,
		window:   time.Minute,
	}
}

// Allow reports whether a request from ip should proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	counter, ok := rl.requests[ip]
	now := time.Now()
	if !ok || now.After(counter.resetTime) {
		rl.requests[ip] = &rateCounter{count: 1, resetTime: now.Add(rl.window)}
		return true
	}
	if counter.count >= rl.limit {
		return false
	}
	counter.count++
	return true
}

// RateLimitMiddleware rejects requests beyond requestsPerMinute per client
// IP, matching the teacher's per-IP sliding-counter policy.
func RateLimitMiddleware(requestsPerMinute int) gin.HandlerFunc {
	limiter := NewRateLimiter(requestsPerMinute)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoggingMiddleware logs each request's method, path, status, and latency
// through logger instead of the teacher's colored fmt.Printf lines, to stay
// consistent with this module's structured-logging convention.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"latency", time.Since(start),
		)
	}
}
