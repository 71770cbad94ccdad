package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"sentinel/internal/monitor"
	"sentinel/pkg/config"
)

// Per-IP rate limiters, reset wholesale on a fixed cadence rather than
// evicted individually — the teacher's own tradeoff: simpler than an
// LRU, acceptable because a burst of fresh limiters after a reset only
// ever costs a client its burst allowance once.
var (
	ipLimiters = make(map[string]*rate.Limiter)
	ipMu       sync.RWMutex
)

func getIPLimiter(ip string) *rate.Limiter {
	ipMu.RLock()
	limiter, exists := ipLimiters[ip]
	ipMu.RUnlock()
	if exists {
		return limiter
	}

	ipMu.Lock()
	defer ipMu.Unlock()
	if limiter, exists := ipLimiters[ip]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(20), 50)
	ipLimiters[ip] = limiter
	return limiter
}

func init() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ipMu.Lock()
			ipLimiters = make(map[string]*rate.Limiter)
			ipMu.Unlock()
		}
	}()
}

// CORSMiddleware allows any origin — the surface is consumed by a local
// owner dashboard, not served to third-party browsers.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-Id, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware tags every request/response pair for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("RequestID", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// RateLimitMiddleware caps each client IP at 20 req/s, burst 50.
func RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getIPLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"code": "RATE_LIMITED", "error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// TimeoutMiddleware bounds handler execution; a handler that panics or
// overruns the deadline gets a clean response instead of hanging the
// connection.
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		finished := make(chan struct{})
		panicked := make(chan any, 1)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(finished)
		}()

		select {
		case p := <-panicked:
			log.Printf("[api] panic: %v", p)
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "internal server error"})
			c.Abort()
		case <-finished:
		case <-ctx.Done():
			log.Printf("[api] timeout: %s %s", c.Request.Method, c.Request.URL.Path)
			c.JSON(http.StatusRequestTimeout, gin.H{"code": "TIMEOUT", "error": "request took too long"})
			c.Abort()
		}
	}
}

// RequestLogger logs every request with latency and status, and folds
// both into metrics.
func RequestLogger(metrics *monitor.SystemMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if metrics != nil {
			metrics.IncrementAPI()
			metrics.APILatency.RecordDuration(latency)
			if status >= 400 {
				metrics.IncrementAPIErrors()
			}
		}

		id := c.GetString("RequestID")
		if len(id) > 8 {
			id = id[:8]
		}
		log.Printf("[api] %s | %s %s | %d | %v | %s", id, method, path, status, latency, c.ClientIP())
	}
}

// OwnerAuthMiddleware enforces spec §6.1's state-changing endpoint rule:
// a configured owner identifier must be present in Config, and the
// caller's X-Owner-Id header must match it exactly.
func OwnerAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.OwnerID == "" {
			respondError(c, http.StatusForbidden, "OWNER_UNCONFIGURED", "no owner identifier is configured")
			c.Abort()
			return
		}
		if c.GetHeader("X-Owner-Id") != cfg.OwnerID {
			respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or incorrect X-Owner-Id header")
			c.Abort()
			return
		}
		c.Set("actor", cfg.OwnerID)
		c.Next()
	}
}

// actor returns the authenticated owner identifier set by
// OwnerAuthMiddleware, or the literal "owner" for routes that don't run
// behind it (there are none among the mutating handlers, but callers
// should not crash if one is ever added without the middleware).
func actor(c *gin.Context) string {
	if v, ok := c.Get("actor"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "owner"
}
