package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sitewatch/internal/models"
	"sitewatch/internal/services"
)

const tenantKey = "tenant"

// detail is the stable error envelope of every non-2xx response
func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// APIKeyAuth resolves the X-API-Key header to a tenant. Missing or unknown
// keys are a 401 with no further detail.
func (h *Handler) APIKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, err := h.auth.ValidateAPIKey(c.GetHeader("X-API-Key"))
		if err != nil {
			detail(c, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

// RequireVerified gates endpoints reserved for verified tenants
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := CurrentTenant(c)
		if tenant == nil || !tenant.Verified {
			detail(c, http.StatusForbidden, "email verification required")
			return
		}
		c.Next()
	}
}

// CurrentTenant returns the authenticated tenant set by APIKeyAuth
func CurrentTenant(c *gin.Context) *models.Tenant {
	value, ok := c.Get(tenantKey)
	if !ok {
		return nil
	}
	tenant, _ := value.(*models.Tenant)
	return tenant
}

// keyedLimiter is an in-memory rate-limit table keyed by IP or email. The
// counters are per-process and advisory: loss on restart is acceptable.
type keyedLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newKeyedLimiter allows n events per window for each distinct key
func newKeyedLimiter(n int, window time.Duration) *keyedLimiter {
	return &keyedLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(window / time.Duration(n)),
		burst:   n,
	}
}

// Allow reports whether the key may proceed, and prunes stale entries
func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	for other, entry := range k.entries {
		if now.Sub(entry.lastSeen) > time.Hour {
			delete(k.entries, other)
		}
	}

	entry, ok := k.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// RateLimitByIP applies a keyed limiter to the client IP
func RateLimitByIP(limiter *keyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			detail(c, http.StatusTooManyRequests, "too many requests, try again later")
			return
		}
		c.Next()
	}
}

// mapServiceError translates sentinel service errors into HTTP statuses
func mapServiceError(c *gin.Context, err error) {
	switch err {
	case services.ErrNotFound:
		detail(c, http.StatusNotFound, "not found")
	case services.ErrForbidden:
		detail(c, http.StatusForbidden, "forbidden")
	case services.ErrConflict:
		detail(c, http.StatusConflict, "already exists")
	case services.ErrRateLimited:
		detail(c, http.StatusTooManyRequests, "too many attempts, try again later")
	case services.ErrInvalidCode:
		detail(c, http.StatusBadRequest, "invalid or expired code")
	case services.ErrInvalidToken:
		detail(c, http.StatusUnauthorized, "invalid token")
	case services.ErrUnverified:
		detail(c, http.StatusForbidden, "email verification required")
	default:
		detail(c, http.StatusInternalServerError, "internal error")
	}
}
