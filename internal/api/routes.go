package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitewatch/internal/config"
	"sitewatch/internal/crypto"
	"sitewatch/internal/models"
	"sitewatch/internal/services"
)

// Handler holds service dependencies
type Handler struct {
	cipher   *crypto.Cipher
	auth     *services.AuthService
	account  *services.AccountService
	fetcher  *services.FetcherService
	notifier *services.NotifierService

	tierLimits map[string]models.TierLimit
	policyURL  string

	quickCheckLimiter *keyedLimiter
	registerLimiter   *keyedLimiter
	resendLimiter     *keyedLimiter // Keyed by email hash
}

// NewHandler creates a new API handler
func NewHandler(cfg *config.Config, cipher *crypto.Cipher, auth *services.AuthService, account *services.AccountService, fetcher *services.FetcherService, notifier *services.NotifierService) *Handler {
	quickWindow := parseWindow(cfg.RateLimit.QuickCheckWindow, 15*time.Minute)
	registerWindow := parseWindow(cfg.RateLimit.RegisterWindow, 15*time.Minute)
	quickLimit := parseLimit(cfg.RateLimit.QuickCheckPerWindow, 10)
	registerLimit := parseLimit(cfg.RateLimit.RegisterPerWindow, 5)

	return &Handler{
		cipher:            cipher,
		auth:              auth,
		account:           account,
		fetcher:           fetcher,
		notifier:          notifier,
		tierLimits:        cfg.TierLimits(),
		policyURL:         cfg.Privacy.PolicyURL,
		quickCheckLimiter: newKeyedLimiter(quickLimit, quickWindow),
		registerLimiter:   newKeyedLimiter(registerLimit, registerWindow),
		resendLimiter:     newKeyedLimiter(registerLimit, registerWindow),
	}
}

func parseWindow(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

func parseLimit(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	registerValidators()

	// Anonymous quick check, deliberately outside the versioned prefix
	r.POST("/try", RateLimitByIP(h.quickCheckLimiter), h.QuickCheckPost)
	r.GET("/check", RateLimitByIP(h.quickCheckLimiter), h.QuickCheckGet)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/health", h.Health)

		// Registration and verification (no key required)
		api.POST("/auth/register", RateLimitByIP(h.registerLimiter), h.Register)
		api.POST("/auth/verify-email", h.VerifyEmail)
		api.POST("/auth/resend-verification", h.ResendVerification)
		api.GET("/auth/unsubscribe", h.Unsubscribe)

		authed := api.Group("", h.APIKeyAuth())
		{
			// Account data lifecycle
			authed.GET("/auth/account/data", h.ExportAccount)
			authed.PATCH("/auth/account", h.UpdateAccount)
			authed.DELETE("/auth/account", h.DeleteAccount)

			// Watch management
			authed.POST("/watches", RequireVerified(), h.CreateWatch)
			authed.GET("/watches", h.ListWatches)
			authed.GET("/watches/:id", h.GetWatch)
			authed.PATCH("/watches/:id", h.UpdateWatch)
			authed.DELETE("/watches/:id", h.DeleteWatch)

			// Report read
			authed.GET("/reports", h.ListReports)
			authed.GET("/reports/:id", h.GetReport)
		}
	}
}

// registerValidators adds custom binding rules on top of gin's validator
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	// Watch names stay short enough for email subjects and list views
	_ = v.RegisterValidation("watchname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		return len(name) >= 1 && len(name) <= 120
	})
}
