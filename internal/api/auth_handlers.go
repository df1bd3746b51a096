package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sitewatch/internal/crypto"
	"sitewatch/internal/logger"
	"sitewatch/internal/services"
)

// Register creates a tenant and returns its one-time API key. The raw key
// never appears again; the verification code goes out by email.
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email           string `json:"email" binding:"required,email"`
		Name            string `json:"name" binding:"required"`
		PrivacyAccepted bool   `json:"privacy_accepted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "email and name are required")
		return
	}
	if !req.PrivacyAccepted {
		detail(c, http.StatusBadRequest, "privacy policy must be accepted")
		return
	}

	tenant, rawKey, code, err := h.account.Register(req.Email, req.Name, c.ClientIP())
	if err != nil {
		if err == services.ErrConflict {
			detail(c, http.StatusConflict, "email already registered")
			return
		}
		mapServiceError(c, err)
		return
	}

	if h.notifier.Enabled() {
		if err := h.notifier.SendVerificationCode(req.Email, code); err != nil {
			logger.L().Warn("verification email delivery failed",
				zap.String("email", crypto.MaskEmail(req.Email)), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":        rawKey,
		"email":          req.Email,
		"name":           req.Name,
		"tier":           tenant.Tier,
		"privacy_policy": h.policyURL,
	})
}

// VerifyEmail checks the 6-digit code sent at registration
func (h *Handler) VerifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Code  string `json:"code" binding:"required,len=6"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "email and 6-digit code are required")
		return
	}

	if err := h.auth.VerifyEmail(req.Email, req.Code); err != nil {
		if err == services.ErrNotFound {
			// Same answer as a wrong code: no email enumeration
			detail(c, http.StatusBadRequest, "invalid or expired code")
			return
		}
		mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

// ResendVerification re-issues a verification code. The response is a
// success envelope whether or not the email is registered, so the endpoint
// cannot be used to enumerate accounts.
func (h *Handler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "email is required")
		return
	}

	ok := gin.H{"status": "sent"}

	if !h.resendLimiter.Allow(services.HashEmail(req.Email)) {
		detail(c, http.StatusTooManyRequests, "too many requests, try again later")
		return
	}

	tenant, err := h.account.FindByEmail(req.Email)
	if err != nil || tenant.Verified {
		c.JSON(http.StatusOK, ok)
		return
	}

	code, err := h.auth.ResetVerifyCode(tenant)
	if err != nil {
		logger.L().Warn("failed to reset verification code", zap.Error(err))
		c.JSON(http.StatusOK, ok)
		return
	}

	if h.notifier.Enabled() {
		if err := h.notifier.SendVerificationCode(req.Email, code); err != nil {
			logger.L().Warn("verification email delivery failed",
				zap.String("email", crypto.MaskEmail(req.Email)), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, ok)
}

// ExportAccount returns every record owned by the caller (data access)
func (h *Handler) ExportAccount(c *gin.Context) {
	export, err := h.account.Export(CurrentTenant(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, export)
}

// UpdateAccount rectifies mutable profile fields
func (h *Handler) UpdateAccount(c *gin.Context) {
	var req struct {
		Name *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid payload")
		return
	}

	updated := []string{}
	if req.Name != nil && *req.Name != "" {
		if err := h.account.UpdateName(CurrentTenant(c), *req.Name); err != nil {
			detail(c, http.StatusInternalServerError, "internal error")
			return
		}
		updated = append(updated, "name")
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated", "updated_fields": updated})
}

// DeleteAccount erases the tenant and everything it owns
func (h *Handler) DeleteAccount(c *gin.Context) {
	summary, err := h.account.Delete(c.Request.Context(), CurrentTenant(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "deleted",
		"data_deleted": summary,
	})
}

// Unsubscribe disables notifications for all watches owned by the email.
// The link is HMAC-signed and single-use.
func (h *Handler) Unsubscribe(c *gin.Context) {
	email := c.Query("email")
	token := c.Query("token")
	if email == "" || token == "" {
		detail(c, http.StatusBadRequest, "email and token are required")
		return
	}

	if err := h.auth.VerifyUnsubscribeToken(email, token); err != nil {
		detail(c, http.StatusBadRequest, "invalid unsubscribe link")
		return
	}

	updated, err := h.account.Unsubscribe(email)
	if err != nil {
		switch err {
		case services.ErrNotFound:
			detail(c, http.StatusNotFound, "not found")
		case services.ErrConflict:
			detail(c, http.StatusGone, "unsubscribe link already used")
		default:
			detail(c, http.StatusInternalServerError, "internal error")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed", "watches_updated": updated})
}
