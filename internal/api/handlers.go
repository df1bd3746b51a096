package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sitewatch/internal/database"
	"sitewatch/internal/models"
)

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// QuickCheckPost handles the anonymous POST /try probe
func (h *Handler) QuickCheckPost(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "url is required")
		return
	}
	h.quickCheck(c, req.URL)
}

// QuickCheckGet handles the anonymous GET /check?url=... probe
func (h *Handler) QuickCheckGet(c *gin.Context) {
	h.quickCheck(c, c.Query("url"))
}

func (h *Handler) quickCheck(c *gin.Context, rawURL string) {
	result, err := h.fetcher.QuickCheck(rawURL)
	if err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateWatch adds a new watch for the authenticated tenant. The URL passes
// the same SSRF validation the worker applies, the interval is coerced up
// to the tier floor, and the tier quota is enforced.
func (h *Handler) CreateWatch(c *gin.Context) {
	tenant := CurrentTenant(c)

	var req struct {
		URL           string `json:"url" binding:"required"`
		Name          string `json:"name" binding:"required,watchname"`
		CheckInterval int    `json:"check_interval"`
		NotifyEmail   string `json:"notify_email" binding:"omitempty,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid watch payload: url and name are required")
		return
	}

	if err := h.fetcher.ValidateURL(req.URL); err != nil {
		detail(c, http.StatusBadRequest, err.Error())
		return
	}

	limit := h.tierLimit(tenant.Tier)

	db := database.GetDB()
	var owned int64
	if err := db.Model(&models.Watch{}).Where("tenant_id = ?", tenant.ID).Count(&owned).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	if owned >= int64(limit.MaxWatches) {
		detail(c, http.StatusForbidden,
			fmt.Sprintf("watch limit reached for the %s tier (%d)", tenant.Tier, limit.MaxWatches))
		return
	}

	interval := req.CheckInterval
	if interval < limit.MinCheckInterval {
		interval = limit.MinCheckInterval
	}

	watch := models.Watch{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		URL:           req.URL,
		Name:          req.Name,
		CheckInterval: interval,
		NotifyEmail:   h.cipher.Encrypt(req.NotifyEmail),
		Status:        models.WatchStatusActive,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := db.Create(&watch).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}

	c.JSON(http.StatusOK, h.presentWatch(watch))
}

// ListWatches returns the caller's watches, optionally filtered by status.
// Admin tenants see every watch.
func (h *Handler) ListWatches(c *gin.Context) {
	tenant := CurrentTenant(c)
	db := database.GetDB()

	query := db.Model(&models.Watch{})
	if !tenant.IsAdmin {
		query = query.Where("tenant_id = ?", tenant.ID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var watches []models.Watch
	if err := query.Order("created_at asc").Find(&watches).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	for i := range watches {
		watches[i] = h.presentWatch(watches[i])
	}
	c.JSON(http.StatusOK, watches)
}

// GetWatch returns a single owned watch
func (h *Handler) GetWatch(c *gin.Context) {
	watch, ok := h.ownedWatch(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.presentWatch(*watch))
}

// UpdateWatch edits name, interval, notify address, or status. An owner edit
// resets an errored watch back to active unless the edit itself pauses it.
func (h *Handler) UpdateWatch(c *gin.Context) {
	tenant := CurrentTenant(c)
	watch, ok := h.ownedWatch(c)
	if !ok {
		return
	}

	var req struct {
		Name          *string `json:"name" binding:"omitempty,watchname"`
		CheckInterval *int    `json:"check_interval"`
		NotifyEmail   *string `json:"notify_email" binding:"omitempty,email"`
		Status        *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid watch payload")
		return
	}

	if req.Name != nil {
		watch.Name = *req.Name
	}
	if req.CheckInterval != nil {
		limit := h.tierLimit(tenant.Tier)
		interval := *req.CheckInterval
		if interval < limit.MinCheckInterval {
			interval = limit.MinCheckInterval
		}
		watch.CheckInterval = interval
	}
	if req.NotifyEmail != nil {
		watch.NotifyEmail = h.cipher.Encrypt(*req.NotifyEmail)
	}
	if req.Status != nil {
		switch *req.Status {
		case models.WatchStatusActive, models.WatchStatusPaused:
			watch.Status = *req.Status
		default:
			detail(c, http.StatusUnprocessableEntity, "status must be active or paused")
			return
		}
	} else if watch.Status == models.WatchStatusError {
		// Owner edit resets an errored watch
		watch.Status = models.WatchStatusActive
	}

	watch.UpdatedAt = time.Now()
	if err := database.GetDB().Save(watch).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, h.presentWatch(*watch))
}

// DeleteWatch removes an owned watch. Its reports stay behind until the
// next retention sweep collects them as orphans.
func (h *Handler) DeleteWatch(c *gin.Context) {
	watch, ok := h.ownedWatch(c)
	if !ok {
		return
	}

	if err := database.GetDB().Delete(watch).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ListReports returns reports for an owned watch, newest first
func (h *Handler) ListReports(c *gin.Context) {
	tenant := CurrentTenant(c)
	db := database.GetDB()

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	query := db.Model(&models.Report{}).Order("created_at desc").Limit(limit)

	if watchID := c.Query("watch_id"); watchID != "" {
		var watch models.Watch
		if err := db.Where("id = ?", watchID).First(&watch).Error; err != nil {
			detail(c, http.StatusNotFound, "watch not found")
			return
		}
		if watch.TenantID != tenant.ID && !tenant.IsAdmin {
			detail(c, http.StatusForbidden, "forbidden")
			return
		}
		query = query.Where("watch_id = ?", watchID)
	} else if !tenant.IsAdmin {
		query = query.Where("watch_id IN (?)",
			db.Model(&models.Watch{}).Select("id").Where("tenant_id = ?", tenant.ID))
	}

	var reports []models.Report
	if err := query.Find(&reports).Error; err != nil {
		detail(c, http.StatusInternalServerError, "internal error")
		return
	}
	c.JSON(http.StatusOK, reports)
}

// GetReport returns a single report, with the same ownership rules as
// watches: foreign reports are forbidden, missing ones not found.
func (h *Handler) GetReport(c *gin.Context) {
	tenant := CurrentTenant(c)
	db := database.GetDB()

	var report models.Report
	if err := db.Where("id = ?", c.Param("id")).First(&report).Error; err != nil {
		detail(c, http.StatusNotFound, "report not found")
		return
	}

	if !tenant.IsAdmin {
		var watch models.Watch
		if err := db.Where("id = ?", report.WatchID).First(&watch).Error; err != nil || watch.TenantID != tenant.ID {
			detail(c, http.StatusForbidden, "forbidden")
			return
		}
	}

	c.JSON(http.StatusOK, report)
}

// ownedWatch loads the watch in the path and enforces ownership
func (h *Handler) ownedWatch(c *gin.Context) (*models.Watch, bool) {
	tenant := CurrentTenant(c)

	var watch models.Watch
	if err := database.GetDB().Where("id = ?", c.Param("id")).First(&watch).Error; err != nil {
		detail(c, http.StatusNotFound, "watch not found")
		return nil, false
	}
	if watch.TenantID != tenant.ID && !tenant.IsAdmin {
		detail(c, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return &watch, true
}

// presentWatch opens the notify-address envelope for the API response. The
// stored form stays encrypted; only the owner-facing view is plaintext.
func (h *Handler) presentWatch(watch models.Watch) models.Watch {
	watch.NotifyEmail = h.cipher.Decrypt(watch.NotifyEmail)
	return watch
}

func (h *Handler) tierLimit(tier string) models.TierLimit {
	if limit, ok := h.tierLimits[tier]; ok {
		return limit
	}
	return h.tierLimits["free"]
}
