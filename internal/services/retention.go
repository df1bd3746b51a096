package services

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

// RetentionService purges reports past the retention window and reports
// orphaned by per-watch deletion. It never touches watches or tenants.
type RetentionService struct {
	retentionDays int
}

// NewRetentionService creates a new retention service
func NewRetentionService(retentionDays int) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	return &RetentionService{retentionDays: retentionDays}
}

// Sweep removes expired and orphaned reports in one transaction and appends
// a purge log entry. The sweep is idempotent: a second run over the same
// data removes nothing.
func (s *RetentionService) Sweep() error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	var expired, orphaned int64
	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Where("created_at < ?", cutoff).Delete(&models.Report{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge expired reports: %w", res.Error)
		}
		expired = res.RowsAffected

		res = tx.Where("watch_id NOT IN (?)", tx.Model(&models.Watch{}).Select("id")).Delete(&models.Report{})
		if res.Error != nil {
			return fmt.Errorf("failed to purge orphaned reports: %w", res.Error)
		}
		orphaned = res.RowsAffected

		return tx.Create(&models.PurgeLog{
			RanAt:          time.Now(),
			ReportsDeleted: expired,
			OrphansDeleted: orphaned,
		}).Error
	})
	if err != nil {
		return err
	}

	reportsPurgedTotal.Add(float64(expired + orphaned))
	logger.L().Info("retention sweep complete",
		zap.Int64("expired", expired),
		zap.Int64("orphaned", orphaned),
		zap.Int("retention_days", s.retentionDays),
	)
	return nil
}
