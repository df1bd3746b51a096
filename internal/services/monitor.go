package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitewatch/internal/crypto"
	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

// maxStoredContent bounds the extracted text kept on the watch row as diff
// input for the next cycle.
const maxStoredContent = 100 << 10 // 100 KiB

// MonitorService runs the check pipeline: fetch, diff, analyze, persist,
// notify. It mutates watch metadata and creates reports; it never touches
// tenant records.
type MonitorService struct {
	fetcher  *FetcherService
	analyzer *AnalyzerService
	notifier *NotifierService
	cipher   *crypto.Cipher

	paceDelay time.Duration
	fanOut    int
}

// NewMonitorService creates a new monitoring service
func NewMonitorService(fetcher *FetcherService, analyzer *AnalyzerService, notifier *NotifierService, cipher *crypto.Cipher, paceDelay time.Duration, fanOut int) *MonitorService {
	if fanOut < 1 {
		fanOut = 1
	}
	return &MonitorService{
		fetcher:   fetcher,
		analyzer:  analyzer,
		notifier:  notifier,
		cipher:    cipher,
		paceDelay: paceDelay,
		fanOut:    fanOut,
	}
}

// RunCycle checks every due watch once. A watch is due when it is active
// and last_check + interval has passed. Failures inside a single watch are
// logged and do not abort the cycle. The context stops the cycle between
// watches.
func (s *MonitorService) RunCycle(ctx context.Context) error {
	db := database.GetDB()

	var watches []models.Watch
	if err := db.Where("status IN ?", []string{models.WatchStatusActive, models.WatchStatusError}).Find(&watches).Error; err != nil {
		return fmt.Errorf("failed to fetch watches: %w", err)
	}

	now := time.Now()
	due := watches[:0]
	for _, w := range watches {
		if w.LastCheckedAt.IsZero() || !w.LastCheckedAt.Add(time.Duration(w.CheckInterval)*time.Second).After(now) {
			due = append(due, w)
		}
	}

	logger.L().Info("check cycle starting", zap.Int("due", len(due)), zap.Int("total", len(watches)))

	if s.fanOut <= 1 {
		s.runSerial(ctx, due)
	} else {
		s.runParallel(ctx, due)
	}

	checkCyclesTotal.Inc()
	logger.L().Info("check cycle complete", zap.Int("checked", len(due)))
	return nil
}

func (s *MonitorService) runSerial(ctx context.Context, due []models.Watch) {
	for i := range due {
		select {
		case <-ctx.Done():
			logger.L().Info("check cycle interrupted")
			return
		default:
		}
		s.safeCheck(ctx, &due[i])
		if s.paceDelay > 0 && i < len(due)-1 {
			time.Sleep(s.paceDelay)
		}
	}
}

func (s *MonitorService) runParallel(ctx context.Context, due []models.Watch) {
	sem := make(chan struct{}, s.fanOut)
	var wg sync.WaitGroup
	defer wg.Wait() // In-flight checks finish before the cycle is reported done

	for i := range due {
		select {
		case <-ctx.Done():
			logger.L().Info("check cycle interrupted")
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(w *models.Watch) {
			defer func() { <-sem; wg.Done() }()
			s.safeCheck(ctx, w)
			if s.paceDelay > 0 {
				time.Sleep(s.paceDelay)
			}
		}(&due[i])
	}
}

// safeCheck recovers panics so a misbehaving watch cannot abort the cycle
func (s *MonitorService) safeCheck(ctx context.Context, watch *models.Watch) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("watch check panicked",
				zap.String("watch_id", watch.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.CheckWatch(ctx, watch); err != nil {
		logger.L().Warn("watch check failed", zap.String("watch_id", watch.ID), zap.Error(err))
	}
}

// CheckWatch runs the pipeline for a single watch. A report is written on
// every outcome; the watch's fingerprint, last-check time, and status are
// updated afterwards.
func (s *MonitorService) CheckWatch(ctx context.Context, watch *models.Watch) error {
	db := database.GetDB()
	result := s.fetcher.Fetch(watch.URL)

	report := &models.Report{
		ID:           uuid.NewString(),
		WatchID:      watch.ID,
		PreviousHash: watch.LastContentHash,
		Importance:   models.ImportanceMedium,
		Sentiment:    models.SentimentNeutral,
		CreatedAt:    time.Now(),
	}

	if result.Error != "" || result.StatusCode >= 500 || result.StatusCode == 0 {
		// Fetch failed; the watch goes to error but stays in rotation
		report.CurrentHash = watch.LastContentHash
		report.Importance = models.ImportanceLow
		if result.Error != "" {
			report.Summary = fmt.Sprintf("check failed: %s", result.Error)
		} else {
			report.Summary = fmt.Sprintf("check failed: upstream returned %d", result.StatusCode)
		}

		if err := db.Create(report).Error; err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		watchChecksTotal.WithLabelValues("error").Inc()
		return db.Model(watch).Updates(map[string]interface{}{
			"status":          models.WatchStatusError,
			"last_checked_at": time.Now(),
		}).Error
	}

	report.CurrentHash = result.Fingerprint

	if watch.LastContentHash != "" && watch.LastContentHash != result.Fingerprint {
		changed, diff := Diff(watch.LastContent, result.Text)
		if changed {
			report.ChangesDetected = true
			report.Diff = diff

			analysis := s.analyzer.Analyze(ctx, watch.URL, watch.LastContent, result.Text, diff)
			report.Summary = analysis.Summary
			report.Importance = analysis.Importance
			report.Sentiment = analysis.Sentiment
		}
	}

	if !report.ChangesDetected {
		if watch.LastContentHash == "" {
			report.Summary = "baseline captured"
		} else {
			report.Summary = "no change detected"
		}
		report.Importance = models.ImportanceLow
	}

	if err := db.Create(report).Error; err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	if err := db.Model(watch).Updates(map[string]interface{}{
		"status":            models.WatchStatusActive,
		"last_checked_at":   time.Now(),
		"last_content_hash": result.Fingerprint,
		"last_content":      truncate(result.Text, maxStoredContent),
	}).Error; err != nil {
		return fmt.Errorf("failed to update watch: %w", err)
	}

	if report.ChangesDetected {
		watchChecksTotal.WithLabelValues("changed").Inc()
		s.maybeNotify(watch, report)
	} else {
		watchChecksTotal.WithLabelValues("ok").Inc()
	}

	return nil
}

// maybeNotify hands a change report to the notifier unless suppressed. On
// successful handoff the report is marked notified; on failure it stays
// unnotified and is never retried.
func (s *MonitorService) maybeNotify(watch *models.Watch, report *models.Report) {
	if watch.NotifyEmail == "" {
		notificationsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	var tenant models.Tenant
	if err := database.GetDB().Where("id = ?", watch.TenantID).First(&tenant).Error; err != nil {
		logger.L().Warn("owning tenant missing for watch", zap.String("watch_id", watch.ID))
		return
	}
	if tenant.Unsubscribed {
		notificationsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	if err := s.notifier.SendChangeAlert(watch, report, s.cipher.Decrypt(watch.NotifyEmail)); err != nil {
		logger.L().Warn("alert delivery failed",
			zap.String("report_id", report.ID),
			zap.Error(err),
		)
		notificationsTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := database.GetDB().Model(report).Update("notified", true).Error; err != nil {
		logger.L().Warn("failed to mark report notified", zap.String("report_id", report.ID), zap.Error(err))
	}
	notificationsTotal.WithLabelValues("sent").Inc()
}
