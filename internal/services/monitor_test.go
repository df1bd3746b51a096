package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/config"
	"sitewatch/internal/crypto"
	"sitewatch/internal/database"
	"sitewatch/internal/models"
)

func testMonitor(t *testing.T, sent *[]string) *MonitorService {
	t.Helper()
	setupTestDB(t)

	fetcher := NewFetcherService(5 * time.Second)
	fetcher.allowLocal = true
	analyzer := NewAnalyzerService("", "", "", time.Second)

	notifier := NewNotifierService(&config.EmailConfig{
		Enabled:  true,
		SMTPHost: "smtp.test",
		SMTPPort: 587,
		From:     "alerts@test",
	})
	notifier.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if sent != nil {
			*sent = append(*sent, to[0])
		}
		return nil
	}

	cipher, err := crypto.NewCipher("monitor-test-key")
	require.NoError(t, err)

	return NewMonitorService(fetcher, analyzer, notifier, cipher, 0, 1)
}

func TestCycleDetectsChange(t *testing.T) {
	m := testMonitor(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>current content</p></body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", EmailHash: "h1"}).Error)
	require.NoError(t, db.Create(&models.Watch{
		ID:              "w1",
		TenantID:        "t1",
		URL:             srv.URL,
		Name:            "W",
		CheckInterval:   60,
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: "aaaaaaaaaaaaaaaa",
		LastContent:     "previous content",
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var reports []models.Report
	require.NoError(t, db.Where("watch_id = ?", "w1").Find(&reports).Error)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.True(t, report.ChangesDetected)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", report.PreviousHash)
	assert.NotEqual(t, report.PreviousHash, report.CurrentHash)
	assert.NotEmpty(t, report.Diff)

	var watch models.Watch
	require.NoError(t, db.First(&watch, "id = ?", "w1").Error)
	assert.Equal(t, report.CurrentHash, watch.LastContentHash)
	assert.Equal(t, models.WatchStatusActive, watch.Status)
}

func TestFirstCheckCapturesBaseline(t *testing.T) {
	m := testMonitor(t, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, CheckInterval: 60,
		Status: models.WatchStatusActive,
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.False(t, report.ChangesDetected)
	assert.Empty(t, report.PreviousHash)
	assert.NotEmpty(t, report.CurrentHash)

	var watch models.Watch
	require.NoError(t, db.First(&watch, "id = ?", "w1").Error)
	assert.NotEmpty(t, watch.LastContentHash)
	assert.NotEmpty(t, watch.LastContent)
}

func TestUnchangedContentWritesReportWithoutChange(t *testing.T) {
	m := testMonitor(t, nil)

	const page = "<html><body>steady</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	text, _ := ExtractText([]byte(page))
	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, CheckInterval: 60,
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: Fingerprint(text),
		LastContent:     text,
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.False(t, report.ChangesDetected)
	assert.Empty(t, report.Diff)
	assert.Equal(t, report.PreviousHash, report.CurrentHash)
}

func TestFetchErrorMarksWatchErrored(t *testing.T) {
	m := testMonitor(t, nil)

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: "http://127.0.0.1:1", CheckInterval: 60,
		Status:        models.WatchStatusActive,
		LastCheckedAt: time.Now().Add(-2 * time.Minute),
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var watch models.Watch
	require.NoError(t, db.First(&watch, "id = ?", "w1").Error)
	assert.Equal(t, models.WatchStatusError, watch.Status)

	// A report is still written, and the next due time advanced
	var count int64
	db.Model(&models.Report{}).Where("watch_id = ?", "w1").Count(&count)
	assert.Equal(t, int64(1), count)
	assert.WithinDuration(t, time.Now(), watch.LastCheckedAt, time.Minute)
}

func TestPausedWatchIsSkipped(t *testing.T) {
	m := testMonitor(t, nil)

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: "http://127.0.0.1:1", CheckInterval: 60,
		Status: models.WatchStatusPaused,
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.Zero(t, count)
}

func TestNotDueWatchIsSkipped(t *testing.T) {
	m := testMonitor(t, nil)

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: "http://127.0.0.1:1", CheckInterval: 3600,
		Status:        models.WatchStatusActive,
		LastCheckedAt: time.Now(),
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.Zero(t, count)
}

func TestChangeNotificationMarksReport(t *testing.T) {
	var sent []string
	m := testMonitor(t, &sent)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>new content</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", EmailHash: "h1"}).Error)
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, Name: "W", CheckInterval: 60,
		NotifyEmail:     "owner@example.com",
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: "aaaaaaaaaaaaaaaa",
		LastContent:     "old content",
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	require.Equal(t, []string{"owner@example.com"}, sent)

	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.True(t, report.Notified)
}

func TestNotificationSuppressedForUnsubscribedTenant(t *testing.T) {
	var sent []string
	m := testMonitor(t, &sent)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>new content</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", EmailHash: "h1", Unsubscribed: true}).Error)
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, CheckInterval: 60,
		NotifyEmail:     "owner@example.com",
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: "aaaaaaaaaaaaaaaa",
		LastContent:     "old content",
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	assert.Empty(t, sent)

	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.True(t, report.ChangesDetected)
	assert.False(t, report.Notified)
}

func TestFailedDeliveryLeavesReportUnnotified(t *testing.T) {
	m := testMonitor(t, nil)
	m.notifier.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return fmt.Errorf("connection refused")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>new content</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", EmailHash: "h1"}).Error)
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, CheckInterval: 60,
		NotifyEmail:     "owner@example.com",
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: "aaaaaaaaaaaaaaaa",
		LastContent:     "old content",
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.True(t, report.ChangesDetected)
	assert.False(t, report.Notified)
}

func TestNotificationDecryptsStoredAddress(t *testing.T) {
	var sent []string
	m := testMonitor(t, &sent)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>new content</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Tenant{ID: "t1", EmailHash: "h1"}).Error)
	stored := m.cipher.Encrypt("owner@example.com")
	require.True(t, crypto.IsEncrypted(stored))
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: srv.URL, Name: "W", CheckInterval: 60,
		NotifyEmail:     stored,
		Status:          models.WatchStatusActive,
		LastCheckedAt:   time.Now().Add(-2 * time.Minute),
		LastContentHash: "aaaaaaaaaaaaaaaa",
		LastContent:     "old content",
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	// The envelope is opened for delivery, never handed to SMTP as-is
	require.Equal(t, []string{"owner@example.com"}, sent)
}

func TestParallelCycleDrainsInFlightChecks(t *testing.T) {
	m := testMonitor(t, nil)
	m.fanOut = 2

	arrived := make(chan struct{}, 3)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		fmt.Fprint(w, "<html><body>slow page</body></html>")
	}))
	defer srv.Close()

	db := database.GetDB()
	for i := 1; i <= 3; i++ {
		require.NoError(t, db.Create(&models.Watch{
			ID: fmt.Sprintf("w%d", i), TenantID: "t1", URL: srv.URL, CheckInterval: 60,
			Status:        models.WatchStatusActive,
			LastCheckedAt: time.Now().Add(-2 * time.Minute),
		}).Error)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Two checks occupy the fan-out; cancel while the third waits for a
		// slot, then let the in-flight pair complete. The pause keeps both
		// slots occupied until the dispatch loop has seen the cancellation.
		<-arrived
		<-arrived
		cancel()
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()

	require.NoError(t, m.RunCycle(ctx))

	// The cycle returned only after both dispatched checks wrote their rows;
	// the third watch was never dispatched.
	var count int64
	db.Model(&models.Report{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestFirstCheckFailureWritesHashlessReport(t *testing.T) {
	m := testMonitor(t, nil)

	db := database.GetDB()
	require.NoError(t, db.Create(&models.Watch{
		ID: "w1", TenantID: "t1", URL: "http://127.0.0.1:1", CheckInterval: 60,
		Status: models.WatchStatusActive,
	}).Error)

	require.NoError(t, m.RunCycle(context.Background()))

	// No fingerprint was ever observed, so the failure report carries none
	var report models.Report
	require.NoError(t, db.First(&report, "watch_id = ?", "w1").Error)
	assert.Empty(t, report.PreviousHash)
	assert.Empty(t, report.CurrentHash)
	assert.Contains(t, report.Summary, "check failed")

	var watch models.Watch
	require.NoError(t, db.First(&watch, "id = ?", "w1").Error)
	assert.Equal(t, models.WatchStatusError, watch.Status)
}
