package services

import (
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/config"
	"sitewatch/internal/models"
)

func stubNotifier(captured *string) *NotifierService {
	n := NewNotifierService(&config.EmailConfig{
		Enabled:  true,
		SMTPHost: "smtp.test",
		SMTPPort: 587,
		From:     "alerts@test",
	})
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*captured = string(msg)
		return nil
	}
	return n
}

func TestSendChangeAlertContent(t *testing.T) {
	var captured string
	n := stubNotifier(&captured)

	watch := &models.Watch{ID: "w1", Name: "Pricing page", URL: "https://example.com/pricing"}
	report := &models.Report{
		ID:         "r1",
		Summary:    "Prices increased across all plans",
		Importance: models.ImportanceCritical,
		Diff:       "-old price\n+new price",
		CreatedAt:  time.Now(),
	}

	require.NoError(t, n.SendChangeAlert(watch, report, "owner@example.com"))

	assert.Contains(t, captured, "Pricing page")
	assert.Contains(t, captured, "https://example.com/pricing")
	assert.Contains(t, captured, "Prices increased across all plans")
	assert.Contains(t, captured, "critical")
	assert.Contains(t, captured, "+new price")
	assert.Contains(t, captured, "To: owner@example.com")
}

func TestSendChangeAlertTruncatesLongDiff(t *testing.T) {
	var captured string
	n := stubNotifier(&captured)

	diff := ""
	for i := 0; i < 1000; i++ {
		diff += "+another changed line that keeps going\n"
	}
	watch := &models.Watch{ID: "w1", Name: "W", URL: "https://example.com"}
	report := &models.Report{ID: "r1", Summary: "s", Importance: models.ImportanceLow, Diff: diff, CreatedAt: time.Now()}

	require.NoError(t, n.SendChangeAlert(watch, report, "owner@example.com"))
	assert.Less(t, len(captured), len(diff))
	assert.Contains(t, captured, "truncated")
}

func TestSendVerificationCode(t *testing.T) {
	var captured string
	n := stubNotifier(&captured)

	require.NoError(t, n.SendVerificationCode("new@example.com", "123456"))
	assert.Contains(t, captured, "123456")
	assert.Contains(t, captured, "To: new@example.com")
}

func TestDisabledNotifierRefusesDelivery(t *testing.T) {
	n := NewNotifierService(&config.EmailConfig{})
	assert.False(t, n.Enabled())

	err := n.SendVerificationCode("a@b.co", "123456")
	assert.Error(t, err)
}
