package services

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitewatch/internal/config"
	"sitewatch/internal/crypto"
	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

// maxDiffExcerpt bounds the diff section of an alert email
const maxDiffExcerpt = 2 << 10 // 2 KiB

// NotifierService delivers alert and verification emails over SMTP.
// Delivery is at-most-once: a failed handoff is logged and never retried.
type NotifierService struct {
	cfg *config.EmailConfig

	// send is swappable for tests
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewNotifierService creates a new notifier
func NewNotifierService(cfg *config.EmailConfig) *NotifierService {
	return &NotifierService{
		cfg:  cfg,
		send: smtp.SendMail,
	}
}

// Enabled reports whether a mail submission channel is configured
func (s *NotifierService) Enabled() bool {
	return s.cfg != nil && s.cfg.Enabled && s.cfg.SMTPHost != ""
}

// SendChangeAlert delivers a change notification for one report. The caller
// is responsible for suppression (missing address, unsubscribed tenant) and
// for marking the report notified on success.
func (s *NotifierService) SendChangeAlert(watch *models.Watch, report *models.Report, to string) error {
	if !s.Enabled() {
		return fmt.Errorf("mail submission is not configured")
	}

	subject := fmt.Sprintf("%s Change detected: %s", importanceToken(report.Importance), watch.Name)

	var body strings.Builder
	fmt.Fprintf(&body, "A change was detected on a page you are watching.\n\n")
	fmt.Fprintf(&body, "Watch:      %s\n", watch.Name)
	fmt.Fprintf(&body, "URL:        %s\n", watch.URL)
	fmt.Fprintf(&body, "Importance: %s %s\n", importanceToken(report.Importance), report.Importance)
	fmt.Fprintf(&body, "Detected:   %s\n\n", report.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&body, "Summary:\n%s\n", report.Summary)

	if report.Diff != "" {
		fmt.Fprintf(&body, "\nChanges (excerpt):\n%s\n", TruncateDiff(report.Diff, maxDiffExcerpt))
	}

	if err := s.deliver(to, subject, body.String()); err != nil {
		return err
	}

	logger.L().Info("change alert sent",
		zap.String("watch_id", watch.ID),
		zap.String("report_id", report.ID),
		zap.String("to", crypto.MaskEmail(to)),
	)
	return nil
}

// SendVerificationCode delivers a registration verification code
func (s *NotifierService) SendVerificationCode(to, code string) error {
	if !s.Enabled() {
		return fmt.Errorf("mail submission is not configured")
	}

	body := fmt.Sprintf(`Welcome to SiteWatch.

Your verification code is: %s

The code expires in 24 hours. If you did not register, ignore this email.
`, code)

	if err := s.deliver(to, "Verify your SiteWatch account", body); err != nil {
		return err
	}

	logger.L().Info("verification code sent", zap.String("to", crypto.MaskEmail(to)))
	return nil
}

func (s *NotifierService) deliver(to, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n", s.cfg.From)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	if err := s.send(addr, auth, s.cfg.From, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func importanceToken(importance string) string {
	switch importance {
	case models.ImportanceCritical:
		return "🔴"
	case models.ImportanceHigh:
		return "🟠"
	case models.ImportanceLow:
		return "🟢"
	default:
		return "🟡"
	}
}
