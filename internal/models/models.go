package models

import (
	"time"
)

// Watch statuses.
const (
	WatchStatusActive = "active"
	WatchStatusPaused = "paused"
	WatchStatusError  = "error"
)

// Report importance levels assigned by the analyzer.
const (
	ImportanceLow      = "low"
	ImportanceMedium   = "medium"
	ImportanceHigh     = "high"
	ImportanceCritical = "critical"
)

// Report sentiment values.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Tenant represents a customer account
type Tenant struct {
	ID        string `gorm:"primarykey" json:"id"`
	Email     string `json:"email"`                         // Encrypted at rest when a PII key is configured
	EmailHash string `gorm:"uniqueIndex;not null" json:"-"` // SHA-256 of the lowercased email, lookup key
	Name      string `json:"name"`                          // Encrypted at rest
	Tier      string `gorm:"default:free" json:"tier"`      // free/starter/pro/business

	Verified       bool      `gorm:"default:false" json:"verified"`
	VerifyCode     string    `json:"-"`                             // 6-digit code, empty once verified
	VerifyExpiry   time.Time `json:"-"`
	VerifyAttempts int       `json:"-"`

	IsAdmin      bool `gorm:"default:false" json:"-"`
	Unsubscribed bool `gorm:"default:false" json:"unsubscribed"` // Tenant-wide notification opt-out

	PrivacyAcceptedAt time.Time `json:"privacy_accepted_at"`
	PrivacyIP         string    `json:"-"`                   // Encrypted at rest

	BillingCustomerID     string `gorm:"index" json:"-"`
	BillingSubscriptionID string `json:"-"`
	BillingStatus         string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey holds the hash of a tenant's API key. The raw key is returned to
// the caller exactly once, at creation, and never stored.
type APIKey struct {
	KeyHash      string    `gorm:"primarykey" json:"-"`             // SHA-256 hex of the raw key
	TenantID     string    `gorm:"index;not null" json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
	RequestCount int64     `json:"request_count"`
}

// Watch represents a URL monitored for content changes
type Watch struct {
	ID            string `gorm:"primarykey" json:"id"`
	TenantID      string `gorm:"index;not null" json:"tenant_id"`
	URL           string `gorm:"not null" json:"url"`
	Name          string `json:"name"`
	CheckInterval int    `json:"check_interval"`                  // Seconds, floored to the tier minimum
	NotifyEmail   string `json:"notify_email"`                    // Empty disables alerts for this watch
	Status        string `gorm:"default:active" json:"status"`    // active/paused/error

	LastCheckedAt   time.Time `json:"last_checked_at"`
	LastContentHash string    `json:"last_content_hash"` // First 16 hex chars of SHA-256 of extracted text
	LastContent     string    `json:"-"`                 // Bounded extracted text, diff input for the next cycle

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report records the outcome of one check cycle for one watch. Immutable
// after creation except for the Notified flag.
type Report struct {
	ID              string    `gorm:"primarykey" json:"id"`
	WatchID         string    `gorm:"index;not null" json:"watch_id"`
	ChangesDetected bool      `json:"changes_detected"`
	PreviousHash    string    `json:"previous_hash"`
	CurrentHash     string    `json:"current_hash"`
	Diff            string    `json:"diff"`                             // Bounded unified diff
	Summary         string    `json:"summary"`
	Importance      string    `gorm:"default:medium" json:"importance"` // low/medium/high/critical
	Sentiment       string    `gorm:"default:neutral" json:"sentiment"` // positive/neutral/negative
	Notified        bool      `gorm:"default:false" json:"notified"`
	CreatedAt       time.Time `json:"created_at"`
}

// PurgeLog is an append-only record of retention sweeps
type PurgeLog struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	RanAt          time.Time `json:"ran_at"`
	ReportsDeleted int64     `json:"reports_deleted"`
	OrphansDeleted int64     `json:"orphans_deleted"`
}

// TierLimit bounds what a tenant on a given plan may create
type TierLimit struct {
	MaxWatches       int
	MinCheckInterval int // Seconds
}

// DefaultTierLimits maps each plan to its watch quota and interval floor
var DefaultTierLimits = map[string]TierLimit{
	"free":     {MaxWatches: 3, MinCheckInterval: 86400},
	"starter":  {MaxWatches: 10, MinCheckInterval: 3600},
	"pro":      {MaxWatches: 50, MinCheckInterval: 300},
	"business": {MaxWatches: 1000, MinCheckInterval: 60},
}
