package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sitewatch/internal/crypto"
	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

// AccountService owns the tenant lifecycle: registration, data export,
// rectification, erasure, and notification opt-out.
type AccountService struct {
	cipher  *crypto.Cipher
	auth    *AuthService
	billing BillingClient
}

// NewAccountService creates a new account service
func NewAccountService(cipher *crypto.Cipher, auth *AuthService, billing BillingClient) *AccountService {
	if billing == nil {
		billing = NoopBillingClient{}
	}
	return &AccountService{cipher: cipher, auth: auth, billing: billing}
}

// Register creates a tenant on the free tier together with its API key and
// verification code. The raw key and code are returned once and never
// stored; only the key hash and the code (server side, expiring) persist.
func (s *AccountService) Register(email, name, originIP string) (tenant *models.Tenant, rawKey, code string, err error) {
	db := database.GetDB()

	emailHash := HashEmail(email)

	rawKey, keyHash, err := s.auth.GenerateAPIKey()
	if err != nil {
		return nil, "", "", err
	}
	code, err = GenerateVerifyCode()
	if err != nil {
		return nil, "", "", err
	}

	tenant = &models.Tenant{
		ID:                uuid.NewString(),
		Email:             s.cipher.Encrypt(email),
		EmailHash:         emailHash,
		Name:              s.cipher.Encrypt(name),
		Tier:              "free",
		VerifyCode:        code,
		VerifyExpiry:      time.Now().Add(verifyCodeTTL),
		PrivacyAcceptedAt: time.Now(),
		PrivacyIP:         s.cipher.Encrypt(originIP),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(tenant).Error; err != nil {
			return err
		}
		return tx.Create(&models.APIKey{
			KeyHash:   keyHash,
			TenantID:  tenant.ID,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		// The email_hash unique index is the duplicate check; a concurrent
		// registration loses here rather than in a racy pre-read.
		var existing models.Tenant
		if db.Where("email_hash = ?", emailHash).First(&existing).Error == nil {
			return nil, "", "", ErrConflict
		}
		return nil, "", "", err
	}

	logger.L().Info("tenant registered",
		zap.String("tenant_id", tenant.ID),
		zap.String("email", crypto.MaskEmail(email)),
	)
	return tenant, rawKey, code, nil
}

// FindByEmail resolves a tenant by its email lookup hash
func (s *AccountService) FindByEmail(email string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := database.GetDB().Where("email_hash = ?", HashEmail(email)).First(&tenant).Error; err != nil {
		return nil, ErrNotFound
	}
	return &tenant, nil
}

// AccountExport is the full record handed back by a data access request
type AccountExport struct {
	Tenant  map[string]interface{} `json:"tenant"`
	Watches []models.Watch         `json:"watches"`
	Reports []models.Report        `json:"reports"`
}

// Export returns every record owned by the tenant, with personal
// identifiers decrypted for the subject's own eyes.
func (s *AccountService) Export(tenant *models.Tenant) (*AccountExport, error) {
	db := database.GetDB()

	export := &AccountExport{
		Tenant: map[string]interface{}{
			"id":                  tenant.ID,
			"email":               s.cipher.Decrypt(tenant.Email),
			"name":                s.cipher.Decrypt(tenant.Name),
			"tier":                tenant.Tier,
			"verified":            tenant.Verified,
			"unsubscribed":        tenant.Unsubscribed,
			"privacy_accepted_at": tenant.PrivacyAcceptedAt,
			"created_at":          tenant.CreatedAt,
		},
	}

	if err := db.Where("tenant_id = ?", tenant.ID).Find(&export.Watches).Error; err != nil {
		return nil, err
	}
	for i := range export.Watches {
		export.Watches[i].NotifyEmail = s.cipher.Decrypt(export.Watches[i].NotifyEmail)
	}

	watchIDs := make([]string, 0, len(export.Watches))
	for _, w := range export.Watches {
		watchIDs = append(watchIDs, w.ID)
	}
	if len(watchIDs) > 0 {
		if err := db.Where("watch_id IN ?", watchIDs).Order("created_at desc").Find(&export.Reports).Error; err != nil {
			return nil, err
		}
	} else {
		export.Reports = []models.Report{}
	}

	return export, nil
}

// UpdateName rectifies the tenant's display name
func (s *AccountService) UpdateName(tenant *models.Tenant, name string) error {
	return database.GetDB().Model(tenant).Update("name", s.cipher.Encrypt(name)).Error
}

// DeletionSummary reports what an account erasure removed
type DeletionSummary struct {
	WatchesDeleted int64 `json:"watches_deleted"`
	ReportsDeleted int64 `json:"reports_deleted"`
	KeysDeleted    int64 `json:"keys_deleted"`
}

// Delete erases the tenant and everything it owns: API keys, watches, and
// reports. The external billing subscription is cancelled best-effort
// before the local cascade; a billing failure does not block erasure.
func (s *AccountService) Delete(ctx context.Context, tenant *models.Tenant) (*DeletionSummary, error) {
	if tenant.BillingSubscriptionID != "" {
		if err := s.billing.CancelSubscription(ctx, tenant.BillingSubscriptionID); err != nil {
			logger.L().Warn("failed to cancel billing subscription",
				zap.String("tenant_id", tenant.ID),
				zap.Error(err),
			)
		}
	}

	summary := &DeletionSummary{}
	err := database.GetDB().Transaction(func(tx *gorm.DB) error {
		var watchIDs []string
		if err := tx.Model(&models.Watch{}).Where("tenant_id = ?", tenant.ID).Pluck("id", &watchIDs).Error; err != nil {
			return err
		}

		if len(watchIDs) > 0 {
			res := tx.Where("watch_id IN ?", watchIDs).Delete(&models.Report{})
			if res.Error != nil {
				return res.Error
			}
			summary.ReportsDeleted = res.RowsAffected
		}

		res := tx.Where("tenant_id = ?", tenant.ID).Delete(&models.Watch{})
		if res.Error != nil {
			return res.Error
		}
		summary.WatchesDeleted = res.RowsAffected

		res = tx.Where("tenant_id = ?", tenant.ID).Delete(&models.APIKey{})
		if res.Error != nil {
			return res.Error
		}
		summary.KeysDeleted = res.RowsAffected

		return tx.Delete(&models.Tenant{}, "id = ?", tenant.ID).Error
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("tenant erased",
		zap.String("tenant_id", tenant.ID),
		zap.Int64("watches", summary.WatchesDeleted),
		zap.Int64("reports", summary.ReportsDeleted),
	)
	return summary, nil
}

// Unsubscribe disables notifications for every watch owned by the email and
// sets the tenant-wide opt-out flag. The link is single-use: a second call
// for an already-unsubscribed tenant is a conflict.
func (s *AccountService) Unsubscribe(email string) (int64, error) {
	tenant, err := s.FindByEmail(email)
	if err != nil {
		return 0, err
	}
	if tenant.Unsubscribed {
		return 0, ErrConflict
	}

	var updated int64
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Watch{}).
			Where("tenant_id = ? AND notify_email != ''", tenant.ID).
			Update("notify_email", "")
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected

		return tx.Model(tenant).Update("unsubscribed", true).Error
	})
	if err != nil {
		return 0, err
	}

	logger.L().Info("tenant unsubscribed from notifications",
		zap.String("tenant_id", tenant.ID),
		zap.Int64("watches_updated", updated),
	)
	return updated, nil
}
