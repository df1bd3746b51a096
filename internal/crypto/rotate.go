package crypto

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sitewatch/internal/logger"
	"sitewatch/internal/models"
)

// RotateKey re-encrypts every persisted personal identifier with the new
// key. The whole rotation runs in one transaction: a single decryption
// failure rolls everything back, leaving the pre-rotation state intact.
func RotateKey(db *gorm.DB, oldCipher, newCipher *Cipher) error {
	if !newCipher.Enabled() {
		return fmt.Errorf("rotation target key is not configured")
	}

	tenants := 0
	watches := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		var tenantRows []models.Tenant
		if err := tx.Find(&tenantRows).Error; err != nil {
			return fmt.Errorf("failed to load tenants: %w", err)
		}

		for i := range tenantRows {
			t := &tenantRows[i]
			for _, field := range []*string{&t.Email, &t.Name, &t.PrivacyIP} {
				if *field == "" {
					continue
				}
				plain, err := oldCipher.DecryptStrict(*field)
				if err != nil {
					return fmt.Errorf("rotation aborted for tenant %s: %w", t.ID, err)
				}
				*field = newCipher.Encrypt(plain)
			}
			if err := tx.Save(t).Error; err != nil {
				return fmt.Errorf("failed to save tenant %s: %w", t.ID, err)
			}
			tenants++
		}

		var watchRows []models.Watch
		if err := tx.Find(&watchRows).Error; err != nil {
			return fmt.Errorf("failed to load watches: %w", err)
		}

		for i := range watchRows {
			w := &watchRows[i]
			if w.NotifyEmail == "" {
				continue
			}
			plain, err := oldCipher.DecryptStrict(w.NotifyEmail)
			if err != nil {
				return fmt.Errorf("rotation aborted for watch %s: %w", w.ID, err)
			}
			if err := tx.Model(w).Update("notify_email", newCipher.Encrypt(plain)).Error; err != nil {
				return fmt.Errorf("failed to save watch %s: %w", w.ID, err)
			}
			watches++
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.L().Info("PII key rotation complete",
		zap.Int("tenants", tenants), zap.Int("watches", watches))
	return nil
}
