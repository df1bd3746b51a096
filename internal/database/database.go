package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"sitewatch/internal/config"
	"sitewatch/internal/models"
)

var DB *gorm.DB

// InitDB initializes the database connection and migrates the schema.
// The database file holds personal data, so it is created owner-only.
func InitDB(cfg *config.DatabaseConfig) error {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Use pure Go SQLite driver (modernc.org/sqlite)
	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	DB, err = gorm.Open(sqlite.Dialector{
		Conn: sqlDB,
	}, &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize GORM: %w", err)
	}

	if err := migrate(DB); err != nil {
		return err
	}

	if err := os.Chmod(cfg.Path, 0o600); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to restrict database permissions: %w", err)
	}

	return nil
}

// InitMemoryDB opens an in-memory database, used by tests and one-shot runs
// that bring their own fixtures.
func InitMemoryDB() (*gorm.DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.APIKey{},
		&models.Watch{},
		&models.Report{},
		&models.PurgeLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// SetDB replaces the database instance, used by tests
func SetDB(db *gorm.DB) {
	DB = db
}
