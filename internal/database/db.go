package database

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/doofx0071/doofs-dns/internal/models"
)

// Open connects to the configured storage engine and migrates the schema.
// TranslateError is enabled so unique-index violations surface as
// gorm.ErrDuplicatedKey regardless of driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("migrating database schema")
	err = db.AutoMigrate(
		&models.PlatformDomain{},
		&models.Domain{},
		&models.DNSRecord{},
		&models.DNSJob{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
