package db

import (
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes a new GORM database connection and runs auto-migrations.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	log.Println("Running database migrations...")
	// Auto-migrate the schema
	err = db.AutoMigrate(
		&DeploymentRecord{},
		&ProbeRecord{},
		&StatusEvent{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
