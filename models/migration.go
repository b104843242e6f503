package models

import (
	"bitbucket.org/mmdatafocus/pos_sync_core/config"
)

// MigrateTables auto-migrates the local-database schema: the durable
// queue plus the sync audit trail.
func MigrateTables() error {
	db := config.GetDB()
	return db.AutoMigrate(
		&PendingRecord{},
		&SyncRun{},
		&SyncError{},
		&SyncMapping{},
	)
}
