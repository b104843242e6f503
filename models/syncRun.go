package models

import "time"

// SyncRun is the audit record of one reconciliation pass. Stored in the
// local database; feeds the pending-items indicator and the manual-retry
// surface.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncError is one per-record failure inside a pass. Records stay queued;
// these rows exist so repeated failures are visible instead of silent.
type SyncError struct {
	ID        uint       `gorm:"primary_key" json:"id"`
	SyncRunId uint       `gorm:"index;not null" json:"sync_run_id"`
	Kind      RecordKind `gorm:"size:20" json:"kind"`
	LocalId   int        `gorm:"index" json:"local_id"`
	Step      string     `gorm:"size:40" json:"step"`
	Message   string     `gorm:"type:text" json:"message"`
	Retryable bool       `gorm:"default:true" json:"retryable"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// SyncMapping records which offline record became which remote record:
// the durable "sync confirmed" audit entry of a pass.
// Unique on (kind, local_id); a local id maps to at most one remote id.
type SyncMapping struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	Kind         RecordKind `gorm:"size:20;not null;index:uniq_sync_mapping,unique" json:"kind"`
	LocalId      int        `gorm:"not null;index:uniq_sync_mapping,unique" json:"local_id"`
	RemoteId     string     `gorm:"size:64;not null" json:"remote_id"`
	TicketNumber int64      `json:"ticket_number"`
	Duplicate    bool       `gorm:"default:false" json:"duplicate"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
