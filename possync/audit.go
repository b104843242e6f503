package possync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
)

// Audit records reconciliation history: runs, per-record errors and
// local-to-remote mappings. Audit entries are observability, not
// authoritative state; a failed audit write never fails a pass.
type Audit interface {
	BeginRun(ctx context.Context, trigger string) *models.SyncRun
	FinishRun(ctx context.Context, run *models.SyncRun, status string, recordsSynced, errorCount int)
	RecordError(ctx context.Context, runId uint, kind models.RecordKind, localId int, step string, err error)
	RecordMapping(ctx context.Context, mapping models.SyncMapping)
	LastRun(ctx context.Context) (*models.SyncRun, error)
}

// DBAudit stores the audit trail in the local database next to the queue.
type DBAudit struct {
	DB *gorm.DB
}

func NewDBAudit(db *gorm.DB) *DBAudit {
	return &DBAudit{DB: db}
}

func (a *DBAudit) BeginRun(ctx context.Context, trigger string) *models.SyncRun {
	now := time.Now()
	run := &models.SyncRun{
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: trigger,
		StartedAt:   &now,
	}
	_ = a.DB.WithContext(ctx).Create(run).Error
	return run
}

func (a *DBAudit) FinishRun(ctx context.Context, run *models.SyncRun, status string, recordsSynced, errorCount int) {
	if run == nil || run.ID == 0 {
		return
	}
	finished := time.Now()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finished.Sub(*run.StartedAt).Milliseconds()
	}
	_ = a.DB.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finished,
		"duration_ms":    durationMs,
		"records_synced": recordsSynced,
		"error_count":    errorCount,
	}).Error
}

func (a *DBAudit) RecordError(ctx context.Context, runId uint, kind models.RecordKind, localId int, step string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	_ = a.DB.WithContext(ctx).Create(&models.SyncError{
		SyncRunId: runId,
		Kind:      kind,
		LocalId:   localId,
		Step:      step,
		Message:   msg,
		Retryable: true,
	}).Error
}

func (a *DBAudit) RecordMapping(ctx context.Context, mapping models.SyncMapping) {
	_ = a.DB.WithContext(ctx).Create(&mapping).Error
}

func (a *DBAudit) LastRun(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	err := a.DB.WithContext(ctx).Order("id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
