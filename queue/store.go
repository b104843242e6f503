package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

// Store is the local durable queue: an append-only table of pending
// records on the terminal-local database. It never touches the network.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Attachment is an optional blob (e.g. receipt photo) owned by the
// pending record until synced or discarded.
type Attachment struct {
	Data []byte
	Name string
	Mime string
}

// Enqueue appends a pending record and returns its localId. Fails only
// when the storage medium itself fails; that failure is fatal to the
// offline-write path and must reach the caller.
func (s *Store) Enqueue(ctx context.Context, kind models.RecordKind, payload any, logicalTimestamp string, createdBy string, attachment *Attachment) (int, error) {
	if !kind.Valid() {
		return 0, utils.NewValidationError("kind", "unknown record kind")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, &utils.DurableStorageError{Op: "encode payload", Err: err}
	}

	rec := models.PendingRecord{
		Kind:             kind,
		PayloadJSON:      payloadJSON,
		LogicalTimestamp: logicalTimestamp,
		CreatedBy:        createdBy,
		SyncToken:        uuid.NewString(),
	}
	if attachment != nil {
		rec.AttachmentData = attachment.Data
		rec.AttachmentName = attachment.Name
		rec.AttachmentMime = attachment.Mime
	}

	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, &utils.DurableStorageError{Op: "enqueue", Err: err}
	}
	return rec.ID, nil
}

// ListAll returns a materialized snapshot of committed entries, split per
// kind, each slice in enqueue order.
func (s *Store) ListAll(ctx context.Context) (models.QueueSnapshot, error) {
	var all []models.PendingRecord
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&all).Error; err != nil {
		return models.QueueSnapshot{}, &utils.DurableStorageError{Op: "list", Err: err}
	}

	var snap models.QueueSnapshot
	for _, rec := range all {
		switch rec.Kind {
		case models.RecordKindSale:
			snap.Sales = append(snap.Sales, rec)
		case models.RecordKindExpense:
			snap.Expenses = append(snap.Expenses, rec)
		case models.RecordKindPurchase:
			snap.Purchases = append(snap.Purchases, rec)
		}
	}
	return snap, nil
}

// Remove deletes a reconciled (or confirmed-duplicate) record. Idempotent:
// removing an already-removed id is a no-op, not an error.
func (s *Store) Remove(ctx context.Context, kind models.RecordKind, localId int) error {
	err := s.DB.WithContext(ctx).
		Where("kind = ? AND id = ?", kind, localId).
		Delete(&models.PendingRecord{}).Error
	if err != nil {
		return &utils.DurableStorageError{Op: "remove", Err: err}
	}
	return nil
}

// SaveProgress persists the reconciliation bookkeeping columns so a
// partially synced record resumes where it stopped on the next pass.
func (s *Store) SaveProgress(ctx context.Context, rec *models.PendingRecord) error {
	err := s.DB.WithContext(ctx).
		Model(&models.PendingRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"remote_id":       rec.RemoteId,
			"ticket_number":   rec.TicketNumber,
			"ticket_url":      rec.TicketURL,
			"items_synced":    rec.ItemsSynced,
			"stock_applied":   rec.StockApplied,
			"attempts":        rec.Attempts,
			"last_error":      rec.LastError,
			"last_attempt_at": rec.LastAttemptAt,
		}).Error
	if err != nil {
		return &utils.DurableStorageError{Op: "save progress", Err: err}
	}
	return nil
}

// CountPending returns pending counts per kind for the aggregate
// pending-items indicator.
func (s *Store) CountPending(ctx context.Context) (map[models.RecordKind]int, error) {
	type kindCount struct {
		Kind  models.RecordKind
		Count int
	}
	var rows []kindCount
	err := s.DB.WithContext(ctx).
		Model(&models.PendingRecord{}).
		Select("kind, COUNT(*) as count").
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, &utils.DurableStorageError{Op: "count", Err: err}
	}

	counts := make(map[models.RecordKind]int, len(models.AllRecordKinds))
	for _, k := range models.AllRecordKinds {
		counts[k] = 0
	}
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}

// Get fetches a single pending record by kind and localId.
func (s *Store) Get(ctx context.Context, kind models.RecordKind, localId int) (*models.PendingRecord, error) {
	var rec models.PendingRecord
	err := s.DB.WithContext(ctx).
		Where("kind = ? AND id = ?", kind, localId).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, &utils.DurableStorageError{Op: "get", Err: err}
	}
	return &rec, nil
}
