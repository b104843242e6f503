package models

import (
	"encoding/json"
	"errors"
	"time"
)

// PendingRecord is one row of the local durable queue: a sale, expense or
// purchase captured while offline, waiting to be reconciled with the
// remote store.
//
// ID is the localId: auto-assigned, ordering-stable, never reused. Once a
// row is removed (synced or confirmed duplicate) it is never reprocessed.
type PendingRecord struct {
	ID   int        `gorm:"primary_key" json:"id"`
	Kind RecordKind `gorm:"size:20;not null;index" json:"kind"`

	// PayloadJSON holds the kind-specific payload; decode with the
	// matching payload type.
	PayloadJSON []byte `gorm:"type:json;not null" json:"payload"`

	// LogicalTimestamp is captured once at the originating user action,
	// normalized to the fixed business timezone, and never regenerated.
	// Together with CreatedBy it forms the idempotency key.
	LogicalTimestamp string `gorm:"size:40;not null;index:idx_pending_origin" json:"logical_timestamp"`
	CreatedBy        string `gorm:"size:64;not null;index:idx_pending_origin" json:"created_by"`

	// SyncToken is a client-generated UUID assigned at enqueue. It is sent
	// with the primary insert so a remote uniqueness constraint can
	// enforce exactly-once; the composite lookup above remains the check
	// this engine performs.
	SyncToken string `gorm:"size:36;not null" json:"sync_token"`

	// Optional attachment (receipt photo); owned by the record until
	// synced or discarded.
	AttachmentData []byte `gorm:"type:longblob" json:"-"`
	AttachmentName string `gorm:"size:255" json:"attachment_name"`
	AttachmentMime string `gorm:"size:100" json:"attachment_mime"`

	// Reconciliation progress. RemoteId and TicketNumber are persisted
	// the moment the primary insert succeeds; ItemsSynced counts
	// dependent line items already inserted; StockApplied counts line
	// items whose stock decrement was applied, advanced one decrement at
	// a time. A retry resumes exactly where the last pass stopped instead
	// of re-running the primary insert or re-deducting stock.
	RemoteId      *string    `gorm:"size:64" json:"remote_id"`
	TicketNumber  int64      `gorm:"not null;default:0" json:"ticket_number"`
	TicketURL     *string    `gorm:"size:512" json:"ticket_url"`
	ItemsSynced   int        `gorm:"not null;default:0" json:"items_synced"`
	StockApplied  int        `gorm:"not null;default:0" json:"stock_applied"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	LastError     *string    `gorm:"type:text" json:"last_error"`
	LastAttemptAt *time.Time `json:"last_attempt_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PendingRecord) TableName() string { return "pending_records" }

func (r *PendingRecord) HasAttachment() bool {
	return len(r.AttachmentData) > 0
}

func (r *PendingRecord) SalePayload() (SalePayload, error) {
	if r.Kind != RecordKindSale {
		return SalePayload{}, errors.New("pending record is not a sale")
	}
	var p SalePayload
	err := json.Unmarshal(r.PayloadJSON, &p)
	return p, err
}

func (r *PendingRecord) ExpensePayload() (ExpensePayload, error) {
	if r.Kind != RecordKindExpense {
		return ExpensePayload{}, errors.New("pending record is not an expense")
	}
	var p ExpensePayload
	err := json.Unmarshal(r.PayloadJSON, &p)
	return p, err
}

func (r *PendingRecord) PurchasePayload() (PurchasePayload, error) {
	if r.Kind != RecordKindPurchase {
		return PurchasePayload{}, errors.New("pending record is not a purchase")
	}
	var p PurchasePayload
	err := json.Unmarshal(r.PayloadJSON, &p)
	return p, err
}

// QueueSnapshot is a fully materialized view of committed queue entries,
// split per kind, each slice in enqueue order.
type QueueSnapshot struct {
	Sales     []PendingRecord
	Expenses  []PendingRecord
	Purchases []PendingRecord
}

func (s QueueSnapshot) Total() int {
	return len(s.Sales) + len(s.Expenses) + len(s.Purchases)
}
