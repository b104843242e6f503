package models

// RecordKind discriminates the pending-record sum type.
type RecordKind string

const (
	RecordKindSale     RecordKind = "SALE"
	RecordKindExpense  RecordKind = "EXPENSE"
	RecordKindPurchase RecordKind = "PURCHASE"
)

// AllRecordKinds in reconciliation order: sales, then expenses, then
// purchases. Order across kinds is not atomic relative to each other.
var AllRecordKinds = []RecordKind{RecordKindSale, RecordKindExpense, RecordKindPurchase}

func (k RecordKind) Valid() bool {
	switch k {
	case RecordKindSale, RecordKindExpense, RecordKindPurchase:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleStatusReceived  SaleStatus = "received"
	SaleStatusDelivered SaleStatus = "delivered"
	SaleStatusCancelled SaleStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
	// PaymentMethodDeferred marks pay-later sales; these require a
	// customer name so the debt can be collected.
	PaymentMethodDeferred PaymentMethod = "deferred"
)

// Sync run statuses, kept as strings (DB values).
const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

// What started a reconciliation pass.
const (
	SyncTriggeredOnline  = "online"
	SyncTriggeredStartup = "startup"
	SyncTriggeredManual  = "manual"
	SyncTriggeredSystem  = "system"
)

// Commit outcomes surfaced to the transaction-builder boundary.
type CommitStatus string

const (
	CommitStatusOk     CommitStatus = "ok"
	CommitStatusQueued CommitStatus = "queued"
)
