package possync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/inventory"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

// In-memory doubles for the queue, the remote store, the uploader and the
// audit trail. They mirror the real adapters' observable behavior so the
// engine and commit paths can be exercised without MySQL or a network.

type fakeQueue struct {
	mu      sync.Mutex
	nextId  int
	records map[int]models.PendingRecord
	listErr error

	// removeErr, when set, fails the next Remove call once. Simulates a
	// local storage hiccup after the remote writes already landed.
	removeErr error

	// saveLog records every persisted progress snapshot in order.
	saveLog []models.PendingRecord

	// listGate, when set, blocks ListAll until closed. Used to hold a
	// pass open while asserting the single-flight guard.
	listGate chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{records: map[int]models.PendingRecord{}}
}

func (q *fakeQueue) Enqueue(ctx context.Context, kind models.RecordKind, payload any, logicalTimestamp string, createdBy string, attachment *queue.Attachment) (int, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextId++
	rec := models.PendingRecord{
		ID:               q.nextId,
		Kind:             kind,
		PayloadJSON:      payloadJSON,
		LogicalTimestamp: logicalTimestamp,
		CreatedBy:        createdBy,
		SyncToken:        fmt.Sprintf("tok-%d", q.nextId),
	}
	if attachment != nil {
		rec.AttachmentData = attachment.Data
		rec.AttachmentName = attachment.Name
		rec.AttachmentMime = attachment.Mime
	}
	q.records[rec.ID] = rec
	return rec.ID, nil
}

func (q *fakeQueue) ListAll(ctx context.Context) (models.QueueSnapshot, error) {
	if q.listGate != nil {
		<-q.listGate
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.listErr != nil {
		return models.QueueSnapshot{}, q.listErr
	}
	ids := make([]int, 0, len(q.records))
	for id := range q.records {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var snap models.QueueSnapshot
	for _, id := range ids {
		rec := q.records[id]
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

func (q *fakeQueue) Remove(ctx context.Context, kind models.RecordKind, localId int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.removeErr != nil {
		err := q.removeErr
		q.removeErr = nil
		return err
	}
	delete(q.records, localId)
	return nil
}

func (q *fakeQueue) SaveProgress(ctx context.Context, rec *models.PendingRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stored, ok := q.records[rec.ID]
	if !ok {
		return nil
	}
	stored.RemoteId = rec.RemoteId
	stored.TicketNumber = rec.TicketNumber
	stored.TicketURL = rec.TicketURL
	stored.ItemsSynced = rec.ItemsSynced
	stored.StockApplied = rec.StockApplied
	stored.Attempts = rec.Attempts
	stored.LastError = rec.LastError
	stored.LastAttemptAt = rec.LastAttemptAt
	q.records[rec.ID] = stored
	q.saveLog = append(q.saveLog, stored)
	return nil
}

func (q *fakeQueue) CountPending(ctx context.Context) (map[models.RecordKind]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := map[models.RecordKind]int{}
	for _, k := range models.AllRecordKinds {
		counts[k] = 0
	}
	for _, rec := range q.records {
		counts[rec.Kind]++
	}
	return counts, nil
}

func (q *fakeQueue) get(localId int) (models.PendingRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[localId]
	return rec, ok
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

func (q *fakeQueue) savedProgress() []models.PendingRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.PendingRecord, len(q.saveLog))
	copy(out, q.saveLog)
	return out
}

type fakeRemote struct {
	mu sync.Mutex

	sales         []models.RemoteSale
	saleItems     []models.RemoteSaleItem
	expenses      []models.RemoteExpense
	purchases     []models.RemotePurchase
	purchaseItems []models.RemotePurchaseItem
	stock         map[string]int

	nextId int

	failSaleInsert     error
	failPurchaseInsert error
	saleItemCalls      int
	failSaleItemOnCall int
	stockConflicts     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{stock: map[string]int{}}
}

func (r *fakeRemote) Health(ctx context.Context) error { return nil }

func (r *fakeRemote) FindSaleByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sales {
		if r.sales[i].CreatedBy == createdBy && r.sales[i].CreatedAt == logicalTimestamp {
			found := r.sales[i]
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRemote) InsertSale(ctx context.Context, sale models.RemoteSale) (models.RemoteSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaleInsert != nil {
		return models.RemoteSale{}, r.failSaleInsert
	}
	r.nextId++
	sale.ID = fmt.Sprintf("rs-%d", r.nextId)
	sale.TicketNumber = int64(1000 + r.nextId)
	r.sales = append(r.sales, sale)
	return sale, nil
}

func (r *fakeRemote) InsertSaleItem(ctx context.Context, item models.RemoteSaleItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saleItemCalls++
	if r.failSaleItemOnCall > 0 && r.saleItemCalls == r.failSaleItemOnCall {
		return fmt.Errorf("sale item insert refused")
	}
	r.saleItems = append(r.saleItems, item)
	return nil
}

func (r *fakeRemote) FindExpenseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteExpense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.expenses {
		if r.expenses[i].CreatedBy == createdBy && r.expenses[i].CreatedAt == logicalTimestamp {
			found := r.expenses[i]
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRemote) InsertExpense(ctx context.Context, expense models.RemoteExpense) (models.RemoteExpense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextId++
	expense.ID = fmt.Sprintf("re-%d", r.nextId)
	r.expenses = append(r.expenses, expense)
	return expense, nil
}

func (r *fakeRemote) FindPurchaseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemotePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.purchases {
		if r.purchases[i].CreatedBy == createdBy && r.purchases[i].CreatedAt == logicalTimestamp {
			found := r.purchases[i]
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRemote) InsertPurchase(ctx context.Context, purchase models.RemotePurchase) (models.RemotePurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failPurchaseInsert != nil {
		return models.RemotePurchase{}, r.failPurchaseInsert
	}
	r.nextId++
	purchase.ID = fmt.Sprintf("rp-%d", r.nextId)
	r.purchases = append(r.purchases, purchase)
	return purchase, nil
}

func (r *fakeRemote) InsertPurchaseItem(ctx context.Context, item models.RemotePurchaseItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purchaseItems = append(r.purchaseItems, item)
	return nil
}

func (r *fakeRemote) GetStock(ctx context.Context, productId string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productId], nil
}

func (r *fakeRemote) UpdateStockGuarded(ctx context.Context, productId string, expected, next int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stockConflicts > 0 {
		r.stockConflicts--
		return utils.ErrStockConflict
	}
	if r.stock[productId] != expected {
		return utils.ErrStockConflict
	}
	r.stock[productId] = next
	return nil
}

func (r *fakeRemote) ListStock(ctx context.Context) ([]models.InventoryLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.stock))
	for id := range r.stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	levels := make([]models.InventoryLevel, 0, len(ids))
	for _, id := range ids {
		levels = append(levels, models.InventoryLevel{ProductId: id, Stock: r.stock[id]})
	}
	return levels, nil
}

func (r *fakeRemote) stockOf(productId string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[productId]
}

func (r *fakeRemote) saleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

func (r *fakeRemote) saleItemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saleItems)
}

type fakeUploader struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
}

func (u *fakeUploader) Upload(ctx context.Context, name, mime string, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	if u.url == "" {
		return "https://storage.example.com/receipts/" + name, nil
	}
	return u.url, nil
}

type recordedError struct {
	kind models.RecordKind
	step string
}

type fakeAudit struct {
	mu       sync.Mutex
	runs     int
	statuses []string
	errors   []recordedError
	mappings []models.SyncMapping
}

func (a *fakeAudit) BeginRun(ctx context.Context, trigger string) *models.SyncRun {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs++
	return &models.SyncRun{ID: uint(a.runs), Status: models.SyncRunStatusRunning, TriggeredBy: trigger}
}

func (a *fakeAudit) FinishRun(ctx context.Context, run *models.SyncRun, status string, recordsSynced, errorCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	run.Status = status
	run.RecordsSynced = recordsSynced
	run.ErrorCount = errorCount
	a.statuses = append(a.statuses, status)
}

func (a *fakeAudit) RecordError(ctx context.Context, runId uint, kind models.RecordKind, localId int, step string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, recordedError{kind: kind, step: step})
}

func (a *fakeAudit) RecordMapping(ctx context.Context, mapping models.SyncMapping) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mappings = append(a.mappings, mapping)
}

func (a *fakeAudit) LastRun(ctx context.Context) (*models.SyncRun, error) {
	return nil, nil
}

func (a *fakeAudit) lastStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.statuses) == 0 {
		return ""
	}
	return a.statuses[len(a.statuses)-1]
}

func (a *fakeAudit) mappingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mappings)
}

type stubOnline struct{ online bool }

func (s *stubOnline) Online() bool { return s.online }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(q *fakeQueue, r *fakeRemote, online bool) (*Engine, *fakeAudit, *fakeUploader) {
	audit := &fakeAudit{}
	uploader := &fakeUploader{}
	logger := quietLogger()
	engine := NewEngine(q, r, inventory.NewProjection(r, logger), uploader, audit, &stubOnline{online: online}, logger)
	return engine, audit, uploader
}
