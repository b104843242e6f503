package possync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/inventory"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

const (
	maxStockRetries = 3
	passLockKey     = "pos:sync-pass"
	passLockTTL     = 2 * time.Minute
)

// Engine drains the local durable queue into the remote store with at
// most one logical effect per record, even though record insert, line
// items and stock adjustment are not atomic remotely.
//
// Exactly one pass runs at a time. The guard is an atomic token taken
// synchronously before any I/O: an online signal, the startup check, the
// retry scheduler and the manual retry endpoint can all fire together
// and only one of them wins.
type Engine struct {
	Queue      Queue
	Remote     RemoteStore
	Projection *inventory.Projection
	Uploader   Uploader
	Audit      Audit
	Online     OnlineChecker
	Logger     *logrus.Logger

	// Locker, when set, additionally takes a cross-device lock so two
	// terminals sharing a backend do not reconcile concurrently.
	Locker *redislock.Client

	// PostSync callbacks refresh dependent read views after every pass.
	PostSync []func(context.Context)

	syncing atomic.Bool
}

func NewEngine(q Queue, remote RemoteStore, projection *inventory.Projection, uploader Uploader, audit Audit, online OnlineChecker, logger *logrus.Logger) *Engine {
	return &Engine{
		Queue:      q,
		Remote:     remote,
		Projection: projection,
		Uploader:   uploader,
		Audit:      audit,
		Online:     online,
		Logger:     logger,
	}
}

// TrySync starts a reconciliation pass in the background unless one is
// already in flight. Returns whether a pass was started. Safe to call
// from the connectivity monitor's at-least-once callbacks.
func (e *Engine) TrySync(ctx context.Context, trigger string) bool {
	if !e.syncing.CompareAndSwap(false, true) {
		SyncSkippedTotal.Inc()
		e.Logger.WithFields(logrus.Fields{
			"module":  "possync",
			"trigger": trigger,
		}).Info("sync already in flight; trigger ignored")
		return false
	}
	go func(ctx context.Context) {
		defer e.syncing.Store(false)
		_ = e.runPass(ctx, trigger)
	}(context.WithoutCancel(ctx))
	return true
}

// Sync runs a reconciliation pass inline. Same guard as TrySync; returns
// nil without running when a pass is already in flight.
func (e *Engine) Sync(ctx context.Context, trigger string) error {
	if !e.syncing.CompareAndSwap(false, true) {
		SyncSkippedTotal.Inc()
		return nil
	}
	defer e.syncing.Store(false)
	return e.runPass(ctx, trigger)
}

// PendingCounts feeds the aggregate pending-items indicator.
func (e *Engine) PendingCounts(ctx context.Context) (map[models.RecordKind]int, error) {
	return e.Queue.CountPending(ctx)
}

// LastRun returns the most recent reconciliation pass, if any.
func (e *Engine) LastRun(ctx context.Context) (*models.SyncRun, error) {
	return e.Audit.LastRun(ctx)
}

func (e *Engine) runPass(ctx context.Context, trigger string) error {
	if e.Locker != nil {
		lock, err := e.Locker.Obtain(ctx, passLockKey, passLockTTL, nil)
		if err != nil {
			if errors.Is(err, redislock.ErrNotObtained) {
				e.Logger.WithField("module", "possync").Info("another device holds the sync lock; skipping pass")
				return nil
			}
			config.LogError(e.Logger, "possync", "runPass", "obtain pass lock", nil, err)
			return err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	run := e.Audit.BeginRun(ctx, trigger)

	snapshot, err := e.Queue.ListAll(ctx)
	if err != nil {
		// Cannot even read the queue: abort the whole pass.
		config.LogError(e.Logger, "possync", "runPass", "read queue", nil, err)
		e.Audit.FinishRun(ctx, run, models.SyncRunStatusFailed, 0, 1)
		SyncRunsTotal.WithLabelValues(models.SyncRunStatusFailed).Inc()
		return err
	}

	synced := 0
	errorCount := 0

	// Three independent ordered passes; one record's failure never
	// blocks the rest.
	for _, rec := range snapshot.Sales {
		if err := e.processSale(ctx, run, rec); err != nil {
			errorCount++
		} else {
			synced++
		}
	}
	for _, rec := range snapshot.Expenses {
		if err := e.processExpense(ctx, run, rec); err != nil {
			errorCount++
		} else {
			synced++
		}
	}
	for _, rec := range snapshot.Purchases {
		if err := e.processPurchase(ctx, run, rec); err != nil {
			errorCount++
		} else {
			synced++
		}
	}

	// The remote may have changed independently while offline: refresh
	// even when nothing was processed.
	if err := e.Projection.RefreshFromRemote(ctx); err != nil {
		config.LogError(e.Logger, "possync", "runPass", "refresh projection", nil, err)
	}
	for _, fn := range e.PostSync {
		fn(ctx)
	}
	e.updatePendingGauge(ctx)

	status := models.SyncRunStatusSuccess
	if errorCount > 0 && synced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}
	e.Audit.FinishRun(ctx, run, status, synced, errorCount)
	SyncRunsTotal.WithLabelValues(status).Inc()

	e.Logger.WithFields(logrus.Fields{
		"module":         "possync",
		"trigger":        trigger,
		"status":         status,
		"records_synced": synced,
		"error_count":    errorCount,
	}).Info("reconciliation pass finished")
	return nil
}

// processSale reconciles one queued sale. rec is a value snapshot of the
// queue row; every step works on it explicitly rather than via captured
// state, so a projection or queue change mid-pass cannot leak in.
func (e *Engine) processSale(ctx context.Context, run *models.SyncRun, rec models.PendingRecord) error {
	e.beginAttempt(&rec)

	payload, err := rec.SalePayload()
	if err != nil {
		return e.recordFailure(ctx, run, &rec, "decode", err)
	}

	if rec.RemoteId == nil {
		existing, err := e.Remote.FindSaleByOrigin(ctx, rec.CreatedBy, rec.LogicalTimestamp)
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "lookup", err)
		}
		if existing != nil {
			// Already persisted remotely with no local progress
			// recorded: confirmed duplicate. Remove without re-running
			// any side effect.
			return e.confirmDuplicate(ctx, rec, existing.ID, existing.TicketNumber)
		}

		created, err := e.Remote.InsertSale(ctx, models.RemoteSale{
			CreatedAt:     rec.LogicalTimestamp,
			Total:         payload.Total,
			Status:        payload.Status,
			PaymentMethod: payload.PaymentMethod,
			CustomerName:  payload.CustomerName,
			CreatedBy:     rec.CreatedBy,
			SyncToken:     rec.SyncToken,
		})
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "primary insert", err)
		}

		// Persist the remote id before any dependent write: a crash
		// from here on resumes instead of inserting a second primary.
		rec.RemoteId = &created.ID
		rec.TicketNumber = created.TicketNumber
		if err := e.Queue.SaveProgress(ctx, &rec); err != nil {
			return e.recordFailure(ctx, run, &rec, "save progress", err)
		}
	}

	// Progress is persisted after every dependent write, not just at the
	// end: if the process dies anywhere past this point, the next pass
	// resumes at the first item that did not land, instead of re-running
	// writes that did.
	for i := rec.ItemsSynced; i < len(payload.Items); i++ {
		item := payload.Items[i]
		err := e.Remote.InsertSaleItem(ctx, models.RemoteSaleItem{
			SaleId:    *rec.RemoteId,
			ProductId: item.ProductId,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "line items", &utils.PartialSyncError{Step: "line items", Err: err})
		}
		rec.ItemsSynced = i + 1
		if err := e.Queue.SaveProgress(ctx, &rec); err != nil {
			return e.recordFailure(ctx, run, &rec, "save progress", err)
		}
	}

	for i := rec.StockApplied; i < len(payload.Items); i++ {
		item := payload.Items[i]
		if err := e.decrementStock(ctx, item.ProductId, item.Quantity); err != nil {
			return e.recordFailure(ctx, run, &rec, "stock", &utils.PartialSyncError{Step: "stock", Err: err})
		}
		rec.StockApplied = i + 1
		if err := e.Queue.SaveProgress(ctx, &rec); err != nil {
			return e.recordFailure(ctx, run, &rec, "save progress", err)
		}
	}

	return e.finishRecord(ctx, rec)
}

func (e *Engine) processExpense(ctx context.Context, run *models.SyncRun, rec models.PendingRecord) error {
	e.beginAttempt(&rec)

	payload, err := rec.ExpensePayload()
	if err != nil {
		return e.recordFailure(ctx, run, &rec, "decode", err)
	}

	if rec.RemoteId == nil {
		existing, err := e.Remote.FindExpenseByOrigin(ctx, rec.CreatedBy, rec.LogicalTimestamp)
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "lookup", err)
		}
		if existing != nil {
			return e.confirmDuplicate(ctx, rec, existing.ID, 0)
		}

		e.uploadAttachment(ctx, &rec)

		created, err := e.Remote.InsertExpense(ctx, models.RemoteExpense{
			Concepto:  payload.Concept,
			Categoria: payload.Category,
			Monto:     payload.Amount,
			Fecha:     payload.BusinessDate,
			CreatedBy: rec.CreatedBy,
			CreatedAt: rec.LogicalTimestamp,
			TicketURL: rec.TicketURL,
			SyncToken: rec.SyncToken,
		})
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "primary insert", err)
		}
		rec.RemoteId = &created.ID
	}

	return e.finishRecord(ctx, rec)
}

func (e *Engine) processPurchase(ctx context.Context, run *models.SyncRun, rec models.PendingRecord) error {
	e.beginAttempt(&rec)

	payload, err := rec.PurchasePayload()
	if err != nil {
		return e.recordFailure(ctx, run, &rec, "decode", err)
	}

	if rec.RemoteId == nil {
		existing, err := e.Remote.FindPurchaseByOrigin(ctx, rec.CreatedBy, rec.LogicalTimestamp)
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "lookup", err)
		}
		if existing != nil {
			return e.confirmDuplicate(ctx, rec, existing.ID, 0)
		}

		e.uploadAttachment(ctx, &rec)

		created, err := e.Remote.InsertPurchase(ctx, models.RemotePurchase{
			Total:     payload.Total,
			CreatedBy: rec.CreatedBy,
			CreatedAt: rec.LogicalTimestamp,
			TicketURL: rec.TicketURL,
			SyncToken: rec.SyncToken,
		})
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "primary insert", err)
		}

		rec.RemoteId = &created.ID
		if err := e.Queue.SaveProgress(ctx, &rec); err != nil {
			return e.recordFailure(ctx, run, &rec, "save progress", err)
		}
	}

	for i := rec.ItemsSynced; i < len(payload.Items); i++ {
		item := payload.Items[i]
		err := e.Remote.InsertPurchaseItem(ctx, models.RemotePurchaseItem{
			PurchaseId: *rec.RemoteId,
			ProductId:  item.ProductId,
			Quantity:   item.Quantity,
			Cost:       item.UnitCost,
		})
		if err != nil {
			return e.recordFailure(ctx, run, &rec, "line items", &utils.PartialSyncError{Step: "line items", Err: err})
		}
		rec.ItemsSynced = i + 1
		if err := e.Queue.SaveProgress(ctx, &rec); err != nil {
			return e.recordFailure(ctx, run, &rec, "save progress", err)
		}
	}

	// Purchase stock increments are applied by a remote-store trigger,
	// never by this engine.
	return e.finishRecord(ctx, rec)
}

// decrementStock applies `current - qty` through the guarded update,
// re-reading on conflict. Not fully safe against two devices selling the
// same product at once when the backend cannot enforce the guard; the
// bounded retry narrows the window without hiding it.
func (e *Engine) decrementStock(ctx context.Context, productId string, qty int) error {
	for attempt := 0; attempt < maxStockRetries; attempt++ {
		current, err := e.Remote.GetStock(ctx, productId)
		if err != nil {
			return err
		}
		err = e.Remote.UpdateStockGuarded(ctx, productId, current, current-qty)
		if err == nil {
			return nil
		}
		if !errors.Is(err, utils.ErrStockConflict) {
			return err
		}
	}
	return fmt.Errorf("stock update for product %s kept conflicting", productId)
}

// uploadAttachment pushes the receipt blob, if any, and stores the URL on
// the snapshot. A failed upload never blocks the primary record write:
// the record syncs with a null ticket URL.
func (e *Engine) uploadAttachment(ctx context.Context, rec *models.PendingRecord) {
	if !rec.HasAttachment() || rec.TicketURL != nil {
		return
	}
	url, err := e.Uploader.Upload(ctx, rec.AttachmentName, rec.AttachmentMime, rec.AttachmentData)
	if err != nil {
		config.LogError(e.Logger, "possync", "uploadAttachment", fmt.Sprintf("%s local_id=%d", rec.Kind, rec.ID), nil, err)
		return
	}
	rec.TicketURL = &url
	// Persist so a later retry reuses the uploaded object instead of
	// uploading again.
	if err := e.Queue.SaveProgress(ctx, rec); err != nil {
		config.LogError(e.Logger, "possync", "uploadAttachment", "save ticket url", nil, err)
	}
}

func (e *Engine) beginAttempt(rec *models.PendingRecord) {
	now := time.Now()
	rec.Attempts++
	rec.LastAttemptAt = &now
}

func (e *Engine) confirmDuplicate(ctx context.Context, rec models.PendingRecord, remoteId string, ticketNumber int64) error {
	if err := e.Queue.Remove(ctx, rec.Kind, rec.ID); err != nil {
		config.LogError(e.Logger, "possync", "confirmDuplicate", "remove", nil, err)
		return err
	}
	e.Audit.RecordMapping(ctx, models.SyncMapping{
		Kind:         rec.Kind,
		LocalId:      rec.ID,
		RemoteId:     remoteId,
		TicketNumber: ticketNumber,
		Duplicate:    true,
	})
	RecordsSyncedTotal.WithLabelValues(string(rec.Kind)).Inc()
	e.Logger.WithFields(logrus.Fields{
		"module":    "possync",
		"kind":      rec.Kind,
		"local_id":  rec.ID,
		"remote_id": remoteId,
	}).Info("offline record already persisted remotely; confirmed duplicate")
	return nil
}

func (e *Engine) finishRecord(ctx context.Context, rec models.PendingRecord) error {
	if err := e.Queue.Remove(ctx, rec.Kind, rec.ID); err != nil {
		config.LogError(e.Logger, "possync", "finishRecord", "remove", nil, err)
		return err
	}
	e.Audit.RecordMapping(ctx, models.SyncMapping{
		Kind:         rec.Kind,
		LocalId:      rec.ID,
		RemoteId:     *rec.RemoteId,
		TicketNumber: rec.TicketNumber,
	})
	RecordsSyncedTotal.WithLabelValues(string(rec.Kind)).Inc()
	e.Logger.WithFields(logrus.Fields{
		"module":    "possync",
		"kind":      rec.Kind,
		"local_id":  rec.ID,
		"remote_id": *rec.RemoteId,
	}).Info("offline record synced")
	return nil
}

// recordFailure logs one record's failure, persists its progress and
// moves on; the record stays queued for the next pass.
func (e *Engine) recordFailure(ctx context.Context, run *models.SyncRun, rec *models.PendingRecord, step string, err error) error {
	msg := err.Error()
	rec.LastError = &msg
	if saveErr := e.Queue.SaveProgress(ctx, rec); saveErr != nil {
		config.LogError(e.Logger, "possync", "recordFailure", "save progress", nil, saveErr)
	}
	e.Audit.RecordError(ctx, run.ID, rec.Kind, rec.ID, step, err)
	SyncErrorsTotal.WithLabelValues(string(rec.Kind), step).Inc()
	config.LogError(e.Logger, "possync", "recordFailure",
		fmt.Sprintf("%s local_id=%d step=%s", rec.Kind, rec.ID, step), nil, err)
	return err
}

func (e *Engine) updatePendingGauge(ctx context.Context) {
	counts, err := e.Queue.CountPending(ctx)
	if err != nil {
		return
	}
	for kind, n := range counts {
		PendingRecordsGauge.WithLabelValues(string(kind)).Set(float64(n))
	}
}
