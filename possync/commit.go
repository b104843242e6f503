package possync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
	"bitbucket.org/mmdatafocus/pos_sync_core/utils"
)

var validate = validator.New()

// CommitResult reports where a committed transaction ended up: written
// straight to the remote store (ok) or parked in the local queue
// (queued). LocalId is set only when queued; RemoteId and TicketNumber
// only on direct writes that return them.
type CommitResult struct {
	Status       models.CommitStatus `json:"status"`
	LocalId      int                 `json:"local_id,omitempty"`
	RemoteId     string              `json:"remote_id,omitempty"`
	TicketNumber int64               `json:"ticket_number,omitempty"`
}

// CommitSale validates a finished sale and routes it by connectivity:
// online writes go straight through; offline the sale is enqueued and
// the stock projection is decremented optimistically so the next sale
// sees the reduced levels.
//
// Validation always runs against local state regardless of
// connectivity, so an invalid transaction is rejected identically
// online and offline.
func (e *Engine) CommitSale(ctx context.Context, payload models.SalePayload, attachment *queue.Attachment) (CommitResult, error) {
	if err := validate.Struct(payload); err != nil {
		return CommitResult{}, firstValidationError(err)
	}
	if !payload.Total.Equal(payload.ItemsTotal()) {
		return CommitResult{}, utils.NewValidationError("total", "total does not match the sum of line items")
	}
	if payload.PaymentMethod == models.PaymentMethodDeferred && payload.CustomerName == "" {
		return CommitResult{}, utils.NewValidationError("customer_name", "deferred payment requires a customer name")
	}
	if err := e.checkStockAvailability(payload.Items); err != nil {
		return CommitResult{}, err
	}

	createdBy := operatorFromContext(ctx)
	logicalTimestamp := utils.LogicalTimestamp(time.Now())

	if !e.Online.Online() {
		localId, err := e.Queue.Enqueue(ctx, models.RecordKindSale, payload, logicalTimestamp, createdBy, attachment)
		if err != nil {
			return CommitResult{}, err
		}
		for _, item := range payload.Items {
			e.Projection.ApplyOptimisticDelta(item.ProductId, -item.Quantity)
		}
		e.updatePendingGauge(ctx)
		e.logCommit(models.RecordKindSale, models.CommitStatusQueued, localId)
		return CommitResult{Status: models.CommitStatusQueued, LocalId: localId}, nil
	}

	// Direct write. CreatedAt stays empty so the server assigns it.
	created, err := e.Remote.InsertSale(ctx, models.RemoteSale{
		Total:         payload.Total,
		Status:        payload.Status,
		PaymentMethod: payload.PaymentMethod,
		CustomerName:  payload.CustomerName,
		CreatedBy:     createdBy,
	})
	if err != nil {
		return CommitResult{}, &utils.RemoteWriteError{Op: "insert sale", Err: err}
	}
	for _, item := range payload.Items {
		err := e.Remote.InsertSaleItem(ctx, models.RemoteSaleItem{
			SaleId:    created.ID,
			ProductId: item.ProductId,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice,
		})
		if err != nil {
			return CommitResult{}, &utils.RemoteWriteError{Op: "insert sale item", Err: err}
		}
	}
	for _, item := range payload.Items {
		if err := e.decrementStock(ctx, item.ProductId, item.Quantity); err != nil {
			return CommitResult{}, &utils.RemoteWriteError{Op: "decrement stock", Err: err}
		}
		e.Projection.ApplyOptimisticDelta(item.ProductId, -item.Quantity)
	}
	e.logCommit(models.RecordKindSale, models.CommitStatusOk, 0)
	return CommitResult{Status: models.CommitStatusOk, RemoteId: created.ID, TicketNumber: created.TicketNumber}, nil
}

// CommitExpense validates and routes an expense. The business date is a
// calendar day in the business timezone, derived here when empty so
// callers near midnight UTC still bucket to the right local day.
func (e *Engine) CommitExpense(ctx context.Context, payload models.ExpensePayload, attachment *queue.Attachment) (CommitResult, error) {
	if payload.BusinessDate == "" {
		payload.BusinessDate = utils.BusinessDay(time.Now())
	}
	if err := validate.Struct(payload); err != nil {
		return CommitResult{}, firstValidationError(err)
	}
	if !payload.Amount.IsPositive() {
		return CommitResult{}, utils.NewValidationError("amount", "amount must be positive")
	}

	createdBy := operatorFromContext(ctx)
	logicalTimestamp := utils.LogicalTimestamp(time.Now())

	if !e.Online.Online() {
		localId, err := e.Queue.Enqueue(ctx, models.RecordKindExpense, payload, logicalTimestamp, createdBy, attachment)
		if err != nil {
			return CommitResult{}, err
		}
		e.updatePendingGauge(ctx)
		e.logCommit(models.RecordKindExpense, models.CommitStatusQueued, localId)
		return CommitResult{Status: models.CommitStatusQueued, LocalId: localId}, nil
	}

	var ticketURL *string
	if attachment != nil && len(attachment.Data) > 0 {
		url, err := e.Uploader.Upload(ctx, attachment.Name, attachment.Mime, attachment.Data)
		if err != nil {
			// The record still goes through with a null ticket URL.
			config.LogError(e.Logger, "possync", "CommitExpense", "upload ticket", nil, err)
		} else {
			ticketURL = &url
		}
	}

	created, err := e.Remote.InsertExpense(ctx, models.RemoteExpense{
		Concepto:  payload.Concept,
		Categoria: payload.Category,
		Monto:     payload.Amount,
		Fecha:     payload.BusinessDate,
		CreatedBy: createdBy,
		TicketURL: ticketURL,
	})
	if err != nil {
		return CommitResult{}, &utils.RemoteWriteError{Op: "insert expense", Err: err}
	}
	e.logCommit(models.RecordKindExpense, models.CommitStatusOk, 0)
	return CommitResult{Status: models.CommitStatusOk, RemoteId: created.ID}, nil
}

// CommitPurchase validates and routes a restock purchase. Stock
// increments are owned by a remote-store trigger, so the optimistic
// delta here only anticipates what that trigger will do.
func (e *Engine) CommitPurchase(ctx context.Context, payload models.PurchasePayload, attachment *queue.Attachment) (CommitResult, error) {
	if err := validate.Struct(payload); err != nil {
		return CommitResult{}, firstValidationError(err)
	}
	if !payload.Total.Equal(payload.ItemsTotal()) {
		return CommitResult{}, utils.NewValidationError("total", "total does not match the sum of line items")
	}

	createdBy := operatorFromContext(ctx)
	logicalTimestamp := utils.LogicalTimestamp(time.Now())

	if !e.Online.Online() {
		localId, err := e.Queue.Enqueue(ctx, models.RecordKindPurchase, payload, logicalTimestamp, createdBy, attachment)
		if err != nil {
			return CommitResult{}, err
		}
		for _, item := range payload.Items {
			e.Projection.ApplyOptimisticDelta(item.ProductId, item.Quantity)
		}
		e.updatePendingGauge(ctx)
		e.logCommit(models.RecordKindPurchase, models.CommitStatusQueued, localId)
		return CommitResult{Status: models.CommitStatusQueued, LocalId: localId}, nil
	}

	var ticketURL *string
	if attachment != nil && len(attachment.Data) > 0 {
		url, err := e.Uploader.Upload(ctx, attachment.Name, attachment.Mime, attachment.Data)
		if err != nil {
			config.LogError(e.Logger, "possync", "CommitPurchase", "upload ticket", nil, err)
		} else {
			ticketURL = &url
		}
	}

	created, err := e.Remote.InsertPurchase(ctx, models.RemotePurchase{
		Total:     payload.Total,
		CreatedBy: createdBy,
		TicketURL: ticketURL,
	})
	if err != nil {
		return CommitResult{}, &utils.RemoteWriteError{Op: "insert purchase", Err: err}
	}
	for _, item := range payload.Items {
		err := e.Remote.InsertPurchaseItem(ctx, models.RemotePurchaseItem{
			PurchaseId: created.ID,
			ProductId:  item.ProductId,
			Quantity:   item.Quantity,
			Cost:       item.UnitCost,
		})
		if err != nil {
			return CommitResult{}, &utils.RemoteWriteError{Op: "insert purchase item", Err: err}
		}
		e.Projection.ApplyOptimisticDelta(item.ProductId, item.Quantity)
	}
	e.logCommit(models.RecordKindPurchase, models.CommitStatusOk, 0)
	return CommitResult{Status: models.CommitStatusOk, RemoteId: created.ID}, nil
}

// checkStockAvailability validates cart quantities against the cached
// projection, aggregating per product so two lines of the same product
// cannot together oversell it.
func (e *Engine) checkStockAvailability(items []models.SaleLineItem) error {
	needed := map[string]int{}
	for _, item := range items {
		needed[item.ProductId] += item.Quantity
	}
	for productId, qty := range needed {
		current, ok := e.Projection.Get(productId)
		if !ok {
			return utils.NewValidationError("items", fmt.Sprintf("unknown product %s", productId))
		}
		if qty > current {
			return utils.NewValidationError("items", fmt.Sprintf("insufficient stock for product %s: need %d, have %d", productId, qty, current))
		}
	}
	return nil
}

func (e *Engine) logCommit(kind models.RecordKind, status models.CommitStatus, localId int) {
	fields := logrus.Fields{
		"module": "possync",
		"kind":   kind,
		"status": status,
	}
	if localId != 0 {
		fields["local_id"] = localId
	}
	e.Logger.WithFields(fields).Info("transaction committed")
}

// operatorFromContext resolves the acting operator for the idempotency
// key. Records committed outside an operator session still need a
// stable createdBy, so a fixed fallback is used rather than an empty
// string.
func operatorFromContext(ctx context.Context) string {
	if id, ok := utils.GetOperatorIdFromContext(ctx); ok && id != "" {
		return id
	}
	return "unknown-operator"
}

func firstValidationError(err error) error {
	if fieldErrors, ok := err.(validator.ValidationErrors); ok && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return utils.NewValidationError(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()))
	}
	return err
}
