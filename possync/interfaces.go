package possync

import (
	"context"

	"bitbucket.org/mmdatafocus/pos_sync_core/models"
	"bitbucket.org/mmdatafocus/pos_sync_core/queue"
)

// Queue is the local durable queue as the engine sees it.
// queue.Store satisfies this.
type Queue interface {
	Enqueue(ctx context.Context, kind models.RecordKind, payload any, logicalTimestamp string, createdBy string, attachment *queue.Attachment) (int, error)
	ListAll(ctx context.Context) (models.QueueSnapshot, error)
	Remove(ctx context.Context, kind models.RecordKind, localId int) error
	SaveProgress(ctx context.Context, rec *models.PendingRecord) error
	CountPending(ctx context.Context) (map[models.RecordKind]int, error)
}

// RemoteStore is the authoritative backend as the engine sees it.
// remote.Client satisfies this.
type RemoteStore interface {
	FindSaleByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteSale, error)
	InsertSale(ctx context.Context, sale models.RemoteSale) (models.RemoteSale, error)
	InsertSaleItem(ctx context.Context, item models.RemoteSaleItem) error

	FindExpenseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemoteExpense, error)
	InsertExpense(ctx context.Context, expense models.RemoteExpense) (models.RemoteExpense, error)

	FindPurchaseByOrigin(ctx context.Context, createdBy, logicalTimestamp string) (*models.RemotePurchase, error)
	InsertPurchase(ctx context.Context, purchase models.RemotePurchase) (models.RemotePurchase, error)
	InsertPurchaseItem(ctx context.Context, item models.RemotePurchaseItem) error

	GetStock(ctx context.Context, productId string) (int, error)
	UpdateStockGuarded(ctx context.Context, productId string, expected, next int) error
	ListStock(ctx context.Context) ([]models.InventoryLevel, error)
}

// Uploader pushes an attachment blob and returns its public URL.
// remote.Uploader satisfies this.
type Uploader interface {
	Upload(ctx context.Context, name, mime string, data []byte) (string, error)
}

// OnlineChecker reports current reachability at commit time.
// connectivity.Monitor satisfies this.
type OnlineChecker interface {
	Online() bool
}
