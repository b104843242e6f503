package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/pos_sync_core/config"
	"bitbucket.org/mmdatafocus/pos_sync_core/models"
)

// StockLister is the slice of the remote adapter the projection needs.
type StockLister interface {
	ListStock(ctx context.Context) ([]models.InventoryLevel, error)
}

// Projection is the cached view of current stock levels. It is mutated
// optimistically by local actions and overwritten wholesale by
// authoritative refreshes; reads may be stale relative to concurrent
// remote actors and the transaction builder must validate against it
// knowing that.
//
// When redis is configured, levels are written through to
// InventoryLevel:<productId> keys so sibling read views share the cache.
type Projection struct {
	Remote StockLister
	Logger *logrus.Logger

	mu     sync.Mutex
	levels map[string]int
}

func NewProjection(remote StockLister, logger *logrus.Logger) *Projection {
	return &Projection{
		Remote: remote,
		Logger: logger,
		levels: make(map[string]int),
	}
}

// Get returns the cached stock for a product. ok is false for products
// the projection has never seen.
func (p *Projection) Get(productId string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stock, ok := p.levels[productId]
	return stock, ok
}

// ApplyOptimisticDelta mutates the cached level before remote
// confirmation. Deltas applied while a refresh is in flight may be lost;
// the next change-notification refresh re-derives them.
func (p *Projection) ApplyOptimisticDelta(productId string, delta int) {
	p.mu.Lock()
	next := p.levels[productId] + delta
	p.levels[productId] = next
	p.mu.Unlock()

	p.writeThrough(productId, next)
}

// RefreshFromRemote reloads every level from the remote store and
// overwrites all optimistic state. After it returns, the projection
// exactly matches the remote's last-read state.
func (p *Projection) RefreshFromRemote(ctx context.Context) error {
	levels, err := p.Remote.ListStock(ctx)
	if err != nil {
		if p.Logger != nil {
			config.LogError(p.Logger, "inventory", "RefreshFromRemote", "list stock", nil, err)
		}
		return err
	}

	fresh := make(map[string]int, len(levels))
	for _, level := range levels {
		fresh[level.ProductId] = level.Stock
	}

	p.mu.Lock()
	p.levels = fresh
	p.mu.Unlock()

	for _, level := range levels {
		p.writeThrough(level.ProductId, level.Stock)
	}
	return nil
}

// Snapshot returns a copy of all cached levels (UI read views).
func (p *Projection) Snapshot() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.levels))
	for id, stock := range p.levels {
		out[id] = stock
	}
	return out
}

func (p *Projection) writeThrough(productId string, stock int) {
	key := fmt.Sprintf("InventoryLevel:%s", productId)
	if err := config.SetRedisObject(key, models.InventoryLevel{ProductId: productId, Stock: stock}, 0); err != nil && p.Logger != nil {
		config.LogError(p.Logger, "inventory", "writeThrough", key, nil, err)
	}
}
