package models

// InventoryLevel mirrors the remote `inventory` table: current stock per
// product. The projection caches these; the remote store owns them.
type InventoryLevel struct {
	ProductId string `json:"product_id"`
	Stock     int    `json:"stock"`
}
