package models

import (
	"github.com/shopspring/decimal"
)

type PurchaseLineItem struct {
	ProductId   string          `json:"product_id" validate:"required"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (li PurchaseLineItem) LineTotal() decimal.Decimal {
	return li.UnitCost.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// PurchasePayload is the kind-specific payload of a pending purchase.
// Stock increments for purchases are owned by a remote-store trigger;
// this engine never writes them.
type PurchasePayload struct {
	Total decimal.Decimal    `json:"total"`
	Items []PurchaseLineItem `json:"items" validate:"required,min=1,dive"`
}

func (p PurchasePayload) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range p.Items {
		sum = sum.Add(li.LineTotal())
	}
	return sum
}

// RemotePurchase mirrors the remote `purchases` table.
type RemotePurchase struct {
	ID        string          `json:"id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	CreatedBy string          `json:"created_by"`
	CreatedAt string          `json:"created_at,omitempty"`
	TicketURL *string         `json:"ticket_url"`
	SyncToken string          `json:"sync_token,omitempty"`
}

// RemotePurchaseItem mirrors the remote `purchase_items` table.
type RemotePurchaseItem struct {
	PurchaseId string          `json:"purchase_id"`
	ProductId  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	Cost       decimal.Decimal `json:"cost"`
}
