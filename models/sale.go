package models

import (
	"github.com/shopspring/decimal"
)

// SaleLineItem is one cart line. Quantities are whole units; money is
// decimal, never float.
type SaleLineItem struct {
	ProductId string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (li SaleLineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// SalePayload is the kind-specific payload of a pending sale.
// Invariant: Total strictly equals the sum of line items at creation
// time; a mismatch is a caller bug and is rejected at commit.
type SalePayload struct {
	Total         decimal.Decimal `json:"total"`
	Status        SaleStatus      `json:"status" validate:"required,oneof=received delivered cancelled"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=cash card transfer deferred"`
	CustomerName  string          `json:"customer_name"`
	Items         []SaleLineItem  `json:"items" validate:"required,min=1,dive"`
}

func (p SalePayload) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range p.Items {
		sum = sum.Add(li.LineTotal())
	}
	return sum
}

// RemoteSale mirrors the remote `sales` table.
type RemoteSale struct {
	ID            string          `json:"id,omitempty"`
	TicketNumber  int64           `json:"ticket_number,omitempty"`
	// CreatedAt is set by the client when syncing a queued record (to
	// preserve the original transaction time) and left empty for direct
	// online writes, where the server assigns it.
	CreatedAt     string          `json:"created_at,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Status        SaleStatus      `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CustomerName  string          `json:"customer_name"`
	CreatedBy     string          `json:"created_by"`
	SyncToken     string          `json:"sync_token,omitempty"`
}

// RemoteSaleItem mirrors the remote `sale_items` table.
type RemoteSaleItem struct {
	SaleId    string          `json:"sale_id"`
	ProductId string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}
