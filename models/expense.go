package models

import (
	"github.com/shopspring/decimal"
)

// ExpensePayload is the kind-specific payload of a pending expense.
// BusinessDate is a calendar day in the business timezone, not a
// timestamp: expenses bucket by business day for reporting.
type ExpensePayload struct {
	Concept      string          `json:"concept" validate:"required"`
	Category     string          `json:"category" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	BusinessDate string          `json:"business_date" validate:"required,datetime=2006-01-02"`
}

// RemoteExpense mirrors the remote `expenses` table. The column names
// match the backend schema (Spanish field names are historical).
type RemoteExpense struct {
	ID        string          `json:"id,omitempty"`
	Concepto  string          `json:"concepto"`
	Categoria string          `json:"categoria"`
	Monto     decimal.Decimal `json:"monto"`
	Fecha     string          `json:"fecha"`
	CreatedBy string          `json:"created_by"`
	CreatedAt string          `json:"created_at,omitempty"`
	TicketURL *string         `json:"ticket_url"`
	SyncToken string          `json:"sync_token,omitempty"`
}
