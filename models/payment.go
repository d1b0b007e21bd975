package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Payment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ExternalId      string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	InvoiceId       string          `gorm:"index;size:64" json:"invoice_id"`
	CustomerId      string          `gorm:"index;size:64" json:"customer_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	PaymentDate     *time.Time      `json:"payment_date"`
	Method          string          `gorm:"size:50" json:"method"`
	ReferenceNumber string          `gorm:"size:100" json:"reference_number"`
	ReceiptUrl      string          `gorm:"size:1024" json:"receipt_url"`
	IsDeleted       *bool           `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt    *time.Time      `json:"last_synced_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
