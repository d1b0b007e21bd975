package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceLineItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ExternalId   string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	InvoiceId    string          `gorm:"index;size:64" json:"invoice_id"`
	Description  string          `gorm:"size:500" json:"description"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Position     int             `gorm:"default:0" json:"position"`
	IsDeleted    *bool           `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt *time.Time      `json:"last_synced_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
