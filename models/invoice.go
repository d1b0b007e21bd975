package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Invoice struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ExternalId     string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	InvoiceNumber  string          `gorm:"size:100" json:"invoice_number"`
	InvoiceDate    *time.Time      `json:"invoice_date"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Currency       string          `gorm:"size:10" json:"currency"`
	Status         string          `gorm:"size:30" json:"status"`
	CustomerId     string          `gorm:"index;size:64" json:"customer_id"`
	AgentId        string          `gorm:"size:64" json:"agent_id"`
	RegistrationId string          `gorm:"index;size:64" json:"registration_id"`
	AttachmentUrl  string          `gorm:"size:1024" json:"attachment_url"`
	Notes          string          `gorm:"type:text" json:"notes"`
	IsDeleted      *bool           `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt   *time.Time      `json:"last_synced_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
