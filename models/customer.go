package models

import (
	"time"
)

// Customer mirrors the upstream customer record. Relation fields hold
// external identifiers of related rows, never local ids; none of them are
// enforced foreign keys (the Relational Linker restores the invariant).
type Customer struct {
	ID           int        `gorm:"primary_key" json:"id"`
	ExternalId   string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Name         string     `gorm:"size:255" json:"name"`
	Email        string     `gorm:"size:100" json:"email"`
	Phone        string     `gorm:"size:30" json:"phone"`
	Mobile       string     `gorm:"size:30" json:"mobile"`
	Address      string     `gorm:"type:text" json:"address"`
	TaxNumber    string     `gorm:"size:50" json:"tax_number"`
	AgentIds     StringList `gorm:"type:json" json:"agent_ids"`
	Notes        string     `gorm:"type:text" json:"notes"`
	IsDeleted    *bool      `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
