package models

import "time"

// RegulatoryRegistration is the compliance record filed for an invoice.
// InvoiceId/CustomerId frequently arrive dangling from the remote source;
// both are primary targets of the Relational Linker repair pass.
type RegulatoryRegistration struct {
	ID                 int        `gorm:"primary_key" json:"id"`
	ExternalId         string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	RegistrationNumber string     `gorm:"size:100" json:"registration_number"`
	InvoiceId          string     `gorm:"index;size:64" json:"invoice_id"`
	CustomerId         string     `gorm:"index;size:64" json:"customer_id"`
	Status             string     `gorm:"size:30" json:"status"`
	SubmittedAt        *time.Time `json:"submitted_at"`
	CertificateUrl     string     `gorm:"size:1024" json:"certificate_url"`
	DocumentUrls       StringList `gorm:"type:json" json:"document_urls"`
	Notes              string     `gorm:"type:text" json:"notes"`
	IsDeleted          *bool      `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
