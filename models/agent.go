package models

import "time"

type Agent struct {
	ID            int        `gorm:"primary_key" json:"id"`
	ExternalId    string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Name          string     `gorm:"size:255" json:"name"`
	Email         string     `gorm:"size:100" json:"email"`
	Phone         string     `gorm:"size:30" json:"phone"`
	LicenseNumber string     `gorm:"size:50" json:"license_number"`
	Region        string     `gorm:"size:100" json:"region"`
	IsDeleted     *bool      `gorm:"not null;default:false" json:"is_deleted"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
