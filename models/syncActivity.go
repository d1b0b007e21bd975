package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"gorm.io/gorm"
)

// SyncActivityLog is the append-only activity trail. Rows are never updated
// or deleted by the service.
type SyncActivityLog struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	Level         string    `gorm:"size:10;not null" json:"level"`
	Message       string    `gorm:"type:text" json:"message"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func LogActivity(ctx context.Context, db *gorm.DB, level string, message string) {
	if db == nil {
		return
	}
	entry := SyncActivityLog{
		Level:   level,
		Message: message,
	}
	if v, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		entry.CorrelationId = v
	}
	// Activity logging is best-effort; a failed insert must not fail the
	// operation being logged.
	_ = db.WithContext(ctx).Create(&entry).Error
}
