package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	SessionId     string     `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	KindsJSON     []byte     `gorm:"type:json" json:"kinds"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	Since         *time.Time `json:"since"`
	Force         bool       `gorm:"default:false" json:"force"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRecordError struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	SyncRunId   uint       `gorm:"index;not null" json:"sync_run_id"`
	EntityKind  EntityKind `gorm:"size:50" json:"entity_kind"`
	ExternalId  string     `gorm:"size:128" json:"external_id"`
	ErrorCode   string     `gorm:"size:64" json:"error_code"`
	Message     string     `gorm:"type:text" json:"message"`
	PayloadJSON []byte     `gorm:"type:json" json:"payload"`
	Retryable   bool       `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// LastSuccessfulSyncAt returns the finish time of the most recent fully
// successful run, used as the default modified-since watermark.
func LastSuccessfulSyncAt(ctx context.Context, db *gorm.DB) *time.Time {
	var run SyncRun
	err := db.WithContext(ctx).
		Where("status = ?", SyncRunStatusSuccess).
		Order("finished_at DESC").
		Take(&run).Error
	if err != nil || run.FinishedAt == nil {
		return nil
	}
	return run.FinishedAt
}

func CreateSyncRecordError(ctx context.Context, db *gorm.DB, runId uint, kind EntityKind, externalId string, code string, message string, payload []byte, retryable bool) error {
	rec := SyncRecordError{
		SyncRunId:   runId,
		EntityKind:  kind,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&rec).Error
}
