package recon

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
)

// Outcome classifies a single record upsert for observability counters.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// MergePolicy governs whether an incoming field value may overwrite an
// existing local value.
type MergePolicy string

const (
	// PolicyMergeOnlyEmpty fills empty local fields and never clobbers
	// non-empty local data. The default for every sync run.
	PolicyMergeOnlyEmpty MergePolicy = "mergeOnlyEmpty"
	// PolicyFullOverwrite replaces local values with any non-empty
	// incoming value.
	PolicyFullOverwrite MergePolicy = "fullOverwrite"
)

// FieldKind is the declared local type of a mapped column.
type FieldKind string

const (
	FieldString    FieldKind = "string"
	FieldInteger   FieldKind = "integer"
	FieldNumeric   FieldKind = "numeric"
	FieldBoolean   FieldKind = "boolean"
	FieldTimestamp FieldKind = "timestamp"
	// FieldPhone is a string column holding a phone number; values are
	// normalized to E.164 when they parse and kept verbatim when they
	// don't, so dirty upstream data never fails a record.
	FieldPhone FieldKind = "phone"
)

// FieldMap is one row of the declarative mapping table: a human-readable
// remote key translated to a typed local column.
type FieldMap struct {
	Remote  string
	Column  string
	Kind    FieldKind
	IsArray bool
}

// MappedRecord is the Field Mapper output for one raw remote record.
type MappedRecord struct {
	ExternalId string
	Columns    map[string]any
	// Unmapped lists remote keys with no mapping table entry; surfaced as
	// the schema-drift report, never an error.
	Unmapped []string
	// Uncoerced lists local columns whose raw value could not be coerced
	// to the declared kind; those columns are nulled.
	Uncoerced []string
}

// Batch is one page from the remote record source.
type Batch struct {
	Records    []map[string]any
	NextCursor string
	HasMore    bool
}

// RemoteSource is the consumed interface to the upstream record system.
type RemoteSource interface {
	FetchBatch(ctx context.Context, kind models.EntityKind, updatedSince string, cursor string) (Batch, error)
	FetchByID(ctx context.Context, kind models.EntityKind, externalId string) (map[string]any, error)
}

// Upserter persists one mapped record; the engine in upsert.go implements
// it against MySQL and tests substitute an in-memory fake.
type Upserter interface {
	Upsert(ctx context.Context, kind models.EntityKind, rec MappedRecord, policy MergePolicy, force []string) (Outcome, error)
}

// SyncOptions select scope and policy for one orchestrated run.
type SyncOptions struct {
	Kinds       []models.EntityKind
	SkipKinds   []models.EntityKind
	Since       *time.Time
	Force       bool
	Policy      MergePolicy
	ForceFields []string
	Relink      bool
}
