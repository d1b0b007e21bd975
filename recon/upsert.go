package recon

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	gosqlmysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Engine performs the atomic insert-or-update keyed by external identifier.
type Engine struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewEngine(db *gorm.DB, logger *logrus.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

type upsertPlan struct {
	Action Outcome
	Row    map[string]any
	Diff   Diff
}

// planUpsert is the pure decision step: given the current row (nil when
// absent) and a mapped record, produce the action and the exact map to
// write. The caller supplies "now" so the plan stays deterministic.
func planUpsert(existing map[string]any, rec MappedRecord, policy MergePolicy, force []string, now time.Time) upsertPlan {
	diff := ResolveMerge(existing, rec.Columns, policy, force)

	if existing == nil {
		row := make(map[string]any, len(diff.Changes)+3)
		for k, v := range diff.Changes {
			row[k] = v
		}
		row["external_id"] = rec.ExternalId
		row["created_at"] = now
		row["last_synced_at"] = now
		return upsertPlan{Action: OutcomeCreated, Row: row, Diff: diff}
	}

	if diff.Empty() {
		// No write at all: a second identical run is byte-for-byte
		// idempotent.
		return upsertPlan{Action: OutcomeUnchanged, Diff: diff}
	}

	row := make(map[string]any, len(diff.Changes)+1)
	for k, v := range diff.Changes {
		row[k] = v
	}
	row["last_synced_at"] = now
	return upsertPlan{Action: OutcomeUpdated, Row: row, Diff: diff}
}

// Upsert runs the merge+write for one record inside a single short
// transaction holding a row lock, so two overlapping sync runs cannot
// interleave a read and a write for the same external identifier.
func (e *Engine) Upsert(ctx context.Context, kind models.EntityKind, rec MappedRecord, policy MergePolicy, force []string) (Outcome, error) {
	outcome, err := e.upsertOnce(ctx, kind, rec, policy, force)
	if err != nil && isDuplicateKeyError(err) {
		// A concurrent run inserted the same external id between our read
		// and our write. Re-run once; the row now exists and the path
		// becomes an update.
		outcome, err = e.upsertOnce(ctx, kind, rec, policy, force)
	}
	if err != nil {
		config.LogError(e.logger, "recon/upsert.go", "Upsert", string(kind), rec.ExternalId, err)
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (e *Engine) upsertOnce(ctx context.Context, kind models.EntityKind, rec MappedRecord, policy MergePolicy, force []string) (Outcome, error) {
	table := kind.Table()
	if table == "" {
		return OutcomeFailed, errors.New("unknown entity kind: " + string(kind))
	}
	if rec.ExternalId == "" {
		return OutcomeFailed, errors.New("record has no external id")
	}

	var outcome Outcome
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing map[string]any
		err := tx.Table(table).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_id = ?", rec.ExternalId).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existing = nil
		} else if err != nil {
			return err
		}

		plan := planUpsert(existing, rec, policy, force, time.Now())
		outcome = plan.Action

		switch plan.Action {
		case OutcomeCreated:
			return tx.Table(table).Create(plan.Row).Error
		case OutcomeUpdated:
			return tx.Table(table).
				Where("external_id = ?", rec.ExternalId).
				Updates(plan.Row).Error
		default:
			return nil
		}
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// isDuplicateKeyError reports a MySQL unique-index clash (error 1062).
func isDuplicateKeyError(err error) bool {
	var myErr *gosqlmysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
