package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

// Orchestrator drives the per-kind pipeline: fetch → map → merge/upsert,
// with an optional relink pass at the end of a run.
type Orchestrator struct {
	db       *gorm.DB
	logger   *logrus.Logger
	source   RemoteSource
	upserter Upserter
	sessions *SessionStore
	workers  int
}

func NewOrchestrator(db *gorm.DB, source RemoteSource) *Orchestrator {
	logger := config.GetLogger()
	workers := utils.IntFromEnv("RECON_SYNC_WORKERS", 4)
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		db:       db,
		logger:   logger,
		source:   source,
		upserter: NewEngine(db, logger),
		sessions: Sessions(),
		workers:  workers,
	}
}

// syncWatermarkKey caches the finish time of the last fully successful
// run, sparing back-to-back runs the sync_runs scan.
const syncWatermarkKey = "recon:last_success_at"

// newSyncRun builds the durable row for a run about to be queued or
// started. The resolved kind list is recorded so run history shows what
// was actually in scope.
func newSyncRun(sessionId string, opts SyncOptions, triggeredBy string) models.SyncRun {
	kindsJSON, _ := json.Marshal(resolveKinds(opts))
	return models.SyncRun{
		SessionId:   sessionId,
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
		KindsJSON:   kindsJSON,
		Since:       opts.Since,
		Force:       opts.Force,
	}
}

// StartSync registers a session and a durable run row, then executes the
// run on a detached context so the triggering HTTP request can return the
// session id immediately.
func (o *Orchestrator) StartSync(ctx context.Context, opts SyncOptions, triggeredBy string) (string, error) {
	sessionId := o.sessions.Create()

	run := newSyncRun(sessionId, opts, triggeredBy)
	if err := o.db.WithContext(ctx).Create(&run).Error; err != nil {
		return "", err
	}

	runCtx := utils.SetSessionIdInContext(context.Background(), sessionId)
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		runCtx = utils.SetCorrelationIdInContext(runCtx, correlationId)
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				config.LogError(o.logger, "recon", "StartSync", "sync run panicked",
					map[string]interface{}{"sessionId": sessionId, "panic": fmt.Sprint(r)},
					fmt.Errorf("panic: %v", r))
				o.finishRun(runCtx, sessionId, models.SyncRunStatusFailed, nil, 1)
			}
		}()
		if err := o.RunSync(runCtx, sessionId, opts); err != nil {
			config.LogError(o.logger, "recon", "StartSync", "sync run failed",
				map[string]interface{}{"sessionId": sessionId}, err)
		}
	}()
	return sessionId, nil
}

// RunSync executes the run for an already registered session. Invoked in
// process by StartSync and out of process by the pub/sub push handler.
func (o *Orchestrator) RunSync(ctx context.Context, sessionId string, opts SyncOptions) error {
	ctx, span := otel.Tracer("recon").Start(ctx, "recon.sync")
	defer span.End()

	var run models.SyncRun
	if err := o.db.WithContext(ctx).Where("session_id = ?", sessionId).Take(&run).Error; err != nil {
		return err
	}
	// A re-delivered trigger for a finished run is a no-op.
	if run.Status != models.SyncRunStatusQueued {
		return nil
	}

	startedAt := time.Now()
	if err := o.db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}
	o.sessions.SetStatus(sessionId, models.SyncRunStatusRunning)

	updatedSince := ""
	if opts.Since != nil {
		updatedSince = opts.Since.UTC().Format(time.RFC3339)
	} else if !opts.Force {
		updatedSince = o.watermark(ctx)
	}

	kinds := resolveKinds(opts)
	stats := map[string]int{}
	errorCount := 0
	fetchFailed := false

	for _, kind := range kinds {
		if ctx.Err() != nil {
			break
		}
		o.sessions.Announce(sessionId, fmt.Sprintf("syncing %s", kind))
		synced, failed, err := o.syncKind(ctx, run.ID, sessionId, kind, updatedSince, opts)
		stats[string(kind)] = synced
		errorCount += failed
		if err != nil {
			// Only fetch-level failures land here; they are fatal for the
			// rest of the run since they imply systemic unavailability.
			errorCount++
			fetchFailed = true
			_ = models.CreateSyncRecordError(ctx, o.db, run.ID, kind, "", "fetch_failed", err.Error(), nil, true)
			o.sessions.RecordError(sessionId, kind, "", err.Error())
			config.LogError(o.logger, "recon", "RunSync", "remote fetch failed",
				map[string]interface{}{"sessionId": sessionId, "kind": kind}, err)
			break
		}
	}

	totalSynced := 0
	for _, n := range stats {
		totalSynced += n
	}

	status := models.SyncRunStatusSuccess
	if fetchFailed && totalSynced == 0 {
		status = models.SyncRunStatusFailed
	} else if errorCount > 0 {
		status = models.SyncRunStatusPartial
	}

	if opts.Relink && status != models.SyncRunStatusFailed {
		o.runRelinkPass(ctx, sessionId)
	}

	statsJSON, _ := json.Marshal(stats)
	finishedAt := time.Now()
	err := o.db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
		"records_synced": totalSynced,
		"error_count":    errorCount,
		"stats_json":     statsJSON,
	}).Error
	if err != nil {
		return err
	}

	if status == models.SyncRunStatusSuccess {
		_ = config.SetRedisValue(syncWatermarkKey, finishedAt.UTC().Format(time.RFC3339), 24*time.Hour)
	} else {
		// The cached watermark may predate whatever went wrong; the next
		// run recomputes it from the durable table.
		_ = config.RemoveRedisKey(syncWatermarkKey)
	}

	o.sessions.SetStatus(sessionId, status)
	o.sessions.Announce(sessionId, fmt.Sprintf("run finished: status=%s synced=%d errors=%d", status, totalSynced, errorCount))
	models.LogActivity(ctx, o.db, "info", fmt.Sprintf(
		"sync run %s finished: status=%s synced=%d errors=%d", sessionId, status, totalSynced, errorCount))
	return nil
}

// watermark resolves the default modified-since cutoff: the Redis cache
// when it holds a parseable timestamp, the sync_runs table otherwise.
func (o *Orchestrator) watermark(ctx context.Context) string {
	if cached, ok, err := config.GetRedisValue(syncWatermarkKey); err == nil && ok {
		if _, perr := time.Parse(time.RFC3339, cached); perr == nil {
			return cached
		}
	}
	w := models.LastSuccessfulSyncAt(ctx, o.db)
	if w == nil {
		return ""
	}
	formatted := w.UTC().Format(time.RFC3339)
	_ = config.SetRedisValue(syncWatermarkKey, formatted, 24*time.Hour)
	return formatted
}

func (o *Orchestrator) finishRun(ctx context.Context, sessionId string, status string, stats map[string]int, errorCount int) {
	statsJSON, _ := json.Marshal(stats)
	finishedAt := time.Now()
	_ = o.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("session_id = ?", sessionId).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": finishedAt,
			"error_count": errorCount,
			"stats_json":  statsJSON,
		}).Error
	o.sessions.SetStatus(sessionId, status)
}

// syncKind paginates one entity kind through the record pipeline. The
// returned error is fetch-level only; per-record failures are counted and
// never abort the batch.
func (o *Orchestrator) syncKind(ctx context.Context, runId uint, sessionId string, kind models.EntityKind, updatedSince string, opts SyncOptions) (int, int, error) {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyMergeOnlyEmpty
	}

	synced := 0
	failed := 0
	cursor := ""
	for {
		if ctx.Err() != nil {
			return synced, failed, nil
		}
		batch, err := o.source.FetchBatch(ctx, kind, updatedSince, cursor)
		if err != nil {
			return synced, failed, err
		}
		o.sessions.AddTotal(sessionId, len(batch.Records))

		s, f := o.processBatch(ctx, runId, sessionId, kind, batch.Records, policy, opts.ForceFields)
		synced += s
		failed += f

		if !batch.HasMore || batch.NextCursor == "" {
			return synced, failed, nil
		}
		cursor = batch.NextCursor
	}
}

// processBatch fans one page out over the worker pool. Cancellation stops
// scheduling new records; in-flight upserts always complete.
func (o *Orchestrator) processBatch(ctx context.Context, runId uint, sessionId string, kind models.EntityKind, records []map[string]any, policy MergePolicy, forceFields []string) (int, int) {
	jobs := make(chan map[string]any)
	var wg sync.WaitGroup
	var mu sync.Mutex
	synced := 0
	failed := 0

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raw := range jobs {
				ok := o.processRecord(ctx, runId, sessionId, kind, raw, policy, forceFields)
				mu.Lock()
				if ok {
					synced++
				} else {
					failed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, raw := range records {
		if ctx.Err() != nil {
			break
		}
		jobs <- raw
	}
	close(jobs)
	wg.Wait()
	return synced, failed
}

func (o *Orchestrator) processRecord(ctx context.Context, runId uint, sessionId string, kind models.EntityKind, raw map[string]any, policy MergePolicy, forceFields []string) bool {
	rec := MapRecordForKind(kind, raw)
	if strings.TrimSpace(rec.ExternalId) == "" {
		o.persistRecordError(ctx, runId, kind, "", "missing_id", "external id missing", raw)
		o.sessions.RecordOutcome(sessionId, kind, "", OutcomeFailed)
		o.sessions.RecordError(sessionId, kind, "", "external id missing")
		return false
	}
	if len(rec.Unmapped) > 0 {
		o.logger.WithFields(logrus.Fields{
			"kind":       kind,
			"externalId": rec.ExternalId,
			"unmapped":   rec.Unmapped,
		}).Debug("unmapped remote fields")
	}

	outcome, err := o.upserter.Upsert(ctx, kind, rec, policy, forceFields)
	if err != nil {
		o.persistRecordError(ctx, runId, kind, rec.ExternalId, "upsert_failed", err.Error(), raw)
		o.sessions.RecordOutcome(sessionId, kind, rec.ExternalId, OutcomeFailed)
		o.sessions.RecordError(sessionId, kind, rec.ExternalId, err.Error())
		return false
	}
	o.sessions.RecordOutcome(sessionId, kind, rec.ExternalId, outcome)
	return true
}

func (o *Orchestrator) persistRecordError(ctx context.Context, runId uint, kind models.EntityKind, externalId string, code string, message string, raw map[string]any) {
	if o.db == nil {
		return
	}
	payload, _ := json.Marshal(raw)
	retryable := code != "missing_id"
	_ = models.CreateSyncRecordError(ctx, o.db, runId, kind, externalId, code, message, payload, retryable)
}

// runRelinkPass runs every configured link rule under the strict policy.
// Relink is advisory at the end of a run; failures are reported, never
// fatal.
func (o *Orchestrator) runRelinkPass(ctx context.Context, sessionId string) {
	linker := NewLinker(o.db, o.logger)
	for _, rule := range DefaultLinkRules {
		result, err := linker.Run(ctx, rule, LinkPolicyStrict)
		if err != nil {
			if errors.Is(err, utils.ErrorRelinkInProgress) {
				o.sessions.Announce(sessionId, fmt.Sprintf("relink %s skipped: pass already running", rule.Name))
				continue
			}
			o.sessions.Announce(sessionId, fmt.Sprintf("relink %s failed: %v", rule.Name, err))
			continue
		}
		o.sessions.Announce(sessionId, fmt.Sprintf(
			"relink %s: linked=%d conflicts=%d", rule.Name, result.Linked, len(result.Conflicts)))
	}
}

// resolveKinds keeps the dependency order of SyncKindOrder regardless of
// how the caller spelled the kinds list.
func resolveKinds(opts SyncOptions) []models.EntityKind {
	requested := map[models.EntityKind]bool{}
	for _, k := range opts.Kinds {
		requested[k] = true
	}
	skipped := map[models.EntityKind]bool{}
	for _, k := range opts.SkipKinds {
		skipped[k] = true
	}

	var kinds []models.EntityKind
	for _, k := range models.SyncKindOrder {
		if len(requested) > 0 && !requested[k] {
			continue
		}
		if skipped[k] {
			continue
		}
		kinds = append(kinds, k)
	}
	return kinds
}
