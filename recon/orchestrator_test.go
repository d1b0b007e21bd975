package recon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
)

// fakeSource serves canned pages per kind and can fail the fetch
// outright.
type fakeSource struct {
	pages    map[models.EntityKind][]Batch
	fetchErr error
	calls    int
}

func (f *fakeSource) FetchBatch(ctx context.Context, kind models.EntityKind, updatedSince string, cursor string) (Batch, error) {
	f.calls++
	if f.fetchErr != nil {
		return Batch{}, f.fetchErr
	}
	pages := f.pages[kind]
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "p%d", &idx)
	}
	if idx >= len(pages) {
		return Batch{}, nil
	}
	return pages[idx], nil
}

func (f *fakeSource) FetchByID(ctx context.Context, kind models.EntityKind, externalId string) (map[string]any, error) {
	return nil, utils.ErrorRecordNotFound
}

// fakeUpserter applies planUpsert against an in-memory table keyed by
// external id, mirroring the storage engine's semantics without MySQL.
type fakeUpserter struct {
	mu      sync.Mutex
	rows    map[string]map[string]any
	failIds map[string]bool
}

func newFakeUpserter() *fakeUpserter {
	return &fakeUpserter{rows: map[string]map[string]any{}, failIds: map[string]bool{}}
}

func (f *fakeUpserter) Upsert(ctx context.Context, kind models.EntityKind, rec MappedRecord, policy MergePolicy, force []string) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIds[rec.ExternalId] {
		return OutcomeFailed, errors.New("constraint violation")
	}
	existing := f.rows[rec.ExternalId]
	plan := planUpsert(existing, rec, policy, force, time.Now())
	switch plan.Action {
	case OutcomeCreated:
		f.rows[rec.ExternalId] = plan.Row
	case OutcomeUpdated:
		for k, v := range plan.Row {
			f.rows[rec.ExternalId][k] = v
		}
	}
	return plan.Action, nil
}

func newTestOrchestrator(source RemoteSource, upserter Upserter) (*Orchestrator, *SessionStore) {
	sessions := NewSessionStore()
	return &Orchestrator{
		logger:   config.GetLogger(),
		source:   source,
		upserter: upserter,
		sessions: sessions,
		workers:  4,
	}, sessions
}

func invoicePage(ids ...string) Batch {
	records := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		records = append(records, map[string]any{
			"_id":             id,
			"Total Amount":    "1000",
			"Linked Customer": "C1",
		})
	}
	return Batch{Records: records}
}

func TestSyncKind_ContinuesPastRecordFailures(t *testing.T) {
	source := &fakeSource{pages: map[models.EntityKind][]Batch{
		models.KindInvoice: {invoicePage("X1", "X2", "X3")},
	}}
	upserter := newFakeUpserter()
	upserter.failIds["X2"] = true

	o, sessions := newTestOrchestrator(source, upserter)
	sessionId := sessions.Create()

	synced, failed, err := o.syncKind(context.Background(), 0, sessionId, models.KindInvoice, "", SyncOptions{})
	if err != nil {
		t.Fatalf("per-record failures must not surface as run errors: %v", err)
	}
	if synced != 2 || failed != 1 {
		t.Fatalf("expected 2 synced / 1 failed, got %d/%d", synced, failed)
	}

	progress, _ := sessions.Snapshot(sessionId)
	if progress.CreatedCount != 2 || progress.FailedCount != 1 {
		t.Fatalf("unexpected counters %+v", progress)
	}
	if len(progress.Errors) != 1 || progress.Errors[0].ExternalId != "X2" {
		t.Fatalf("expected structured error for X2, got %v", progress.Errors)
	}
}

func TestSyncKind_FetchFailureIsFatal(t *testing.T) {
	source := &fakeSource{fetchErr: fmt.Errorf("%w: 503", utils.ErrorRemoteUnavailable)}
	o, sessions := newTestOrchestrator(source, newFakeUpserter())
	sessionId := sessions.Create()

	_, _, err := o.syncKind(context.Background(), 0, sessionId, models.KindInvoice, "", SyncOptions{})
	if !errors.Is(err, utils.ErrorRemoteUnavailable) {
		t.Fatalf("expected fetch-level failure to propagate, got %v", err)
	}
}

func TestSyncKind_Pagination(t *testing.T) {
	source := &fakeSource{pages: map[models.EntityKind][]Batch{
		models.KindInvoice: {
			{Records: invoicePage("X1", "X2").Records, NextCursor: "p1", HasMore: true},
			invoicePage("X3"),
		},
	}}
	o, sessions := newTestOrchestrator(source, newFakeUpserter())
	sessionId := sessions.Create()

	synced, failed, err := o.syncKind(context.Background(), 0, sessionId, models.KindInvoice, "", SyncOptions{})
	if err != nil || failed != 0 {
		t.Fatalf("unexpected err=%v failed=%d", err, failed)
	}
	if synced != 3 {
		t.Fatalf("expected 3 records across pages, got %d", synced)
	}
	if source.calls != 2 {
		t.Fatalf("expected 2 fetches, got %d", source.calls)
	}
}

func TestSyncKind_TotalGrowsWithFetchedPages(t *testing.T) {
	source := &fakeSource{pages: map[models.EntityKind][]Batch{
		models.KindInvoice: {
			{Records: invoicePage("X1", "X2").Records, NextCursor: "p1", HasMore: true},
			invoicePage("X3"),
		},
	}}
	o, sessions := newTestOrchestrator(source, newFakeUpserter())
	sessionId := sessions.Create()

	if _, _, err := o.syncKind(context.Background(), 0, sessionId, models.KindInvoice, "", SyncOptions{}); err != nil {
		t.Fatal(err)
	}

	progress, _ := sessions.Snapshot(sessionId)
	if progress.Current != 3 || progress.Total != 3 {
		t.Fatalf("denominator must track fetched records, got current=%d total=%d", progress.Current, progress.Total)
	}
	events, _ := sessions.Events(sessionId, 0)
	if len(events) == 0 || events[len(events)-1].Total != 3 {
		t.Fatalf("events must carry the accumulated total, got %+v", events)
	}
}

func TestSyncKind_SecondRunIsAllUnchanged(t *testing.T) {
	page := invoicePage("X1", "X2")
	source := &fakeSource{pages: map[models.EntityKind][]Batch{
		models.KindInvoice: {page},
	}}
	upserter := newFakeUpserter()
	o, sessions := newTestOrchestrator(source, upserter)

	first := sessions.Create()
	if _, _, err := o.syncKind(context.Background(), 0, first, models.KindInvoice, "", SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	progress, _ := sessions.Snapshot(first)
	if progress.CreatedCount != 2 {
		t.Fatalf("expected 2 created on first run, got %+v", progress)
	}

	second := sessions.Create()
	if _, _, err := o.syncKind(context.Background(), 0, second, models.KindInvoice, "", SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	progress, _ = sessions.Snapshot(second)
	if progress.UnchangedCount != 2 || progress.CreatedCount != 0 || progress.UpdatedCount != 0 {
		t.Fatalf("second run against unchanged data must be all unchanged, got %+v", progress)
	}
}

func TestSyncKind_MissingExternalIdCounted(t *testing.T) {
	source := &fakeSource{pages: map[models.EntityKind][]Batch{
		models.KindInvoice: {{Records: []map[string]any{
			{"Total Amount": "10"},
			{"_id": "X1", "Total Amount": "20"},
		}}},
	}}
	o, sessions := newTestOrchestrator(source, newFakeUpserter())
	sessionId := sessions.Create()

	synced, failed, err := o.syncKind(context.Background(), 0, sessionId, models.KindInvoice, "", SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if synced != 1 || failed != 1 {
		t.Fatalf("expected 1 synced / 1 failed, got %d/%d", synced, failed)
	}
	progress, _ := sessions.Snapshot(sessionId)
	if len(progress.Errors) != 1 || !strings.Contains(progress.Errors[0].Message, "external id") {
		t.Fatalf("missing id must produce a structured error, got %v", progress.Errors)
	}
}

func TestResolveKinds(t *testing.T) {
	// Dependency order is preserved regardless of request order.
	kinds := resolveKinds(SyncOptions{Kinds: []models.EntityKind{
		models.KindInvoice, models.KindCustomer,
	}})
	if len(kinds) != 2 || kinds[0] != models.KindCustomer || kinds[1] != models.KindInvoice {
		t.Fatalf("expected [customer invoice], got %v", kinds)
	}

	kinds = resolveKinds(SyncOptions{SkipKinds: []models.EntityKind{models.KindPayment}})
	for _, k := range kinds {
		if k == models.KindPayment {
			t.Fatal("skipped kind must be excluded")
		}
	}
	if len(kinds) != len(models.SyncKindOrder)-1 {
		t.Fatalf("expected all kinds minus one, got %v", kinds)
	}
}
