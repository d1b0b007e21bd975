package recon

import (
	"fmt"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
)

func TestSessionStore_CountersAndSnapshot(t *testing.T) {
	store := NewSessionStore()
	id := store.Create()

	store.SetStatus(id, models.SyncRunStatusRunning)
	store.AddTotal(id, 2)
	store.AddTotal(id, 1)
	store.RecordOutcome(id, models.KindInvoice, "X1", OutcomeCreated)
	store.RecordOutcome(id, models.KindInvoice, "X2", OutcomeUnchanged)
	store.RecordOutcome(id, models.KindInvoice, "X3", OutcomeFailed)
	store.RecordError(id, models.KindInvoice, "X3", "duplicate key")

	progress, ok := store.Snapshot(id)
	if !ok {
		t.Fatal("session should exist")
	}
	if progress.Status != models.SyncRunStatusRunning {
		t.Fatalf("expected running, got %s", progress.Status)
	}
	if progress.Current != 3 || progress.Total != 3 {
		t.Fatalf("expected 3/3, got %d/%d", progress.Current, progress.Total)
	}
	if progress.CreatedCount != 1 || progress.UnchangedCount != 1 || progress.FailedCount != 1 {
		t.Fatalf("unexpected counters %+v", progress)
	}
	if len(progress.Errors) != 1 || progress.Errors[0].ExternalId != "X3" {
		t.Fatalf("expected one error for X3, got %v", progress.Errors)
	}
}

func TestSessionStore_UnknownSession(t *testing.T) {
	store := NewSessionStore()
	if _, ok := store.Snapshot("nope"); ok {
		t.Fatal("unknown session must not snapshot")
	}
	if _, ok := store.Events("nope", 0); ok {
		t.Fatal("unknown session must not list events")
	}
	// Writes against unknown sessions are silently dropped.
	store.RecordOutcome("nope", models.KindInvoice, "X1", OutcomeCreated)
}

func TestSessionStore_EventRingDropsOldest(t *testing.T) {
	store := NewSessionStore()
	id := store.Create()

	total := maxSessionEvents + 100
	for i := 0; i < total; i++ {
		store.RecordOutcome(id, models.KindInvoice, fmt.Sprintf("X%d", i), OutcomeCreated)
	}

	events, ok := store.Events(id, 0)
	if !ok {
		t.Fatal("session should exist")
	}
	if len(events) != maxSessionEvents {
		t.Fatalf("ring must cap at %d events, got %d", maxSessionEvents, len(events))
	}
	// The oldest entries were dropped; the first surviving seq reflects it.
	if events[0].Seq != int64(total-maxSessionEvents+1) {
		t.Fatalf("expected first surviving seq %d, got %d", total-maxSessionEvents+1, events[0].Seq)
	}
	// Counters are unaffected by ring eviction.
	progress, _ := store.Snapshot(id)
	if progress.CreatedCount != total {
		t.Fatalf("expected %d created, got %d", total, progress.CreatedCount)
	}
}

func TestSessionStore_EventsAfterSeq(t *testing.T) {
	store := NewSessionStore()
	id := store.Create()
	for i := 0; i < 5; i++ {
		store.RecordOutcome(id, models.KindCustomer, fmt.Sprintf("C%d", i), OutcomeUpdated)
	}

	events, _ := store.Events(id, 3)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 3, got %d", len(events))
	}
	if events[0].Seq != 4 || events[1].Seq != 5 {
		t.Fatalf("unexpected seqs %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestSessionStore_ErrorListBounded(t *testing.T) {
	store := NewSessionStore()
	id := store.Create()
	for i := 0; i < maxSessionErrors+25; i++ {
		store.RecordError(id, models.KindPayment, fmt.Sprintf("P%d", i), "boom")
	}
	progress, _ := store.Snapshot(id)
	if len(progress.Errors) != maxSessionErrors {
		t.Fatalf("error list must cap at %d, got %d", maxSessionErrors, len(progress.Errors))
	}
}

func TestSessionStore_ConcurrentProducers(t *testing.T) {
	store := NewSessionStore()
	id := store.Create()

	var wg sync.WaitGroup
	const producers = 8
	const perProducer = 50
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				store.RecordOutcome(id, models.KindAgent, fmt.Sprintf("A%d-%d", p, i), OutcomeCreated)
			}
		}(p)
	}
	wg.Wait()

	progress, _ := store.Snapshot(id)
	if progress.CreatedCount != producers*perProducer {
		t.Fatalf("expected %d created, got %d", producers*perProducer, progress.CreatedCount)
	}
	events, _ := store.Events(id, 0)
	seen := map[int64]bool{}
	for _, ev := range events {
		if seen[ev.Seq] {
			t.Fatalf("duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
	}
}
