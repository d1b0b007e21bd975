package recon

import (
	"encoding/json"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
)

func TestRunProgressPayload_StatsStayInlineJSON(t *testing.T) {
	run := models.SyncRun{
		SessionId:     "s-1",
		Status:        models.SyncRunStatusSuccess,
		RecordsSynced: 5,
		StatsJSON:     []byte(`{"invoice":3,"customer":2}`),
	}

	body, err := json.Marshal(runProgressPayload(run))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"stats":{"invoice":3,"customer":2}`) {
		t.Fatalf("stats must serialize as a JSON object, not a base64 string: %s", body)
	}

	// Runs that never finished carry no stats.
	run.StatsJSON = nil
	body, err = json.Marshal(runProgressPayload(run))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"stats":null`) {
		t.Fatalf("missing stats must serialize as null: %s", body)
	}
}

func TestNewSyncRun_RecordsResolvedKinds(t *testing.T) {
	opts := SyncOptions{Kinds: []models.EntityKind{models.KindInvoice, models.KindCustomer}}
	run := newSyncRun("s-2", opts, models.SyncTriggeredManual)

	if run.Status != models.SyncRunStatusQueued || run.SessionId != "s-2" {
		t.Fatalf("unexpected run row %+v", run)
	}
	var kinds []models.EntityKind
	if err := json.Unmarshal(run.KindsJSON, &kinds); err != nil {
		t.Fatalf("kinds_json must hold the resolved kind list: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != models.KindCustomer || kinds[1] != models.KindInvoice {
		t.Fatalf("expected dependency-ordered [customer invoice], got %v", kinds)
	}
}
