package recon

import (
	"testing"
	"time"
)

func candAt(externalId, key string, createdAt time.Time) linkCandidate {
	return linkCandidate{ExternalId: externalId, Key: key, CreatedAt: createdAt}
}

func TestMatchCandidates_StrictOneToOne(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{candAt("R1", "C1", base)}
	targets := []linkCandidate{candAt("I1", "C1", base.Add(time.Minute))}

	matches, issues := matchCandidates(sources, targets, LinkPolicyStrict)
	if len(matches) != 1 || len(issues) != 0 {
		t.Fatalf("expected 1 match and 0 issues, got %d/%d", len(matches), len(issues))
	}
	if matches[0].SourceExternalId != "R1" || matches[0].TargetExternalId != "I1" {
		t.Fatalf("unexpected match %+v", matches[0])
	}
}

func TestMatchCandidates_StrictAmbiguousLinksNothing(t *testing.T) {
	// Two unresolved registrations and two unresolved invoices share the
	// same customer: strict must link nothing and report the ambiguity.
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{
		candAt("R1", "C1", base),
		candAt("R2", "C1", base.Add(time.Hour)),
	}
	targets := []linkCandidate{
		candAt("I1", "C1", base.Add(time.Minute)),
		candAt("I2", "C1", base.Add(61*time.Minute)),
	}

	matches, issues := matchCandidates(sources, targets, LinkPolicyStrict)
	if len(matches) != 0 {
		t.Fatalf("strict must not link ambiguous groups, got %v", matches)
	}
	if len(issues) != 1 || issues[0].Code != "ambiguous" {
		t.Fatalf("expected one ambiguous issue, got %v", issues)
	}
}

func TestMatchCandidates_ClosestPairsByDelta(t *testing.T) {
	// Same 2v2 group: closest-timestamp pairs each source with its nearest
	// target and reports zero conflicts when all deltas are distinct.
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{
		candAt("R1", "C1", base),
		candAt("R2", "C1", base.Add(time.Hour)),
	}
	targets := []linkCandidate{
		candAt("I1", "C1", base.Add(time.Minute)),
		candAt("I2", "C1", base.Add(63*time.Minute)),
	}

	matches, issues := matchCandidates(sources, targets, LinkPolicyClosestTimestamp)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %v", matches)
	}
	got := map[string]string{}
	for _, m := range matches {
		got[m.SourceExternalId] = m.TargetExternalId
	}
	if got["R1"] != "I1" || got["R2"] != "I2" {
		t.Fatalf("expected R1-I1 and R2-I2, got %v", got)
	}
}

func TestMatchCandidates_ClosestTieIsConflict(t *testing.T) {
	// Two sources equidistant from one target: the target is withheld and
	// both sources reported, never auto-resolved.
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{
		candAt("R1", "C1", base.Add(-time.Minute)),
		candAt("R2", "C1", base.Add(time.Minute)),
	}
	targets := []linkCandidate{candAt("I1", "C1", base)}

	matches, issues := matchCandidates(sources, targets, LinkPolicyClosestTimestamp)
	if len(matches) != 0 {
		t.Fatalf("tied target must not be claimed, got %v", matches)
	}

	var tie, unmatched int
	for _, issue := range issues {
		switch issue.Code {
		case "tie":
			tie++
			if len(issue.SourceExternalIds) != 2 {
				t.Fatalf("tie issue should name both sources, got %v", issue)
			}
		case "unmatched":
			unmatched++
		}
	}
	if tie != 1 {
		t.Fatalf("expected one tie issue, got %v", issues)
	}
	if unmatched != 2 {
		t.Fatalf("both sources remain unmatched, got %v", issues)
	}
}

func TestMatchCandidates_ClosestReportsLeftoverSources(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{
		candAt("R1", "C1", base),
		candAt("R2", "C1", base.Add(time.Hour)),
	}
	targets := []linkCandidate{candAt("I1", "C1", base.Add(time.Minute))}

	matches, issues := matchCandidates(sources, targets, LinkPolicyClosestTimestamp)
	if len(matches) != 1 || matches[0].SourceExternalId != "R1" {
		t.Fatalf("nearest source should win the only target, got %v", matches)
	}
	if len(issues) != 1 || issues[0].Code != "unmatched" || issues[0].SourceExternalIds[0] != "R2" {
		t.Fatalf("leftover source must be reported, got %v", issues)
	}
}

func TestMatchCandidates_Idempotent(t *testing.T) {
	// After a pass links R1-I1, both leave the candidate pools; a re-run
	// over the remainder makes zero further changes.
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{candAt("R1", "C1", base)}
	targets := []linkCandidate{candAt("I1", "C1", base.Add(time.Minute))}

	first, _ := matchCandidates(sources, targets, LinkPolicyStrict)
	if len(first) != 1 {
		t.Fatalf("expected initial link, got %v", first)
	}

	second, issues := matchCandidates(nil, targets[:0], LinkPolicyStrict)
	if len(second) != 0 || len(issues) != 0 {
		t.Fatalf("re-run over drained pools must be a no-op, got %v / %v", second, issues)
	}
}

func TestMatchCandidates_NoDoubleClaim(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := []linkCandidate{
		candAt("R1", "C1", base),
		candAt("R2", "C1", base.Add(time.Minute)),
		candAt("R3", "C1", base.Add(2*time.Minute)),
	}
	targets := []linkCandidate{
		candAt("I1", "C1", base.Add(10*time.Second)),
		candAt("I2", "C1", base.Add(70*time.Second)),
	}

	matches, _ := matchCandidates(sources, targets, LinkPolicyClosestTimestamp)
	claimed := map[string]bool{}
	for _, m := range matches {
		if claimed[m.TargetExternalId] {
			t.Fatalf("target %s claimed twice", m.TargetExternalId)
		}
		claimed[m.TargetExternalId] = true
	}
}
