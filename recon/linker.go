package recon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LinkPolicy selects the matching heuristic for a repair pass.
type LinkPolicy string

const (
	// LinkPolicyStrict auto-links only when the secondary key maps 1:1
	// between the unresolved sets. The safe default.
	LinkPolicyStrict LinkPolicy = "strict"
	// LinkPolicyClosestTimestamp pairs remaining candidates by minimal
	// |created_at| delta. Explicit opt-in, never chained implicitly after
	// a strict pass.
	LinkPolicyClosestTimestamp LinkPolicy = "closestTimestamp"
)

const relinkLockTTL = 5 * time.Minute

type linkCandidate struct {
	ID         int
	ExternalId string
	Key        string
	CreatedAt  time.Time
}

type LinkMatch struct {
	SourceExternalId string `json:"sourceExternalId"`
	TargetExternalId string `json:"targetExternalId"`
	DeltaSeconds     int64  `json:"deltaSeconds"`
}

type LinkIssue struct {
	Code              string   `json:"code"` // ambiguous | tie | unmatched
	Key               string   `json:"key"`
	SourceExternalIds []string `json:"sourceExternalIds"`
	TargetExternalIds []string `json:"targetExternalIds"`
	Message           string   `json:"message"`
}

type RelinkResult struct {
	Rule      string      `json:"rule"`
	Policy    LinkPolicy  `json:"policy"`
	Linked    int         `json:"linked"`
	Matches   []LinkMatch `json:"matches"`
	Conflicts []LinkIssue `json:"conflicts"`
}

// matchCandidates applies the policy to the unresolved source set and the
// unclaimed target set. Pure; both policies are idempotent because callers
// exclude already-linked sources and claimed targets from the pools.
func matchCandidates(sources, targets []linkCandidate, policy LinkPolicy) ([]LinkMatch, []LinkIssue) {
	srcByKey := groupByKey(sources)
	tgtByKey := groupByKey(targets)

	keys := make([]string, 0, len(srcByKey))
	for key := range srcByKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var matches []LinkMatch
	var issues []LinkIssue

	for _, key := range keys {
		srcs := srcByKey[key]
		tgts := tgtByKey[key]
		if len(tgts) == 0 {
			continue
		}

		switch policy {
		case LinkPolicyStrict:
			if len(srcs) == 1 && len(tgts) == 1 {
				matches = append(matches, LinkMatch{
					SourceExternalId: srcs[0].ExternalId,
					TargetExternalId: tgts[0].ExternalId,
					DeltaSeconds:     absSeconds(srcs[0].CreatedAt, tgts[0].CreatedAt),
				})
				continue
			}
			issues = append(issues, LinkIssue{
				Code:              "ambiguous",
				Key:               key,
				SourceExternalIds: externalIds(srcs),
				TargetExternalIds: externalIds(tgts),
				Message:           fmt.Sprintf("secondary key %q is not 1:1 (%d sources, %d targets)", key, len(srcs), len(tgts)),
			})
		case LinkPolicyClosestTimestamp:
			m, iss := matchClosest(key, srcs, tgts)
			matches = append(matches, m...)
			issues = append(issues, iss...)
		}
	}

	return matches, issues
}

type candidatePair struct {
	src, tgt linkCandidate
	delta    int64
}

// matchClosest greedily assigns each source its nearest unclaimed target
// within a secondary-key group. An exact delta tie between two sources for
// the same target is a conflict: the target is withheld and reported, never
// auto-resolved.
func matchClosest(key string, srcs, tgts []linkCandidate) ([]LinkMatch, []LinkIssue) {
	pairs := make([]candidatePair, 0, len(srcs)*len(tgts))
	for _, s := range srcs {
		for _, t := range tgts {
			pairs = append(pairs, candidatePair{src: s, tgt: t, delta: absSeconds(s.CreatedAt, t.CreatedAt)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].delta != pairs[j].delta {
			return pairs[i].delta < pairs[j].delta
		}
		if pairs[i].src.ExternalId != pairs[j].src.ExternalId {
			return pairs[i].src.ExternalId < pairs[j].src.ExternalId
		}
		return pairs[i].tgt.ExternalId < pairs[j].tgt.ExternalId
	})

	usedSrc := map[string]bool{}
	usedTgt := map[string]bool{}
	var matches []LinkMatch
	var issues []LinkIssue

	for i := 0; i < len(pairs); i++ {
		p := pairs[i]
		if usedSrc[p.src.ExternalId] || usedTgt[p.tgt.ExternalId] {
			continue
		}

		// Tie detection: another free source at the exact same delta to
		// the same target means neither claim is safe.
		tied := []string{p.src.ExternalId}
		for j := i + 1; j < len(pairs); j++ {
			q := pairs[j]
			if q.delta != p.delta {
				break
			}
			if q.tgt.ExternalId == p.tgt.ExternalId && !usedSrc[q.src.ExternalId] && q.src.ExternalId != p.src.ExternalId {
				tied = append(tied, q.src.ExternalId)
			}
		}
		if len(tied) > 1 {
			usedTgt[p.tgt.ExternalId] = true
			issues = append(issues, LinkIssue{
				Code:              "tie",
				Key:               key,
				SourceExternalIds: tied,
				TargetExternalIds: []string{p.tgt.ExternalId},
				Message:           fmt.Sprintf("target %s claimed by %d sources at identical timestamp delta", p.tgt.ExternalId, len(tied)),
			})
			continue
		}

		usedSrc[p.src.ExternalId] = true
		usedTgt[p.tgt.ExternalId] = true
		matches = append(matches, LinkMatch{
			SourceExternalId: p.src.ExternalId,
			TargetExternalId: p.tgt.ExternalId,
			DeltaSeconds:     p.delta,
		})
	}

	for _, s := range srcs {
		if !usedSrc[s.ExternalId] {
			issues = append(issues, LinkIssue{
				Code:              "unmatched",
				Key:               key,
				SourceExternalIds: []string{s.ExternalId},
				Message:           fmt.Sprintf("no unclaimed target left for source %s", s.ExternalId),
			})
		}
	}

	return matches, issues
}

func groupByKey(cands []linkCandidate) map[string][]linkCandidate {
	out := map[string][]linkCandidate{}
	for _, c := range cands {
		if c.Key == "" {
			continue
		}
		out[c.Key] = append(out[c.Key], c)
	}
	return out
}

func externalIds(cands []linkCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.ExternalId
	}
	return out
}

func absSeconds(a, b time.Time) int64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int64(d.Seconds())
}

// Linker runs repair passes against storage.
type Linker struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewLinker(db *gorm.DB, logger *logrus.Logger) *Linker {
	return &Linker{db: db, logger: logger}
}

// Run executes one repair pass for a rule. The pass is serialized under a
// best-effort redis lock: its correctness depends on seeing the full
// unclaimed candidate set at a point in time, so two concurrent passes for
// the same rule are refused rather than interleaved.
func (l *Linker) Run(ctx context.Context, rule LinkRule, policy LinkPolicy) (RelinkResult, error) {
	result := RelinkResult{Rule: rule.Name, Policy: policy}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, "recon:relink:"+rule.Name, relinkLockTTL, nil)
		if err == redislock.ErrNotObtained {
			return result, utils.ErrorRelinkInProgress
		}
		if err == nil {
			defer lock.Release(context.Background())
		}
		// Other redis errors: proceed without the lock (best-effort, same
		// stance as the accounting posting lock).
	}

	sources, err := l.loadUnresolvedSources(ctx, rule)
	if err != nil {
		return result, err
	}
	if len(sources) == 0 {
		return result, nil
	}

	targets, err := l.loadUnclaimedTargets(ctx, rule)
	if err != nil {
		return result, err
	}

	matches, issues := matchCandidates(sources, targets, policy)
	result.Conflicts = issues

	for _, m := range matches {
		err := l.db.WithContext(ctx).
			Table(rule.SourceKind.Table()).
			Where("external_id = ? AND ("+rule.SourceField+" IS NULL OR "+rule.SourceField+" = '')", m.SourceExternalId).
			Update(rule.SourceField, m.TargetExternalId).Error
		if err != nil {
			config.LogError(l.logger, "recon/linker.go", "Run", rule.Name, m, err)
			continue
		}
		result.Matches = append(result.Matches, m)
		result.Linked++
	}

	models.LogActivity(ctx, l.db, "info", fmt.Sprintf(
		"relink %s (%s): linked=%d conflicts=%d", rule.Name, policy, result.Linked, len(result.Conflicts)))
	return result, nil
}

// Preview computes the matches a pass would write, without writing them.
// No lock is taken; the result is advisory.
func (l *Linker) Preview(ctx context.Context, rule LinkRule, policy LinkPolicy) (RelinkResult, error) {
	result := RelinkResult{Rule: rule.Name, Policy: policy}

	sources, err := l.loadUnresolvedSources(ctx, rule)
	if err != nil {
		return result, err
	}
	if len(sources) == 0 {
		return result, nil
	}
	targets, err := l.loadUnclaimedTargets(ctx, rule)
	if err != nil {
		return result, err
	}

	matches, issues := matchCandidates(sources, targets, policy)
	result.Matches = matches
	result.Conflicts = issues
	return result, nil
}

// loadUnresolvedSources returns source rows whose relation field is
// dangling but whose secondary key is present. Already-linked rows never
// enter the pool, which is what makes re-running the pass a no-op.
func (l *Linker) loadUnresolvedSources(ctx context.Context, rule LinkRule) ([]linkCandidate, error) {
	var rows []linkCandidate
	err := l.db.WithContext(ctx).
		Table(rule.SourceKind.Table()).
		Select("id, external_id, "+rule.SourceKeyField+" AS `key`, created_at").
		Where(rule.SourceField+" IS NULL OR "+rule.SourceField+" = ''").
		Where(rule.SourceKeyField + " IS NOT NULL AND " + rule.SourceKeyField + " <> ''").
		Where("is_deleted = false").
		Scan(&rows).Error
	return rows, err
}

// loadUnclaimedTargets returns target rows not referenced by any source
// row, claimed-or-not being judged against the same point-in-time state.
func (l *Linker) loadUnclaimedTargets(ctx context.Context, rule LinkRule) ([]linkCandidate, error) {
	var rows []linkCandidate
	err := l.db.WithContext(ctx).
		Table(rule.TargetKind.Table()).
		Select("id, external_id, "+rule.TargetKeyField+" AS `key`, created_at").
		Where(rule.TargetKeyField+" IS NOT NULL AND "+rule.TargetKeyField+" <> ''").
		Where("is_deleted = false").
		Where("external_id NOT IN (?)",
			l.db.Table(rule.SourceKind.Table()).
				Select(rule.SourceField).
				Where(rule.SourceField+" IS NOT NULL AND "+rule.SourceField+" <> ''"),
		).
		Scan(&rows).Error
	return rows, err
}
