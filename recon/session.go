package recon

import (
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"github.com/google/uuid"
)

const (
	// maxSessionEvents caps the per-session ring buffer; producers never
	// block, the oldest entries are dropped instead.
	maxSessionEvents = 512

	// maxSessionErrors caps the per-session structured error list. The
	// full list lives in sync_record_errors; the session keeps the first
	// N for triage.
	maxSessionErrors = 50
)

type ProgressEvent struct {
	Seq        int64             `json:"seq"`
	Time       time.Time         `json:"time"`
	Kind       models.EntityKind `json:"kind,omitempty"`
	ExternalId string            `json:"externalId,omitempty"`
	Current    int               `json:"current"`
	Total      int               `json:"total"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	Message    string            `json:"message,omitempty"`
}

type RecordError struct {
	Kind       models.EntityKind `json:"kind"`
	ExternalId string            `json:"externalId"`
	Message    string            `json:"message"`
}

type SessionProgress struct {
	SessionId      string        `json:"sessionId"`
	Status         string        `json:"status"`
	Current        int           `json:"current"`
	Total          int           `json:"total"`
	CreatedCount   int           `json:"createdCount"`
	UpdatedCount   int           `json:"updatedCount"`
	UnchangedCount int           `json:"unchangedCount"`
	FailedCount    int           `json:"failedCount"`
	Errors         []RecordError `json:"errors"`
	StartedAt      time.Time     `json:"startedAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type session struct {
	mu        sync.Mutex
	progress  SessionProgress
	events    []ProgressEvent
	nextSeq   int64
	expiresAt time.Time
}

// SessionStore is the bounded, evictable map of in-flight and recently
// finished sync sessions. It is deliberately in-process: progress is
// advisory and a restart losing it costs a 404 on getSyncProgress, no
// more. Durable run history lives in sync_runs.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
	ttl      time.Duration
}

func NewSessionStore() *SessionStore {
	ttl := time.Duration(utils.IntFromEnv("RECON_SESSION_TTL_MINUTES", 60)) * time.Minute
	s := &SessionStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
	}
	go s.janitor()
	return s
}

var (
	defaultStore     *SessionStore
	defaultStoreOnce sync.Once
)

func Sessions() *SessionStore {
	defaultStoreOnce.Do(func() {
		defaultStore = NewSessionStore()
	})
	return defaultStore
}

func (s *SessionStore) janitor() {
	for range time.Tick(time.Minute) {
		now := time.Now()
		s.mu.Lock()
		for id, sess := range s.sessions {
			sess.mu.Lock()
			expired := now.After(sess.expiresAt)
			sess.mu.Unlock()
			if expired {
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
	}
}

// Create registers a new session and returns its id.
func (s *SessionStore) Create() string {
	id := uuid.New().String()
	now := time.Now()
	sess := &session{
		progress: SessionProgress{
			SessionId: id,
			Status:    models.SyncRunStatusQueued,
			StartedAt: now,
			UpdatedAt: now,
		},
		expiresAt: now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return id
}

func (s *SessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *SessionStore) touch(sess *session) {
	sess.progress.UpdatedAt = time.Now()
	sess.expiresAt = sess.progress.UpdatedAt.Add(s.ttl)
}

// SetStatus transitions a session's lifecycle status.
func (s *SessionStore) SetStatus(id string, status string) {
	sess, ok := s.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.progress.Status = status
	s.touch(sess)
	sess.mu.Unlock()
}

// AddTotal grows the progress denominator. The remote source paginates,
// so the full run size is unknown up front; each fetched page adds its
// record count here and Total converges on the true figure as pages
// arrive.
func (s *SessionStore) AddTotal(id string, delta int) {
	sess, ok := s.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.progress.Total += delta
	s.touch(sess)
	sess.mu.Unlock()
}

// RecordOutcome bumps the per-outcome counter and appends a progress
// event for the record.
func (s *SessionStore) RecordOutcome(id string, kind models.EntityKind, externalId string, outcome Outcome) {
	sess, ok := s.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.progress.Current++
	switch outcome {
	case OutcomeCreated:
		sess.progress.CreatedCount++
	case OutcomeUpdated:
		sess.progress.UpdatedCount++
	case OutcomeUnchanged:
		sess.progress.UnchangedCount++
	case OutcomeFailed:
		sess.progress.FailedCount++
	}
	s.appendEventLocked(sess, ProgressEvent{
		Kind:       kind,
		ExternalId: externalId,
		Outcome:    outcome,
	})
	s.touch(sess)
}

// RecordError keeps the first N structured errors on the session.
func (s *SessionStore) RecordError(id string, kind models.EntityKind, externalId string, message string) {
	sess, ok := s.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	if len(sess.progress.Errors) < maxSessionErrors {
		sess.progress.Errors = append(sess.progress.Errors, RecordError{
			Kind:       kind,
			ExternalId: externalId,
			Message:    message,
		})
	}
	s.touch(sess)
	sess.mu.Unlock()
}

// Announce appends a free-form message event (kind transitions, run
// summary lines).
func (s *SessionStore) Announce(id string, message string) {
	sess, ok := s.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	s.appendEventLocked(sess, ProgressEvent{Message: message})
	s.touch(sess)
	sess.mu.Unlock()
}

func (s *SessionStore) appendEventLocked(sess *session, ev ProgressEvent) {
	sess.nextSeq++
	ev.Seq = sess.nextSeq
	ev.Time = time.Now()
	ev.Current = sess.progress.Current
	ev.Total = sess.progress.Total
	sess.events = append(sess.events, ev)
	if len(sess.events) > maxSessionEvents {
		sess.events = sess.events[len(sess.events)-maxSessionEvents:]
	}
}

// Snapshot returns a copy of the session's progress.
func (s *SessionStore) Snapshot(id string) (SessionProgress, bool) {
	sess, ok := s.get(id)
	if !ok {
		return SessionProgress{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := sess.progress
	out.Errors = append([]RecordError(nil), sess.progress.Errors...)
	return out, true
}

// Events returns events with Seq > afterSeq, for polling consumers. A
// gap between afterSeq and the first returned Seq means the ring dropped
// entries in between.
func (s *SessionStore) Events(id string, afterSeq int64) ([]ProgressEvent, bool) {
	sess, ok := s.get(id)
	if !ok {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	var out []ProgressEvent
	for _, ev := range sess.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, true
}
