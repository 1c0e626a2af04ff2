// Package riskstore holds the in-memory session and trace state behind the
// risk endpoints, plus the local always-allow evaluator used in development
// deployments. Sessions and traces share one TTL and are evicted lazily on
// read and periodically by a sweeper; both maps are LRU-bounded.
package riskstore

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a buyer risk session. Immutable after creation.
type Session struct {
	SID           string
	AgentDID      string
	WalletAddress string
	AgentEndpoint string
	AppID         string
	Device        map[string]any
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Trace is an agent reasoning trace linked to its owning session.
// AgentTrace is schemaless and stored opaque.
type Trace struct {
	TID         string
	SID         string
	Fingerprint map[string]any
	Telemetry   map[string]any
	AgentTrace  json.RawMessage
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// SessionParams carries the caller-supplied session attributes.
type SessionParams struct {
	AgentDID      string
	WalletAddress string
	AgentEndpoint string
	AppID         string
	Device        map[string]any
}

// TraceParams carries the caller-supplied trace attributes.
type TraceParams struct {
	SID         string
	Fingerprint map[string]any
	Telemetry   map[string]any
	AgentTrace  json.RawMessage
}

// Store is an in-memory TTL store of sessions and traces with LRU bounds.
// Safe for concurrent use; all operations are O(1).
type Store struct {
	// OnEvict, when set before first use, observes entries leaving the
	// store. kind is "session" or "trace"; reason is "capacity" or
	// "expired". Called with the store lock held; must not call back in.
	OnEvict func(kind, reason string, count int)

	mu          sync.RWMutex
	sessions    map[string]*sessionEntry
	traces      map[string]*traceEntry
	sessionLRU  *list.List
	traceLRU    *list.List
	maxSize     int
	ttl         time.Duration
	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

type sessionEntry struct {
	session *Session
	element *list.Element
}

type traceEntry struct {
	trace   *Trace
	element *list.Element
}

// New creates a store holding up to maxSize sessions and maxSize traces,
// each expiring ttl after creation.
func New(ttl time.Duration, maxSize int) *Store {
	s := &Store{
		sessions:    make(map[string]*sessionEntry),
		traces:      make(map[string]*traceEntry),
		sessionLRU:  list.New(),
		traceLRU:    list.New(),
		maxSize:     maxSize,
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// CreateSession mints a fresh sid and inserts the session.
func (s *Store) CreateSession(p SessionParams) *Session {
	now := time.Now()
	session := &Session{
		SID:           uuid.NewString(),
		AgentDID:      p.AgentDID,
		WalletAddress: p.WalletAddress,
		AgentEndpoint: p.AgentEndpoint,
		AppID:         p.AppID,
		Device:        p.Device,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.maxSize {
		s.evictOldestSession()
	}
	entry := &sessionEntry{session: session}
	entry.element = s.sessionLRU.PushFront(entry)
	s.sessions[session.SID] = entry

	return session
}

// Session returns a live session, or false if absent or expired.
func (s *Store) Session(sid string) (*Session, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sid]
	if !ok || now.After(entry.session.ExpiresAt) {
		return nil, false
	}
	s.sessionLRU.MoveToFront(entry.element)
	return entry.session, true
}

// CreateTrace mints a fresh tid linked to an existing session.
// Returns ErrUnknownSession when the session is absent or expired.
func (s *Store) CreateTrace(p TraceParams) (*Trace, error) {
	if _, ok := s.Session(p.SID); !ok {
		return nil, ErrUnknownSession
	}

	now := time.Now()
	trace := &Trace{
		TID:         uuid.NewString(),
		SID:         p.SID,
		Fingerprint: p.Fingerprint,
		Telemetry:   p.Telemetry,
		AgentTrace:  p.AgentTrace,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.traces) >= s.maxSize {
		s.evictOldestTrace()
	}
	entry := &traceEntry{trace: trace}
	entry.element = s.traceLRU.PushFront(entry)
	s.traces[trace.TID] = entry

	return trace, nil
}

// Trace returns a live trace, or false if absent or expired.
func (s *Store) Trace(tid string) (*Trace, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.traces[tid]
	if !ok || now.After(entry.trace.ExpiresAt) {
		return nil, false
	}
	s.traceLRU.MoveToFront(entry.element)
	return entry.trace, true
}

// Stats reports the current map sizes, expired entries included until the
// next sweep.
func (s *Store) Stats() (sessions, traces int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.traces)
}

// evictOldestSession removes the least recently used session (caller must hold lock).
func (s *Store) evictOldestSession() {
	element := s.sessionLRU.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*sessionEntry)
	s.sessionLRU.Remove(element)
	delete(s.sessions, entry.session.SID)
	if s.OnEvict != nil {
		s.OnEvict("session", "capacity", 1)
	}
}

// evictOldestTrace removes the least recently used trace (caller must hold lock).
func (s *Store) evictOldestTrace() {
	element := s.traceLRU.Back()
	if element == nil {
		return
	}
	entry := element.Value.(*traceEntry)
	s.traceLRU.Remove(element)
	delete(s.traces, entry.trace.TID)
	if s.OnEvict != nil {
		s.OnEvict("trace", "capacity", 1)
	}
}

// cleanup periodically removes expired entries.
func (s *Store) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expiredSessions []string
	for sid, entry := range s.sessions {
		if now.After(entry.session.ExpiresAt) {
			expiredSessions = append(expiredSessions, sid)
		}
	}
	for _, sid := range expiredSessions {
		if entry, ok := s.sessions[sid]; ok {
			s.sessionLRU.Remove(entry.element)
			delete(s.sessions, sid)
		}
	}
	if s.OnEvict != nil && len(expiredSessions) > 0 {
		s.OnEvict("session", "expired", len(expiredSessions))
	}

	var expiredTraces []string
	for tid, entry := range s.traces {
		if now.After(entry.trace.ExpiresAt) {
			expiredTraces = append(expiredTraces, tid)
		}
	}
	for _, tid := range expiredTraces {
		if entry, ok := s.traces[tid]; ok {
			s.traceLRU.Remove(entry.element)
			delete(s.traces, tid)
		}
	}
	if s.OnEvict != nil && len(expiredTraces) > 0 {
		s.OnEvict("trace", "expired", len(expiredTraces))
	}
}

// Stop gracefully shuts down the cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopCleanup)
	<-s.cleanupDone
}
