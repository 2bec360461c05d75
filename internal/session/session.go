// Package session persists the chat session and the record of which
// questions have been registered with the backend under it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"leetpanel/internal/logging"
	"leetpanel/internal/store"
)

// Storage keys. These two are the only keys leetpanel writes.
const (
	KeySession     = "session"
	KeyInitialized = "initialized_questions"
)

// Session is the backend chat session. A session without an auth token is
// invalid and is never returned by Load.
type Session struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	AuthToken string `json:"auth_token"`
}

// Valid reports whether s can authenticate requests.
func (s *Session) Valid() bool {
	return s != nil && strings.TrimSpace(s.AuthToken) != "" && s.SessionID != ""
}

// InitializedMap is sessionID -> question number -> registration time.
type InitializedMap map[string]map[int]time.Time

// Store wraps a KV with typed access to the two session keys.
// Read-modify-write of the initialized map is serialized in-process.
type Store struct {
	kv store.KV
	mu sync.Mutex
}

// NewStore returns a Store backed by kv.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Load returns the stored session, or nil when there is none or it is invalid.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	raw, ok, err := s.kv.Get(ctx, KeySession)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		logging.StoreWarn("Discarding unreadable session record: %v", err)
		return nil, nil
	}
	if !sess.Valid() {
		logging.StoreWarn("Discarding session record without auth token")
		return nil, nil
	}
	return &sess, nil
}

// Save writes sess. Invalid sessions are rejected.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if !sess.Valid() {
		return fmt.Errorf("save session: missing session id or auth token")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return s.kv.Set(ctx, KeySession, raw)
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, KeySession)
}

// IsInitialized reports whether number was registered under sessionID.
func (s *Store) IsInitialized(ctx context.Context, sessionID string, number int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadMap(ctx)
	if err != nil {
		return false, err
	}
	_, ok := m[sessionID][number]
	return ok, nil
}

// MarkInitialized records number as registered under sessionID at t.
func (s *Store) MarkInitialized(ctx context.Context, sessionID string, number int, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadMap(ctx)
	if err != nil {
		return err
	}
	if m[sessionID] == nil {
		m[sessionID] = make(map[int]time.Time)
	}
	m[sessionID][number] = t
	return s.saveMap(ctx, m)
}

// DropSession removes every initialized entry for sessionID.
func (s *Store) DropSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadMap(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[sessionID]; !ok {
		return nil
	}
	delete(m, sessionID)
	return s.saveMap(ctx, m)
}

// Initialized returns a copy of the whole map.
func (s *Store) Initialized(ctx context.Context) (InitializedMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMap(ctx)
}

// JSON object keys are strings, so question numbers are stored as decimal
// strings and timestamps as unix milliseconds.
type wireMap map[string]map[string]int64

func (s *Store) loadMap(ctx context.Context) (InitializedMap, error) {
	out := make(InitializedMap)
	raw, ok, err := s.kv.Get(ctx, KeyInitialized)
	if err != nil {
		return nil, fmt.Errorf("load initialized questions: %w", err)
	}
	if !ok {
		return out, nil
	}
	var w wireMap
	if err := json.Unmarshal(raw, &w); err != nil {
		logging.StoreWarn("Discarding unreadable initialized map: %v", err)
		return out, nil
	}
	for sid, qs := range w {
		inner := make(map[int]time.Time, len(qs))
		for k, ms := range qs {
			n, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			inner[n] = time.UnixMilli(ms)
		}
		out[sid] = inner
	}
	return out, nil
}

func (s *Store) saveMap(ctx context.Context, m InitializedMap) error {
	w := make(wireMap, len(m))
	for sid, qs := range m {
		inner := make(map[string]int64, len(qs))
		for n, t := range qs {
			inner[strconv.Itoa(n)] = t.UnixMilli()
		}
		w[sid] = inner
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("save initialized questions: %w", err)
	}
	return s.kv.Set(ctx, KeyInitialized, raw)
}
