package store

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/AregGevorgyan/tomatocode/pkg/types"
)

// Store is the process-wide map of session documents. Each entry carries
// its own RWMutex so read-modify-write cycles on one session never block
// another. The in-memory copy is authoritative; the KV adapter is a
// write-through best effort.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	adapter  Adapter
	logger   *zap.Logger
}

type entry struct {
	mu  sync.RWMutex
	doc *types.Session
}

// New creates a store. adapter may be nil to disable persistence.
func New(adapter Adapter, logger *zap.Logger) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		adapter:  adapter,
		logger:   logger,
	}
}

// Create registers a new session document under its code.
func (s *Store) Create(ctx context.Context, doc *types.Session) error {
	s.mu.Lock()
	if _, exists := s.sessions[doc.Code]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.sessions[doc.Code] = &entry{doc: doc}
	s.mu.Unlock()

	s.writeThrough(ctx, doc.Clone())
	return nil
}

// Get returns a point-in-time snapshot of the session document.
func (s *Store) Get(code string) (*types.Session, error) {
	e, ok := s.entryFor(code)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Clone(), nil
}

// Update applies mutator under the session's write lock and returns a
// snapshot of the document after mutation. A mutator error aborts the
// update with no state change and no write-through.
func (s *Store) Update(ctx context.Context, code string, mutator func(*types.Session) error) (*types.Session, error) {
	e, ok := s.entryFor(code)
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	if err := mutator(e.doc); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snapshot := e.doc.Clone()
	e.mu.Unlock()

	s.writeThrough(ctx, snapshot)
	return snapshot, nil
}

// Delete removes the session from memory and from the KV backend.
func (s *Store) Delete(ctx context.Context, code string) error {
	s.mu.Lock()
	_, exists := s.sessions[code]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.sessions, code)
	s.mu.Unlock()

	if s.adapter != nil {
		if err := s.adapter.Delete(ctx, code); err != nil {
			s.logger.Warn("kv delete failed", zap.String("code", code), zap.Error(err))
		}
	}
	return nil
}

// List returns snapshots of every session in the store.
func (s *Store) List() []*types.Session {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	docs := make([]*types.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		docs = append(docs, e.doc.Clone())
		e.mu.RUnlock()
	}
	return docs
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) entryFor(code string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[code]
	return e, ok
}

// writeThrough persists the snapshot. Adapter failures are logged and
// never abort the mutation; the in-memory copy stays authoritative.
func (s *Store) writeThrough(ctx context.Context, snapshot *types.Session) {
	if s.adapter == nil {
		return
	}
	if err := s.adapter.Put(ctx, snapshot.Code, snapshot); err != nil {
		s.logger.Warn("kv write-through failed",
			zap.String("code", snapshot.Code), zap.Error(err))
	}
}
