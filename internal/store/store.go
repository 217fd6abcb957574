// Package store keeps read-side snapshots of session append cursors.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"speech-to-notion/internal/models"
)

// ErrNotFound is returned when no cursor snapshot exists for a session.
var ErrNotFound = errors.New("cursor not found")

// CursorStore persists the latest cursor of each session.
type CursorStore interface {
	SaveCursor(ctx context.Context, sessionID string, cursor models.Cursor) error
	LoadCursor(ctx context.Context, sessionID string) (models.Cursor, error)
	Close() error
}

// MemoryCursorStore is a process-local CursorStore. Like the Redis store,
// a snapshot expires ttl after its last save; a zero ttl keeps it forever.
type MemoryCursorStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	cursors map[string]memoryEntry
}

type memoryEntry struct {
	cursor    models.Cursor
	expiresAt time.Time
}

func NewMemoryCursorStore(ttl time.Duration) *MemoryCursorStore {
	return &MemoryCursorStore{
		ttl:     ttl,
		now:     time.Now,
		cursors: make(map[string]memoryEntry),
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// SaveCursor stores the snapshot and drops every expired one.
func (s *MemoryCursorStore) SaveCursor(_ context.Context, sessionID string, cursor models.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.cursors {
		if e.expired(now) {
			delete(s.cursors, id)
		}
	}

	entry := memoryEntry{cursor: cursor}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}
	s.cursors[sessionID] = entry
	return nil
}

func (s *MemoryCursorStore) LoadCursor(_ context.Context, sessionID string) (models.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cursors[sessionID]
	if !ok {
		return models.Cursor{}, ErrNotFound
	}
	if e.expired(s.now()) {
		delete(s.cursors, sessionID)
		return models.Cursor{}, ErrNotFound
	}
	return e.cursor, nil
}

// Len reports how many snapshots are held, expired ones included.
func (s *MemoryCursorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

func (s *MemoryCursorStore) Close() error { return nil }
