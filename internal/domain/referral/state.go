package referral

import (
	"sync"
	"time"
)

// State is the service's cached view of the record set. Mutations patch it
// optimistically; the authoritative copy is whatever the next reload from the
// repository returns. A stale state keeps its items so they can still be
// served when the store is unavailable.
type State struct {
	mu       sync.RWMutex
	items    []*SampleRequest
	loaded   bool
	stale    bool
	loadedAt time.Time
}

// NewState returns an empty, unloaded state.
func NewState() *State {
	return &State{}
}

// Replace installs a freshly loaded record set.
func (s *State) Replace(items []*SampleRequest, at time.Time) {
	cp := make([]*SampleRequest, 0, len(items))
	for _, sr := range items {
		cp = append(cp, sr.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = cp
	s.loaded = true
	s.stale = false
	s.loadedAt = at
}

// Snapshot returns copies of the cached items and whether they came from a
// reload that no mutation has invalidated since.
func (s *State) Snapshot() ([]*SampleRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SampleRequest, 0, len(s.items))
	for _, sr := range s.items {
		out = append(out, sr.Clone())
	}
	return out, s.loaded && !s.stale
}

// Find returns a copy of the cached record with the given id.
func (s *State) Find(id string) (*SampleRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sr := range s.items {
		if sr.ID == id {
			return sr.Clone(), true
		}
	}
	return nil, false
}

// Upsert replaces the cached record with the same id, or inserts it at the
// front, and marks the state stale.
func (s *State) Upsert(sr *SampleRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stale = true
	for i, existing := range s.items {
		if existing.ID == sr.ID {
			s.items[i] = sr.Clone()
			return
		}
	}
	s.items = append([]*SampleRequest{sr.Clone()}, s.items...)
}

// Remove drops the record with the given id and marks the state stale.
func (s *State) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stale = true
	for i, existing := range s.items {
		if existing.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Invalidate marks the cached items as needing a reload.
func (s *State) Invalidate() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// LoadedAt returns when the last successful reload happened.
func (s *State) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
