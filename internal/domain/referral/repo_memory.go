package referral

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryRepository is a Repository for development and tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*SampleRequest
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{items: make(map[string]*SampleRequest)}
}

func (r *InMemoryRepository) List(_ context.Context) ([]*SampleRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*SampleRequest, 0, len(r.items))
	for _, sr := range r.items {
		out = append(out, sr.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *InMemoryRepository) Create(_ context.Context, sr *SampleRequest) (*SampleRequest, error) {
	if sr.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sr.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidState, sr.ID)
	}
	r.items[sr.ID] = sr.Clone()
	return sr.Clone(), nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, sr *SampleRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[sr.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sr.ID)
	}
	updated := existing.Clone()
	updated.Status = sr.Status
	updated.ArrivalDate = cloneTime(sr.ArrivalDate)
	updated.PromisedDate = cloneTime(sr.PromisedDate)
	updated.ResultURL = sr.ResultURL
	updated.ResultUploadDate = cloneTime(sr.ResultUploadDate)
	r.items[sr.ID] = updated
	return nil
}

func sortNewestFirst(items []*SampleRequest) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RequestDate.After(items[j].RequestDate)
	})
}
