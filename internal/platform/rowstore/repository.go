package rowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/cache"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/retry"
)

// ListCacheKey holds the last raw list payload.
const ListCacheKey = "samples:list"

// Recorder receives store call outcomes. It is optional.
type Recorder interface {
	RecordStoreCall(op string, err error)
	RecordStoreRetry(op string)
}

// Repository implements referral.Repository on top of an Adapter.
type Repository struct {
	adapter  Adapter
	policy   retry.Policy
	kv       cache.KV
	cacheTTL time.Duration
	logger   zerolog.Logger
	rec      Recorder
	loc      *time.Location
}

// RepoOption configures a Repository.
type RepoOption func(*Repository)

// WithRetryPolicy sets the attempt policy for List. Retryable and OnRetry are
// filled in by the repository.
func WithRetryPolicy(p retry.Policy) RepoOption {
	return func(r *Repository) { r.policy = p }
}

// WithCache caches the raw list payload in kv for ttl.
func WithCache(kv cache.KV, ttl time.Duration) RepoOption {
	return func(r *Repository) {
		r.kv = kv
		r.cacheTTL = ttl
	}
}

func WithLogger(l zerolog.Logger) RepoOption {
	return func(r *Repository) { r.logger = l }
}

func WithRecorder(rec Recorder) RepoOption {
	return func(r *Repository) { r.rec = rec }
}

// WithLocation reads zone-less dates in stored rows as wall-clock time in
// loc. The default is UTC.
func WithLocation(loc *time.Location) RepoOption {
	return func(r *Repository) { r.loc = loc }
}

func NewRepository(adapter Adapter, opts ...RepoOption) *Repository {
	r := &Repository{
		adapter: adapter,
		policy:  retry.Default(),
		logger:  zerolog.Nop(),
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.policy.Retryable = Retryable
	r.policy.OnRetry = func(next int, err error, wait time.Duration) {
		r.logger.Warn().Err(err).
			Int("attempt", next).
			Dur("wait", wait).
			Msg("retrying sample list")
		if r.rec != nil {
			r.rec.RecordStoreRetry("list")
		}
	}
	return r
}

// List loads every record, newest first. When every attempt fails with a
// retryable error it returns an empty list wrapped in referral.ErrIncomplete.
func (r *Repository) List(ctx context.Context) ([]*referral.SampleRequest, error) {
	if raw, ok := r.cached(ctx); ok {
		return r.toSamples(raw), nil
	}

	var raw []normalize.RawRecord
	err := r.policy.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		raw, err = r.adapter.List(ctx)
		return err
	})
	r.observe("list", err)
	if err != nil {
		if Retryable(err) || errors.Is(err, retry.ErrExhausted) {
			r.logger.Warn().Err(err).Msg("sample list unavailable, serving empty result")
			return []*referral.SampleRequest{}, fmt.Errorf("%w: %w", referral.ErrIncomplete, err)
		}
		return nil, fmt.Errorf("list samples: %w", err)
	}

	r.store(ctx, raw)
	return r.toSamples(raw), nil
}

// Create writes sr. The returned record is what the store echoed, falling
// back to sr when the echo is empty or unreadable.
func (r *Repository) Create(ctx context.Context, sr *referral.SampleRequest) (*referral.SampleRequest, error) {
	echoed, err := r.adapter.Create(ctx, normalize.FromSample(*sr))
	r.observe("create", err)
	r.invalidate(ctx)
	if err != nil {
		return nil, fmt.Errorf("create sample %s: %w", sr.ID, err)
	}

	created := sr.Clone()
	if len(echoed) > 0 {
		if got := normalize.ToSampleIn(echoed, r.loc); got.ID != "" {
			if got.RequestDate.IsZero() {
				got.RequestDate = sr.RequestDate
			}
			created = &got
		}
	}
	return created, nil
}

// UpdateStatus writes the lifecycle fields of sr.
func (r *Repository) UpdateStatus(ctx context.Context, sr *referral.SampleRequest) error {
	_, err := r.adapter.UpdateStatus(ctx, StatusUpdate{ID: sr.ID, Fields: normalize.StatusFields(*sr)})
	r.observe("update_status", err)
	r.invalidate(ctx)
	if err != nil {
		return fmt.Errorf("update sample %s: %w", sr.ID, err)
	}
	return nil
}

func (r *Repository) observe(op string, err error) {
	if r.rec != nil {
		r.rec.RecordStoreCall(op, err)
	}
}

func (r *Repository) cached(ctx context.Context) ([]normalize.RawRecord, bool) {
	if r.kv == nil {
		return nil, false
	}
	payload, err := r.kv.Get(ctx, ListCacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn().Err(err).Msg("list cache read failed")
		}
		return nil, false
	}
	var raw []normalize.RawRecord
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		r.logger.Warn().Err(err).Msg("discarding unreadable list cache entry")
		return nil, false
	}
	return raw, true
}

func (r *Repository) store(ctx context.Context, raw []normalize.RawRecord) {
	if r.kv == nil {
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, ListCacheKey, string(payload), r.cacheTTL); err != nil {
		r.logger.Warn().Err(err).Msg("list cache write failed")
	}
}

func (r *Repository) invalidate(ctx context.Context) {
	if r.kv == nil {
		return
	}
	if err := r.kv.Delete(ctx, ListCacheKey); err != nil {
		r.logger.Warn().Err(err).Msg("list cache invalidation failed")
	}
}

func (r *Repository) toSamples(raw []normalize.RawRecord) []*referral.SampleRequest {
	out := make([]*referral.SampleRequest, 0, len(raw))
	for _, rec := range raw {
		sr := normalize.ToSampleIn(rec, r.loc)
		if sr.ID == "" {
			continue
		}
		out = append(out, &sr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestDate.After(out[j].RequestDate)
	})
	return out
}
