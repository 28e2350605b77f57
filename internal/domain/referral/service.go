package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrIncomplete marks a list that the store could not fully deliver. A
// repository returning it may still return whatever items it has (often none).
var ErrIncomplete = errors.New("record set may be incomplete")

// Recorder receives lifecycle events. It is optional.
type Recorder interface {
	RecordTransition(status string)
	RecordResult()
}

type Service struct {
	repo     Repository
	schedule ScheduleTable
	state    *State
	now      func() time.Time
	loc      *time.Location
	newID    func() string
	logger   zerolog.Logger
	rec      Recorder

	// mutations run one at a time so each reload observes the previous write
	mu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation reads the clock in loc. Promised dates skip Sundays as seen
// in loc, whatever zone the clock reports.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithSchedule replaces the built-in turnaround table.
func WithSchedule(t ScheduleTable) Option {
	return func(s *Service) { s.schedule = t }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIDGenerator overrides the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		schedule: DefaultSchedule(),
		state:    NewState(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loc != nil {
		clock, loc := s.now, s.loc
		s.now = func() time.Time { return clock().In(loc) }
	}
	return s
}

// SetRecorder attaches an optional lifecycle recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.rec = r
}

// Schedule returns the turnaround table in use.
func (s *Service) Schedule() ScheduleTable {
	return s.schedule
}

// State exposes the cached record set.
func (s *Service) State() *State {
	return s.state
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.now()
}

// -- Transitions --

var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected},
	StatusAccepted: {},
	StatusRejected: {},
}

// ValidateTransition reports ErrInvalidState unless from -> to is allowed.
func ValidateTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final", ErrInvalidState, from)
	}
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, from, to)
}

// ValidatePatient checks the intake form. It trims text fields and fills
// the default diagnosis in place.
func ValidatePatient(p *Patient) error {
	p.DNI = strings.TrimSpace(p.DNI)
	p.Name = strings.TrimSpace(p.Name)
	p.SampleType = strings.TrimSpace(p.SampleType)
	p.UrineCultureMethod = strings.TrimSpace(p.UrineCultureMethod)
	p.PresumptiveDiagnosis = strings.TrimSpace(p.PresumptiveDiagnosis)

	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if p.DNI == "" {
		return fmt.Errorf("%w: dni is required", ErrValidation)
	}
	if p.SampleType == "" {
		return fmt.Errorf("%w: sample_type is required", ErrValidation)
	}
	if p.Age < 0 {
		return fmt.Errorf("%w: age must not be negative", ErrValidation)
	}
	if IsUrineCulture(p.SampleType) && p.UrineCultureMethod == "" {
		return fmt.Errorf("%w: urine_culture_method is required for %s", ErrValidation, UrineCulture)
	}
	p.Sex = ParseSex(string(p.Sex))
	if p.PresumptiveDiagnosis == "" {
		p.PresumptiveDiagnosis = DefaultDiagnosis
	}
	return nil
}

// -- Queries --

// Refresh reloads the record set from the repository. When the store fails
// the last known items are returned together with the error.
func (s *Service) Refresh(ctx context.Context) ([]*SampleRequest, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		if len(items) > 0 {
			s.state.Replace(items, s.now())
		}
		s.state.Invalidate()
		s.logger.Warn().Err(err).
			Time("loaded_at", s.state.LoadedAt()).
			Msg("sample list unavailable, serving last known records")
		cached, _ := s.state.Snapshot()
		return cached, err
	}
	s.state.Replace(items, s.now())
	cached, _ := s.state.Snapshot()
	return cached, nil
}

// List returns every sample request, newest first.
func (s *Service) List(ctx context.Context) ([]*SampleRequest, error) {
	return s.Refresh(ctx)
}

// Get returns one sample request by id.
func (s *Service) Get(ctx context.Context, id string) (*SampleRequest, error) {
	return s.find(ctx, id)
}

func (s *Service) find(ctx context.Context, id string) (*SampleRequest, error) {
	items, err := s.Refresh(ctx)
	for _, sr := range items {
		if sr.ID == id {
			return sr, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load sample requests: %w", err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// -- Mutations --

// CreateRequest validates the patient and stores a new pending request. The
// returned record reflects what the store echoed back; the store may have
// replaced the id and request date.
func (s *Service) CreateRequest(ctx context.Context, p Patient) (*SampleRequest, error) {
	if err := ValidatePatient(&p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr := &SampleRequest{
		ID:          s.newID(),
		Patient:     p,
		RequestDate: s.now(),
		Status:      StatusPending,
	}
	s.state.Upsert(sr)

	created, err := s.repo.Create(ctx, sr)
	if err != nil {
		s.logger.Error().Err(err).Str("id", sr.ID).Msg("create sample request failed")
		return nil, fmt.Errorf("create sample request: %w", err)
	}
	if created == nil {
		created = sr.Clone()
	}
	if created.ID != sr.ID {
		s.state.Remove(sr.ID)
		s.state.Upsert(created)
	}

	s.reconcile(ctx)
	s.record(StatusPending)
	s.logger.Info().
		Str("id", created.ID).
		Str("sample_type", created.Patient.SampleType).
		Msg("sample request created")
	return created, nil
}

// Decide moves a pending request to Accepted or Rejected. Accepting computes
// the promised date from the arrival instant.
func (s *Service) Decide(ctx context.Context, id string, d Decision) (*SampleRequest, error) {
	var to Status
	switch d {
	case DecisionAccept:
		to = StatusAccepted
	case DecisionReject:
		to = StatusRejected
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(current.Status, to); err != nil {
		return nil, fmt.Errorf("decide %s: %w", id, err)
	}

	now := s.now()
	updated := current.Clone()
	updated.Status = to
	updated.ArrivalDate = &now
	updated.PromisedDate = nil
	if to == StatusAccepted {
		promised := s.schedule.Promise(now, updated.Patient.SampleType)
		updated.PromisedDate = &promised
	}

	if err := s.persist(ctx, updated); err != nil {
		return nil, fmt.Errorf("decide %s: %w", id, err)
	}
	s.record(to)
	ev := s.logger.Info().Str("id", id).Str("status", string(to))
	if updated.PromisedDate != nil {
		ev = ev.Time("promised_date", *updated.PromisedDate)
	}
	ev.Msg("sample request decided")
	return updated, nil
}

// AttachResult stores the result artifact reference on an accepted request.
// A request carries at most one result.
func (s *Service) AttachResult(ctx context.Context, id, ref string) (*SampleRequest, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: result reference is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusAccepted {
		return nil, fmt.Errorf("%w: %s is %s, results need Accepted", ErrInvalidState, id, current.Status)
	}
	if current.HasResult() {
		return nil, fmt.Errorf("%w: %s already has a result", ErrInvalidState, id)
	}

	now := s.now()
	updated := current.Clone()
	updated.ResultURL = ref
	updated.ResultUploadDate = &now

	if err := s.persist(ctx, updated); err != nil {
		return nil, fmt.Errorf("attach result to %s: %w", id, err)
	}
	if s.rec != nil {
		s.rec.RecordResult()
	}
	s.logger.Info().Str("id", id).Msg("result attached")
	return updated, nil
}

// persist applies the optimistic update, writes it and reloads. When the
// write fails the optimistic copy stays in the (now stale) state.
func (s *Service) persist(ctx context.Context, sr *SampleRequest) error {
	s.state.Upsert(sr)
	if err := s.repo.UpdateStatus(ctx, sr); err != nil {
		s.logger.Error().Err(err).Str("id", sr.ID).Msg("persist sample request failed")
		return err
	}
	s.reconcile(ctx)
	return nil
}

func (s *Service) reconcile(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("reload after mutation failed, keeping optimistic state")
	}
}

func (s *Service) record(status Status) {
	if s.rec != nil {
		s.rec.RecordTransition(string(status))
	}
}
