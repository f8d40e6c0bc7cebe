package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// MemStore is a mutex-protected in-memory Store. It backs tests and the
// storeless dev mode; semantics (uniqueness, insert-if-absent, overwrite
// upserts, strict retention cutoffs) match the Postgres adapter.
type MemStore struct {
	mu          sync.RWMutex
	experiments map[string]*model.Experiment // by id
	codes       map[string]string            // scopeKey(org, code) -> id
	assignments map[string]*model.Assignment // assignKey(exp, subject)
	events      []model.Event
	buckets     map[string]model.MetricBucket // bucketKey
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		experiments: make(map[string]*model.Experiment),
		codes:       make(map[string]string),
		assignments: make(map[string]*model.Assignment),
		buckets:     make(map[string]model.MetricBucket),
	}
}

func scopeKey(orgID, code string) string {
	return orgID + "\x00" + code
}

func assignKey(experimentID, subjectKey string) string {
	return experimentID + "\x00" + subjectKey
}

func bucketKey(b model.MetricBucket) string {
	return strings.Join([]string{
		b.ExperimentID,
		b.VariantKey,
		b.MetricKey,
		b.BucketStart.UTC().Format(time.RFC3339Nano),
		b.BucketWidth.String(),
	}, "\x00")
}

func cloneExperiment(e *model.Experiment) *model.Experiment {
	c := *e
	c.Variants = append([]model.Variant(nil), e.Variants...)
	c.SecondaryMetrics = append([]model.MetricSpec(nil), e.SecondaryMetrics...)
	return &c
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	c := *a
	if a.Context != nil {
		c.Context = make(map[string]any, len(a.Context))
		for k, v := range a.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// PutExperiment inserts or replaces an experiment definition.
func (s *MemStore) PutExperiment(_ context.Context, exp *model.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.experiments[exp.ID]; ok {
		delete(s.codes, scopeKey(prev.OrgID, prev.Code))
	}
	s.experiments[exp.ID] = cloneExperiment(exp)
	s.codes[scopeKey(exp.OrgID, exp.Code)] = exp.ID
	return nil
}

// ExperimentByID returns the experiment with the given id.
func (s *MemStore) ExperimentByID(_ context.Context, id string) (*model.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExperiment(exp), nil
}

// ExperimentByCode returns the experiment for (orgID, code) in that exact scope.
func (s *MemStore) ExperimentByCode(_ context.Context, orgID, code string) (*model.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[scopeKey(orgID, code)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExperiment(s.experiments[id]), nil
}

// ExperimentsByStatus lists experiments in any of the given statuses.
func (s *MemStore) ExperimentsByStatus(_ context.Context, statuses ...model.Status) ([]*model.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	var out []*model.Experiment
	for _, exp := range s.experiments {
		if want[exp.Status] {
			out = append(out, cloneExperiment(exp))
		}
	}
	// Stable order keeps scheduled runs reproducible.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetWinner records the winner once and completes the experiment.
func (s *MemStore) SetWinner(_ context.Context, experimentID, variantKey string, decidedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[experimentID]
	if !ok {
		return ErrNotFound
	}
	if exp.WinnerVariantKey != "" {
		return nil
	}
	exp.WinnerVariantKey = variantKey
	exp.WinnerDecidedAt = decidedAt
	exp.WinnerReason = reason
	exp.Status = model.StatusCompleted
	exp.UpdatedAt = decidedAt
	return nil
}

// Assignment returns the assignment for (experimentID, subjectKey).
func (s *MemStore) Assignment(_ context.Context, experimentID, subjectKey string) (*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[assignKey(experimentID, subjectKey)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAssignment(a), nil
}

// CreateAssignment inserts a unless a row already exists for its pair, in
// which case the existing row wins and is returned unchanged.
func (s *MemStore) CreateAssignment(_ context.Context, a *model.Assignment) (*model.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignKey(a.ExperimentID, a.SubjectKey)
	if existing, ok := s.assignments[key]; ok {
		return cloneAssignment(existing), false, nil
	}
	s.assignments[key] = cloneAssignment(a)
	return cloneAssignment(a), true, nil
}

// InsertEvents appends all events in one shot.
func (s *MemStore) InsertEvents(_ context.Context, events []model.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return len(events), nil
}

// EventsInWindow returns events for the experiment with ts in [start, end]
// and event key in eventKeys.
func (s *MemStore) EventsInWindow(_ context.Context, experimentID string, eventKeys []string, start, end time.Time) ([]model.Event, error) {
	keys := make(map[string]bool, len(eventKeys))
	for _, k := range eventKeys {
		keys[k] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, ev := range s.events {
		if ev.ExperimentID != experimentID || !keys[ev.EventKey] {
			continue
		}
		if ev.TS.Before(start) || ev.TS.After(end) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteEventsBefore removes events strictly older than cutoff.
func (s *MemStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, ev := range s.events {
		if ev.TS.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return deleted, nil
}

// UpsertBuckets overwrites each bucket row.
func (s *MemStore) UpsertBuckets(_ context.Context, buckets []model.MetricBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range buckets {
		s.buckets[bucketKey(b)] = b
	}
	return nil
}

// Buckets returns bucket rows ordered by bucket start.
func (s *MemStore) Buckets(_ context.Context, experimentID, variantKey, metricKey string, startAt time.Time) ([]model.MetricBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MetricBucket
	for _, b := range s.buckets {
		if b.ExperimentID != experimentID || b.VariantKey != variantKey || b.MetricKey != metricKey {
			continue
		}
		if !startAt.IsZero() && b.BucketStart.Before(startAt) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// DeleteBucketsBefore removes buckets starting strictly before cutoff.
func (s *MemStore) DeleteBucketsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, b := range s.buckets {
		if b.BucketStart.Before(cutoff) {
			delete(s.buckets, key)
			deleted++
		}
	}
	return deleted, nil
}
