// Package repository defines the experiment store interface and errors.
package repository

import (
	"context"
	"time"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// Store provides durable access to experiments, assignments, events, and
// metric buckets. Implementations must enforce uniqueness of
// (experiment_id, subject_key) on assignments and provide the atomic
// insert-if-absent used by CreateAssignment.
type Store interface {
	// PutExperiment inserts or replaces an experiment definition.
	PutExperiment(ctx context.Context, exp *model.Experiment) error

	// ExperimentByID returns the experiment with the given id.
	// Returns ErrNotFound if it does not exist.
	ExperimentByID(ctx context.Context, id string) (*model.Experiment, error)

	// ExperimentByCode returns the experiment with the given code in the
	// exact org scope (empty orgID means the global scope). Scope fallback
	// is the registry's job, not the store's.
	ExperimentByCode(ctx context.Context, orgID, code string) (*model.Experiment, error)

	// ExperimentsByStatus lists experiments whose status is in statuses.
	ExperimentsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Experiment, error)

	// SetWinner records the winning variant and completes the experiment.
	// Winner fields are write-once: a second call against an experiment
	// with a recorded winner is a no-op.
	SetWinner(ctx context.Context, experimentID, variantKey string, decidedAt time.Time, reason string) error

	// Assignment returns the assignment for (experimentID, subjectKey).
	// Returns ErrNotFound if none exists.
	Assignment(ctx context.Context, experimentID, subjectKey string) (*model.Assignment, error)

	// CreateAssignment atomically inserts a if no row exists for its
	// (experiment, subject) pair. It returns the persisted row and true
	// when a was inserted, or the pre-existing row and false when another
	// writer won the race. A lost race is not an error.
	CreateAssignment(ctx context.Context, a *model.Assignment) (*model.Assignment, bool, error)

	// InsertEvents bulk-inserts events in a single unordered statement and
	// returns the number of rows actually inserted.
	InsertEvents(ctx context.Context, events []model.Event) (int, error)

	// EventsInWindow returns the experiment's events with ts in
	// [start, end] whose event key is in eventKeys.
	EventsInWindow(ctx context.Context, experimentID string, eventKeys []string, start, end time.Time) ([]model.Event, error)

	// DeleteEventsBefore deletes events with ts strictly before cutoff and
	// returns the deleted count. Events exactly at the cutoff survive.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// UpsertBuckets overwrites each bucket row keyed by
	// (experiment, variant, metric, bucket start, bucket width).
	UpsertBuckets(ctx context.Context, buckets []model.MetricBucket) error

	// Buckets returns bucket rows for the triple, optionally restricted to
	// bucket starts at or after startAt (zero startAt means no bound),
	// ordered by bucket start.
	Buckets(ctx context.Context, experimentID, variantKey, metricKey string, startAt time.Time) ([]model.MetricBucket, error)

	// DeleteBucketsBefore deletes buckets with bucket start strictly
	// before cutoff and returns the deleted count.
	DeleteBucketsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
