package model

import "time"

// Assignment pins a subject to a variant for an experiment's lifetime.
// Exactly one row exists per (ExperimentID, SubjectKey); the row is
// immutable after creation.
type Assignment struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experiment_id"`
	SubjectKey   string         `json:"subject_key"`
	VariantKey   string         `json:"variant_key"`
	Context      map[string]any `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Event is an append-only metric observation. Many events per subject per
// event key are expected (e.g. repeated impressions), so there is no
// uniqueness constraint.
type Event struct {
	ID           string         `json:"id"`
	ExperimentID string         `json:"experiment_id"`
	SubjectKey   string         `json:"subject_key"`
	VariantKey   string         `json:"variant_key"`
	EventKey     string         `json:"event_key"`
	Value        float64        `json:"value"`
	TS           time.Time      `json:"ts"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// MetricBucket pre-aggregates events for one (variant, event key) pair over
// a fixed-width time window. Aggregation overwrites the whole row rather
// than incrementing it, so re-running over an unchanged window is
// idempotent.
type MetricBucket struct {
	ExperimentID string        `json:"experiment_id"`
	VariantKey   string        `json:"variant_key"`
	MetricKey    string        `json:"metric_key"`
	BucketStart  time.Time     `json:"bucket_start"`
	BucketWidth  time.Duration `json:"bucket_width"`
	Count        int64         `json:"count"`
	Sum          float64       `json:"sum"`
	SumSquares   float64       `json:"sum_squares"`
	Min          float64       `json:"min"`
	Max          float64       `json:"max"`
}

// BucketStartFor floors ts onto the bucket grid for the given width.
func BucketStartFor(ts time.Time, width time.Duration) time.Time {
	return ts.Truncate(width)
}
