package experiment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/domain/winner"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

const defaultAggregationWindow = 24 * time.Hour

// ResolveMetricKeys returns the deduplicated raw event keys referenced by
// the experiment's primary and secondary metrics.
func ResolveMetricKeys(exp *model.Experiment) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, 2+len(exp.SecondaryMetrics))
	add := func(ks []string) {
		for _, k := range ks {
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	add(exp.PrimaryMetric.EventKeys())
	for _, m := range exp.SecondaryMetrics {
		add(m.EventKeys())
	}
	return keys
}

type bucketGroupKey struct {
	variantKey string
	eventKey   string
	start      time.Time
}

// AggregateExperiment rolls raw events in [start, end] into fixed-width
// metric buckets and upserts them. Zero-valued parameters take defaults:
// width falls back to the engine bucket width, start to the experiment's
// start time (or a trailing window when it never started), end to now.
//
// Each bucket row is recomputed from scratch and written with a full
// overwrite, so re-running over the same unchanged window is idempotent.
// Returns the number of bucket rows written.
func (e *Engine) AggregateExperiment(ctx context.Context, experimentID string, width time.Duration, start, end time.Time) (int, error) {
	began := e.now()

	exp, err := e.store.ExperimentByID(ctx, experimentID)
	if err != nil {
		return 0, fmt.Errorf("load experiment %q: %w", experimentID, err)
	}

	if width <= 0 {
		width = e.bucketWidth
	}
	if end.IsZero() {
		end = e.now().UTC()
	}
	if start.IsZero() {
		if !exp.StartedAt.IsZero() {
			start = exp.StartedAt
		} else {
			start = end.Add(-defaultAggregationWindow)
		}
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: aggregation window ends before it starts", ErrValidation)
	}

	eventKeys := ResolveMetricKeys(exp)
	if len(eventKeys) == 0 {
		return 0, nil
	}

	events, err := e.store.EventsInWindow(ctx, exp.ID, eventKeys, start, end)
	if err != nil {
		return 0, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	// Grouping happens here rather than in the store so every Store
	// implementation shares one aggregation semantics.
	groups := make(map[bucketGroupKey]*model.MetricBucket)
	for _, ev := range events {
		k := bucketGroupKey{
			variantKey: ev.VariantKey,
			eventKey:   ev.EventKey,
			start:      model.BucketStartFor(ev.TS, width),
		}
		b, ok := groups[k]
		if !ok {
			b = &model.MetricBucket{
				ExperimentID: exp.ID,
				VariantKey:   k.variantKey,
				MetricKey:    k.eventKey,
				BucketStart:  k.start,
				BucketWidth:  width,
				Min:          ev.Value,
				Max:          ev.Value,
			}
			groups[k] = b
		}
		b.Count++
		b.Sum += ev.Value
		b.SumSquares += ev.Value * ev.Value
		if ev.Value < b.Min {
			b.Min = ev.Value
		}
		if ev.Value > b.Max {
			b.Max = ev.Value
		}
	}

	buckets := make([]model.MetricBucket, 0, len(groups))
	for _, b := range groups {
		buckets = append(buckets, *b)
	}
	// Stable write order; map iteration is not.
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.VariantKey != b.VariantKey {
			return a.VariantKey < b.VariantKey
		}
		if a.MetricKey != b.MetricKey {
			return a.MetricKey < b.MetricKey
		}
		return a.BucketStart.Before(b.BucketStart)
	})

	if err := e.store.UpsertBuckets(ctx, buckets); err != nil {
		return 0, fmt.Errorf("upsert buckets: %w", err)
	}

	metrics.RecordBucketsWritten(len(buckets))
	metrics.RecordAggregationDuration(e.now().Sub(began).Seconds())
	e.log.Debug(ctx, "aggregation pass complete",
		logger.String("experiment", exp.Code),
		logger.Int("events", len(events)),
		logger.Int("buckets", len(buckets)),
		logger.Duration("width", width),
	)
	return len(buckets), nil
}

// ComputeTotals sums bucket rows for one (variant, metric key) triple into
// a Totals pair. A zero startAt means all recorded buckets.
func (e *Engine) ComputeTotals(ctx context.Context, experimentID, variantKey, metricKey string, startAt time.Time) (winner.Totals, error) {
	buckets, err := e.store.Buckets(ctx, experimentID, variantKey, metricKey, startAt)
	if err != nil {
		return winner.Totals{}, fmt.Errorf("load buckets: %w", err)
	}
	var t winner.Totals
	for _, b := range buckets {
		t.Count += b.Count
		t.Sum += b.Sum
	}
	return t, nil
}
