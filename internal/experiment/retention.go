package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

// RetentionResult reports one retention sweep.
type RetentionResult struct {
	EventsDeleted  int64     `json:"events_deleted"`
	BucketsDeleted int64     `json:"buckets_deleted"`
	EventsCutoff   time.Time `json:"events_cutoff"`
	BucketsCutoff  time.Time `json:"buckets_cutoff"`
}

// RunRetentionCleanup deletes raw events and metric buckets older than
// their configured retention windows. Cutoffs are strict: rows exactly at
// the cutoff instant survive until the next sweep. Raw events age out much
// sooner than buckets, so long-term analysis rests on the aggregates.
func (e *Engine) RunRetentionCleanup(ctx context.Context) (*RetentionResult, error) {
	now := e.now().UTC()
	res := &RetentionResult{
		EventsCutoff:  now.Add(-e.eventRetention),
		BucketsCutoff: now.Add(-e.bucketRetention),
	}

	events, err := e.store.DeleteEventsBefore(ctx, res.EventsCutoff)
	if err != nil {
		return nil, fmt.Errorf("delete events: %w", err)
	}
	res.EventsDeleted = events

	buckets, err := e.store.DeleteBucketsBefore(ctx, res.BucketsCutoff)
	if err != nil {
		return nil, fmt.Errorf("delete buckets: %w", err)
	}
	res.BucketsDeleted = buckets

	metrics.RecordRetentionDeleted(res.EventsDeleted, res.BucketsDeleted)
	e.log.Info(ctx, "retention sweep complete",
		logger.Int64("eventsDeleted", res.EventsDeleted),
		logger.Int64("bucketsDeleted", res.BucketsDeleted),
		logger.Time("eventsCutoff", res.EventsCutoff),
		logger.Time("bucketsCutoff", res.BucketsCutoff),
	)
	return res, nil
}
