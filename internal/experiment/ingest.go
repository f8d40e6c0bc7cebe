package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/javimosch/superbackend-sub004/internal/domain/bucketing"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

// IncomingEvent is one entry of an ingestion batch before validation.
// Value defaults to 1 and TS to the ingestion time; VariantKey is optional
// and resolved through the assignment engine when absent.
type IncomingEvent struct {
	EventKey   string         `json:"event_key"`
	VariantKey string         `json:"variant_key,omitempty"`
	Value      *float64       `json:"value,omitempty"`
	TS         *time.Time     `json:"ts,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// IngestEvents validates and records a batch of metric events for one
// subject. The whole batch is validated eagerly and fails fast on the
// first invalid entry; nothing is silently skipped. After validation all
// rows go to the store in a single unordered bulk insert. Returns the
// count inserted.
//
// Resolving a missing variant key goes through GetOrCreateAssignment, so
// ingestion can create an assignment as a side effect.
func (e *Engine) IngestEvents(ctx context.Context, orgID, code, subjectID string, batch []IncomingEvent) (int, error) {
	if len(batch) == 0 {
		metrics.RecordEventsRejected()
		return 0, fmt.Errorf("%w: empty events array", ErrValidation)
	}
	if subjectID == "" {
		metrics.RecordEventsRejected()
		return 0, fmt.Errorf("%w: empty subject id", ErrValidation)
	}

	exp, err := e.Resolve(ctx, orgID, code)
	if err != nil {
		return 0, err
	}
	subjectKey := bucketing.SubjectKey(exp.OrgID, subjectID)

	// Variant resolved lazily, at most once per batch: every entry
	// without an explicit variant shares the subject's sticky assignment.
	var assignedVariant string

	now := e.now().UTC()
	rows := make([]model.Event, 0, len(batch))
	for i, in := range batch {
		if in.EventKey == "" {
			metrics.RecordEventsRejected()
			return 0, fmt.Errorf("%w: event %d: missing event_key", ErrValidation, i)
		}

		value := 1.0
		if in.Value != nil {
			value = *in.Value
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			metrics.RecordEventsRejected()
			return 0, fmt.Errorf("%w: event %d: value must be finite", ErrValidation, i)
		}

		ts := now
		if in.TS != nil {
			if in.TS.IsZero() {
				metrics.RecordEventsRejected()
				return 0, fmt.Errorf("%w: event %d: invalid timestamp", ErrValidation, i)
			}
			ts = in.TS.UTC()
		}

		variantKey := in.VariantKey
		if variantKey == "" {
			if assignedVariant == "" {
				a, err := e.GetOrCreateAssignment(ctx, orgID, code, subjectID, nil)
				if err != nil {
					return 0, fmt.Errorf("resolve variant for event %d: %w", i, err)
				}
				assignedVariant = a.VariantKey
			}
			variantKey = assignedVariant
		}
		// Guards against stale or renamed variants sneaking back in.
		if !exp.HasVariant(variantKey) {
			metrics.RecordEventsRejected()
			return 0, fmt.Errorf("%w: event %d: unknown variant %q", ErrValidation, i, variantKey)
		}

		rows = append(rows, model.Event{
			ID:           uuid.NewString(),
			ExperimentID: exp.ID,
			SubjectKey:   subjectKey,
			VariantKey:   variantKey,
			EventKey:     in.EventKey,
			Value:        value,
			TS:           ts,
			Meta:         in.Meta,
		})
	}

	inserted, err := e.store.InsertEvents(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}

	metrics.RecordEventsIngested(exp.Code, inserted)
	e.log.Debug(ctx, "events ingested",
		logger.String("experiment", exp.Code),
		logger.String("subjectKey", subjectKey),
		logger.Int("count", inserted),
	)
	return inserted, nil
}
