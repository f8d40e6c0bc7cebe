package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/internal/domain/winner"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

// Decision reasons. Auto decisions carry the metric kind and objective so
// the record explains itself without re-reading the policy.
const (
	reasonManualMode       = "manual_mode"
	reasonAlreadyDecided   = "already_decided"
	reasonTooEarly         = "too_early"
	reasonInsufficientData = "insufficient_data"
	reasonManualOverride   = "manual_override"
)

const winnerChangedEvent = "experiment.winner_changed"

// Decision is the outcome of one winner evaluation pass.
type Decision struct {
	Decided          bool                  `json:"decided"`
	Reason           string                `json:"reason"`
	WinnerVariantKey string                `json:"winner_variant_key,omitempty"`
	Scores           []winner.VariantScore `json:"scores,omitempty"`
}

// EvaluateWinner applies the experiment's winner policy against current
// bucket totals. It is safe to call repeatedly: manual mode and an
// unelapsed pick-after window come back as undecided results, an already
// recorded winner comes back decided with its stored variant, and none of
// these are errors. A fresh decision persists the winner, completes the
// experiment, invalidates its cache scope, and notifies listeners.
func (e *Engine) EvaluateWinner(ctx context.Context, experimentID string) (*Decision, error) {
	exp, err := e.store.ExperimentByID(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment %q: %w", experimentID, err)
	}

	if exp.WinnerPolicy.Mode != model.WinnerAutomatic {
		return &Decision{Reason: reasonManualMode}, nil
	}
	if exp.WinnerDecided() {
		return &Decision{Decided: true, Reason: reasonAlreadyDecided, WinnerVariantKey: exp.WinnerVariantKey}, nil
	}
	now := e.now().UTC()
	if exp.StartedAt.IsZero() || now.Sub(exp.StartedAt) < exp.WinnerPolicy.PickAfter {
		return &Decision{Reason: reasonTooEarly}, nil
	}

	scores, err := e.scoreVariants(ctx, exp)
	if err != nil {
		return nil, err
	}

	metric := exp.PrimaryMetric
	if metric.Kind == model.MetricRate {
		if !winner.PassesRateGuard(scores, exp.WinnerPolicy.MinExposures, exp.WinnerPolicy.MinConversions) {
			return &Decision{Reason: reasonInsufficientData, Scores: scores}, nil
		}
	}

	ranked := winner.Rank(scores, metric.RankObjective())
	if len(ranked) == 0 {
		return &Decision{Reason: reasonInsufficientData}, nil
	}
	winnerKey := ranked[0].VariantKey
	reason := fmt.Sprintf("auto:%s:%s", metric.Kind, metric.RankObjective())

	// An operator override trumps the computed ranking but still waits for
	// the policy gates above, so overrides land on the same schedule.
	if ov := exp.WinnerPolicy.OverrideVariantKey; ov != "" {
		if !exp.HasVariant(ov) {
			return nil, fmt.Errorf("%w: override variant %q not declared", ErrValidation, ov)
		}
		winnerKey = ov
		reason = reasonManualOverride
	}

	if err := e.store.SetWinner(ctx, exp.ID, winnerKey, now, reason); err != nil {
		return nil, fmt.Errorf("persist winner: %w", err)
	}
	e.cache.DeletePrefix(ctx, experimentCachePrefix(exp.ID))
	metrics.RecordWinnerDecision(exp.Code, reason)
	e.log.Info(ctx, "winner decided",
		logger.String("experiment", exp.Code),
		logger.String("variant", winnerKey),
		logger.String("reason", reason),
	)

	e.notifyWinner(exp, winnerKey, reason, now)

	return &Decision{
		Decided:          true,
		Reason:           reason,
		WinnerVariantKey: winnerKey,
		Scores:           ranked,
	}, nil
}

// scoreVariants scores every declared variant on the primary metric. Rate
// metrics window their totals from the experiment start so pre-launch noise
// cannot skew the rate; other kinds roll up everything recorded.
func (e *Engine) scoreVariants(ctx context.Context, exp *model.Experiment) ([]winner.VariantScore, error) {
	metric := exp.PrimaryMetric
	scores := make([]winner.VariantScore, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		var s winner.VariantScore
		switch metric.Kind {
		case model.MetricRate:
			num, err := e.ComputeTotals(ctx, exp.ID, v.Key, metric.NumeratorKey, exp.StartedAt)
			if err != nil {
				return nil, err
			}
			den, err := e.ComputeTotals(ctx, exp.ID, v.Key, metric.DenominatorKey, exp.StartedAt)
			if err != nil {
				return nil, err
			}
			s = winner.ScoreRate(num, den)
		default:
			t, err := e.ComputeTotals(ctx, exp.ID, v.Key, metric.Key, time.Time{})
			if err != nil {
				return nil, err
			}
			s = winner.ScorePlain(metric.Kind, t)
		}
		s.VariantKey = v.Key
		scores = append(scores, s)
	}
	return scores, nil
}

// notifyWinner fans the decision out to the broadcast hub and, for
// org-scoped experiments, the org webhook. Fire-and-forget: failures are
// logged and never surfaced to the evaluation caller.
func (e *Engine) notifyWinner(exp *model.Experiment, winnerKey, reason string, decidedAt time.Time) {
	payload := map[string]any{
		"experiment_id":   exp.ID,
		"experiment_code": exp.Code,
		"org_id":          exp.OrgID,
		"winner_variant":  winnerKey,
		"reason":          reason,
		"decided_at":      decidedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.hub.Broadcast(ctx, winnerChangedEvent, payload)
		if exp.OrgID == "" {
			return
		}
		if err := e.webhook.Dispatch(ctx, exp.OrgID, winnerChangedEvent, payload); err != nil {
			e.log.Warn(ctx, "winner webhook dispatch failed",
				logger.String("experiment", exp.Code),
				logger.Error(err),
			)
		}
	}()
}

// WinnerSnapshot is the externally served view of an experiment's winner
// state, cached briefly to absorb read bursts.
type WinnerSnapshot struct {
	ExperimentID     string    `json:"experiment_id"`
	Code             string    `json:"code"`
	Status           string    `json:"status"`
	Decided          bool      `json:"decided"`
	WinnerVariantKey string    `json:"winner_variant_key,omitempty"`
	WinnerReason     string    `json:"winner_reason,omitempty"`
	WinnerDecidedAt  time.Time `json:"winner_decided_at,omitzero"`
}

// GetWinnerSnapshot resolves the experiment and returns its current winner
// state through the snapshot cache.
func (e *Engine) GetWinnerSnapshot(ctx context.Context, orgID, code string) (*WinnerSnapshot, error) {
	exp, err := e.Resolve(ctx, orgID, code)
	if err != nil {
		return nil, err
	}

	key := winnerCacheKey(exp.ID)
	if data, ok := e.cache.Get(ctx, key); ok {
		var snap WinnerSnapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return &snap, nil
		}
		e.cache.Delete(ctx, key)
	}

	snap := &WinnerSnapshot{
		ExperimentID:     exp.ID,
		Code:             exp.Code,
		Status:           string(exp.Status),
		Decided:          exp.WinnerDecided(),
		WinnerVariantKey: exp.WinnerVariantKey,
		WinnerReason:     exp.WinnerReason,
		WinnerDecidedAt:  exp.WinnerDecidedAt,
	}
	if data, err := json.Marshal(snap); err == nil {
		e.cache.Set(ctx, key, data, e.winnerTTL)
	}
	return snap, nil
}

// RunSummary reports one combined aggregation-and-evaluation sweep over the
// active experiment set.
type RunSummary struct {
	Experiments    int      `json:"experiments"`
	BucketsWritten int      `json:"buckets_written"`
	Decided        []string `json:"decided,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// RunAggregationAndWinner aggregates recent events and evaluates winners
// for every running or completed experiment. Per-experiment failures are
// recorded in the summary and never abort the sweep; the scheduler calls
// this on a fixed interval so the next pass retries naturally.
func (e *Engine) RunAggregationAndWinner(ctx context.Context, width time.Duration, start, end time.Time) (*RunSummary, error) {
	if end.IsZero() {
		end = e.now().UTC()
	}
	if start.IsZero() {
		start = end.Add(-6 * time.Hour)
	}

	exps, err := e.store.ExperimentsByStatus(ctx, model.StatusRunning, model.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	summary := &RunSummary{Experiments: len(exps)}
	for _, exp := range exps {
		written, err := e.AggregateExperiment(ctx, exp.ID, width, start, end)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: aggregate: %v", exp.Code, err))
			continue
		}
		summary.BucketsWritten += written

		dec, err := e.EvaluateWinner(ctx, exp.ID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: evaluate: %v", exp.Code, err))
			continue
		}
		// Experiments decided on an earlier pass come back already_decided;
		// the summary lists only winners picked by this sweep.
		if dec.Decided && dec.Reason != reasonAlreadyDecided {
			summary.Decided = append(summary.Decided, exp.Code)
		}
	}

	e.log.Info(ctx, "aggregation sweep complete",
		logger.Int("experiments", summary.Experiments),
		logger.Int("buckets", summary.BucketsWritten),
		logger.Int("decided", len(summary.Decided)),
		logger.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}
