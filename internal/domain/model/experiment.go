// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

// Experiment lifecycle states. Transitions are driven externally except
// running -> completed, which the winner evaluator performs.
const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// MetricKind selects how raw events roll up into a score.
type MetricKind string

const (
	MetricCount MetricKind = "count"
	MetricSum   MetricKind = "sum"
	MetricAvg   MetricKind = "avg"
	MetricRate  MetricKind = "rate"
)

// Objective selects the ranking direction for a metric.
type Objective string

const (
	ObjectiveMaximize Objective = "maximize"
	ObjectiveMinimize Objective = "minimize"
)

// WinnerMode selects whether a winner is picked automatically.
type WinnerMode string

const (
	WinnerManual    WinnerMode = "manual"
	WinnerAutomatic WinnerMode = "automatic"
)

// Variant is one arm of an experiment. Weight 0 removes the variant from
// new assignments without invalidating already-assigned subjects.
type Variant struct {
	Key       string  `json:"key"`
	Weight    int     `json:"weight"`
	ConfigRef string  `json:"config_ref,omitempty"`
	Label     string  `json:"label,omitempty"`
}

// MetricSpec describes one metric tracked by an experiment. For rate
// metrics the numerator and denominator name raw event keys; for all
// other kinds the metric key is itself the raw event key.
type MetricSpec struct {
	Key            string     `json:"key"`
	Kind           MetricKind `json:"kind"`
	NumeratorKey   string     `json:"numerator_key,omitempty"`
	DenominatorKey string     `json:"denominator_key,omitempty"`
	Objective      Objective  `json:"objective"`
}

// EventKeys returns the raw event keys this metric aggregates over.
func (m MetricSpec) EventKeys() []string {
	if m.Kind == MetricRate {
		return []string{m.NumeratorKey, m.DenominatorKey}
	}
	return []string{m.Key}
}

// RankObjective returns the objective, defaulting to maximize when unset.
func (m MetricSpec) RankObjective() Objective {
	if m.Objective == ObjectiveMinimize {
		return ObjectiveMinimize
	}
	return ObjectiveMaximize
}

// WinnerPolicy governs whether and when a winning variant is auto-selected.
//
// MinAssignments is declared for parity with stored policies but is not
// enforced by the evaluator; see the evaluator guard for what gates a
// decision today.
type WinnerPolicy struct {
	Mode               WinnerMode    `json:"mode"`
	PickAfter          time.Duration `json:"pick_after"`
	MinAssignments     int64         `json:"min_assignments"`
	MinExposures       int64         `json:"min_exposures"`
	MinConversions     int64         `json:"min_conversions"`
	Method             string        `json:"method"` // "simple_rate"; Bayesian methods are reserved future values
	OverrideVariantKey string        `json:"override_variant_key,omitempty"`
}

// Experiment is an org-scoped or global (empty OrgID) A/B test definition.
// Code is unique within its org scope. Winner fields are written once by
// the evaluator and immutable afterwards.
type Experiment struct {
	ID               string       `json:"id"`
	OrgID            string       `json:"org_id,omitempty"`
	Code             string       `json:"code"`
	Name             string       `json:"name,omitempty"`
	Status           Status       `json:"status"`
	Variants         []Variant    `json:"variants"`
	Salt             string       `json:"salt,omitempty"`
	Sticky           bool         `json:"sticky"`
	PrimaryMetric    MetricSpec   `json:"primary_metric"`
	SecondaryMetrics []MetricSpec `json:"secondary_metrics,omitempty"`
	WinnerPolicy     WinnerPolicy `json:"winner_policy"`
	StartedAt        time.Time    `json:"started_at,omitzero"`
	WinnerVariantKey string       `json:"winner_variant_key,omitempty"`
	WinnerDecidedAt  time.Time    `json:"winner_decided_at,omitzero"`
	WinnerReason     string       `json:"winner_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// EffectiveSalt returns the configured assignment salt, falling back to the
// experiment's own identifier. Changing the salt of a live experiment
// reshuffles all future assignments.
func (e *Experiment) EffectiveSalt() string {
	if e.Salt != "" {
		return e.Salt
	}
	return e.ID
}

// HasVariant reports whether key belongs to the declared variant set.
func (e *Experiment) HasVariant(key string) bool {
	for _, v := range e.Variants {
		if v.Key == key {
			return true
		}
	}
	return false
}

// AcceptsAssignments reports whether new assignments may be created.
// Previously created assignments stay readable in every status.
func (e *Experiment) AcceptsAssignments() bool {
	return e.Status == StatusRunning || e.Status == StatusCompleted
}

// WinnerDecided reports whether a winner has already been recorded.
func (e *Experiment) WinnerDecided() bool {
	return e.WinnerVariantKey != ""
}

// MetricByKey returns the primary or a secondary metric spec by key.
func (e *Experiment) MetricByKey(key string) (MetricSpec, bool) {
	if e.PrimaryMetric.Key == key {
		return e.PrimaryMetric, true
	}
	for _, m := range e.SecondaryMetrics {
		if m.Key == key {
			return m, true
		}
	}
	return MetricSpec{}, false
}

// NormalizeOrg canonicalizes an organization identifier for key building.
// Empty input maps to the global sentinel.
func NormalizeOrg(orgID string) string {
	org := strings.ToLower(strings.TrimSpace(orgID))
	if org == "" {
		return "global"
	}
	return org
}
