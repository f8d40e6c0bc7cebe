package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/domain/bucketing"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
	"github.com/javimosch/superbackend-sub004/pkg/logger"
	"github.com/javimosch/superbackend-sub004/pkg/metrics"
)

// GetOrCreateAssignment returns the sticky assignment for a subject,
// creating it on first request. The subject key is recomputed against the
// experiment's own org scope, so a global experiment buckets a subject
// identically regardless of which org context the caller supplied.
//
// New assignments are only created while the experiment accepts them;
// existing assignments stay readable in every status.
func (e *Engine) GetOrCreateAssignment(ctx context.Context, orgID, code, subjectID string, assignCtx map[string]any) (*model.Assignment, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: empty subject id", ErrValidation)
	}

	exp, err := e.Resolve(ctx, orgID, code)
	if err != nil {
		return nil, err
	}

	subjectKey := bucketing.SubjectKey(exp.OrgID, subjectID)
	cacheKey := assignmentCacheKey(exp.ID, subjectKey)

	if data, ok := e.cache.Get(ctx, cacheKey); ok {
		var a model.Assignment
		if err := json.Unmarshal(data, &a); err == nil {
			metrics.RecordAssignmentCacheHit()
			return &a, nil
		}
		// Corrupt entry; fall through to the store.
		e.cache.Delete(ctx, cacheKey)
	}
	metrics.RecordAssignmentCacheMiss()

	existing, err := e.store.Assignment(ctx, exp.ID, subjectKey)
	if err == nil {
		e.cacheAssignment(ctx, cacheKey, existing)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup assignment: %w", err)
	}

	if !exp.AcceptsAssignments() {
		return nil, fmt.Errorf("%w: status %s", ErrConflict, exp.Status)
	}

	variant, ok := bucketing.Pick(exp.Variants, exp.EffectiveSalt(), subjectKey)
	if !ok {
		return nil, fmt.Errorf("%w: experiment %q has no eligible variant weight", ErrValidation, exp.Code)
	}

	a := &model.Assignment{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		SubjectKey:   subjectKey,
		VariantKey:   variant.Key,
		Context:      assignCtx,
		CreatedAt:    e.now().UTC(),
	}

	persisted, created, err := e.store.CreateAssignment(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	if created {
		metrics.RecordAssignmentCreated(exp.Code, persisted.VariantKey)
	} else {
		// Another writer won the race; its row is the assignment.
		e.log.Debug(ctx, "assignment race lost, returning winner's row",
			logger.String("experiment", exp.Code),
			logger.String("subjectKey", subjectKey),
		)
	}

	e.cacheAssignment(ctx, cacheKey, persisted)
	return persisted, nil
}

func (e *Engine) cacheAssignment(ctx context.Context, key string, a *model.Assignment) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	e.cache.Set(ctx, key, data, e.assignmentTTL)
}

// SubjectKey exposes the canonical subject key derivation, mainly for
// callers that need to correlate externally recorded data.
func (e *Engine) SubjectKey(orgID, subjectID string) string {
	return bucketing.SubjectKey(orgID, subjectID)
}
