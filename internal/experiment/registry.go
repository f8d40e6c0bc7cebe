package experiment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/javimosch/superbackend-sub004/internal/adapters/repository"
	"github.com/javimosch/superbackend-sub004/internal/domain/model"
)

// Resolve looks up an experiment by code in the caller's org scope,
// falling back to the global (unscoped) experiment with the same code.
// The fallback lets a global default experiment be overridden per
// organization without duplicating code management.
func (e *Engine) Resolve(ctx context.Context, orgID, code string) (*model.Experiment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty experiment code", ErrValidation)
	}

	orgID = strings.TrimSpace(orgID)
	if orgID != "" {
		exp, err := e.store.ExperimentByCode(ctx, orgID, code)
		if err == nil {
			return exp, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("resolve experiment %q: %w", code, err)
		}
	}

	exp, err := e.store.ExperimentByCode(ctx, "", code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: code %q org %q", ErrNotFound, code, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve experiment %q: %w", code, err)
	}
	return exp, nil
}
