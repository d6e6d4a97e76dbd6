package policy

import (
	"fmt"
	"log/slog"
)

// Registry resolves the approval gate of an organization. All expressions
// are compiled up front so a bad override fails at startup.
type Registry struct {
	fallback  *Engine
	overrides map[string]*Engine
}

// NewRegistry compiles the default gate and every per-organization override
func NewRegistry(logger *slog.Logger, defaults Config, overrides map[string]Config) (*Registry, error) {
	fallback, err := NewEngine(logger, defaults)
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	r := &Registry{
		fallback:  fallback,
		overrides: make(map[string]*Engine, len(overrides)),
	}
	for orgID, cfg := range overrides {
		engine, err := NewEngine(logger, cfg)
		if err != nil {
			return nil, fmt.Errorf("policy for organization %s: %w", orgID, err)
		}
		r.overrides[orgID] = engine
	}
	return r, nil
}

// For returns the gate configured for orgID, or the default gate
func (r *Registry) For(orgID string) Gate {
	if engine, ok := r.overrides[orgID]; ok {
		return engine
	}
	return r.fallback
}
