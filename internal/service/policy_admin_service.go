package service

import (
	"context"
	"fmt"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

// MigrateResult is the outcome of converting a document to a rule list.
type MigrateResult struct {
	OK      bool           `json:"ok"`
	Version int            `json:"version"`
	Policy  policy.RuleSet `json:"policy"`
	Errors  []string       `json:"errors,omitempty"`
}

// EffectivePolicy is the document the engine is currently using.
type EffectivePolicy struct {
	Version int    `json:"version"`
	Path    string `json:"path,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Policy  any    `json:"policy"`
}

// PolicyAdminService exposes the loaded policy and the validation and
// migration tools.
type PolicyAdminService struct {
	source policy.Source
}

// NewPolicyAdminService creates the service.
func NewPolicyAdminService(source policy.Source) *PolicyAdminService {
	return &PolicyAdminService{source: source}
}

// Effective returns the current document: version 2 as written, legacy with
// defaults applied.
func (s *PolicyAdminService) Effective(ctx context.Context) (EffectivePolicy, error) {
	doc, err := s.source.Load(ctx)
	if err != nil {
		return EffectivePolicy{}, fmt.Errorf("load policy: %w", err)
	}
	return EffectivePolicy{
		Version: doc.Version(),
		Path:    doc.Path,
		Hash:    doc.Hash,
		Policy:  doc.Effective(),
	}, nil
}

// Validate checks a submitted document.
func (s *PolicyAdminService) Validate(raw map[string]any) policy.ValidationResult {
	return policy.Validate(raw)
}

// Migrate returns raw as a rule list, migrating legacy documents, and
// reports whether the result validates.
func (s *PolicyAdminService) Migrate(raw map[string]any) MigrateResult {
	res := policy.Validate(raw)
	return MigrateResult{
		OK:      res.OK,
		Version: policy.RuleSetVersion,
		Policy:  res.Policy,
		Errors:  res.Errors,
	}
}
