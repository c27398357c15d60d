// Package policy contains the policy document model and the rule engine that
// maps a prospective tool invocation to a Decision.
package policy

import (
	"context"
	"slices"
)

// Verdict is the outcome a version 2 rule assigns to a matching tool.
type Verdict string

const (
	// VerdictAllow permits the tool, subject to the rule's cap.
	VerdictAllow Verdict = "allow"
	// VerdictDeny blocks the tool outright.
	VerdictDeny Verdict = "deny"
	// VerdictReview requires human sign-off.
	VerdictReview Verdict = "review"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictAllow, VerdictDeny, VerdictReview:
		return true
	}
	return false
}

// RuleSetVersion is the version tag carried by rule-list documents.
const RuleSetVersion = 2

// Rule is a single entry of a version 2 policy. Rules are evaluated top-down
// and the first one whose Match glob matches the tool decides.
type Rule struct {
	// Match is a glob over tool names ("refunds.*", "*").
	Match string `json:"match" yaml:"match" validate:"required"`
	// Decision is the verdict applied on match.
	Decision Verdict `json:"decision" yaml:"decision" validate:"required,oneof=allow deny review"`
	// CapCents escalates an allow to review when the amount exceeds it.
	CapCents *int64 `json:"cap_cents,omitempty" yaml:"cap_cents,omitempty" validate:"omitempty,min=0"`
	// Ops restricts the cap to the listed operations. Empty means every op.
	Ops []string `json:"ops,omitempty" yaml:"ops,omitempty"`
	// Reason overrides the generated reason text for deny and review.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// capApplies reports whether the rule's cap constrains op.
func (r Rule) capApplies(op string) bool {
	if r.CapCents == nil {
		return false
	}
	if len(r.Ops) == 0 {
		return true
	}
	if op == "" {
		return false
	}
	return slices.Contains(r.Ops, op)
}

// RuleSet is the version 2 document: an ordered rule list.
type RuleSet struct {
	Version int    `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// LegacyPolicy is the version 1 document: allow and deny glob lists plus
// per-operation amount caps. A cap of 0 means no cap is configured.
type LegacyPolicy struct {
	MaxRefundCents      int64    `json:"max_refund_cents" yaml:"max_refund_cents"`
	MaxPaymentLinkCents int64    `json:"max_payment_link_cents" yaml:"max_payment_link_cents"`
	AllowTools          []string `json:"allow_tools" yaml:"allow_tools"`
	DenyTools           []string `json:"deny_tools" yaml:"deny_tools"`
}

// DefaultLegacy returns the policy used when no policy file exists:
// every tool allowed, nothing denied, no caps.
func DefaultLegacy() LegacyPolicy {
	return LegacyPolicy{
		AllowTools: []string{"*"},
		DenyTools:  []string{},
	}
}

// Schema identifies which variant a Document holds.
type Schema int

const (
	// SchemaLegacy marks a version 1 allow/deny-list document.
	SchemaLegacy Schema = 1
	// SchemaRules marks a version 2 rule-list document.
	SchemaRules Schema = RuleSetVersion
)

// Document is a loaded policy. Exactly one of Legacy or Rules is meaningful,
// selected by Schema.
type Document struct {
	Schema Schema
	Legacy LegacyPolicy
	Rules  RuleSet

	// Path is the file the document came from, empty when built in memory.
	Path string
	// Hash fingerprints the source bytes; empty when no file was read.
	Hash string
}

// NewLegacyDocument wraps a legacy policy.
func NewLegacyDocument(p LegacyPolicy) Document {
	return Document{Schema: SchemaLegacy, Legacy: p}
}

// NewRuleSetDocument wraps a rule list, forcing its version tag.
func NewRuleSetDocument(rs RuleSet) Document {
	rs.Version = RuleSetVersion
	return Document{Schema: SchemaRules, Rules: rs}
}

// Version returns the document's schema version (1 or 2).
func (d Document) Version() int {
	return int(d.Schema)
}

// Effective returns the document in its wire shape: the rule list for
// version 2, the coerced legacy fields otherwise.
func (d Document) Effective() any {
	if d.Schema == SchemaRules {
		return d.Rules
	}
	return d.Legacy
}

// Source supplies the current policy document. Each Load returns one
// complete, consistent document.
type Source interface {
	Load(ctx context.Context) (Document, error)
}
