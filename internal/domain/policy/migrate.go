package policy

import (
	"fmt"
	"strings"
)

// Reasons attached to migrated rules.
const (
	MigratedDenyReason     = "legacy deny list"
	MigratedRefundReason   = "legacy refunds cap"
	MigratedPaymentReason  = "legacy payment_links cap"
	MigratedFallbackReason = "migrated from v1: tools not explicitly allowed require approval"
)

const (
	migratedValidationNote    = "Migrated legacy v1 policy to v2 for validation"
	refundsPatternPrefix      = "refunds"
	paymentLinksPatternPrefix = "payment_links"
)

// Migrate translates a legacy policy into an equivalent rule list: deny
// patterns first, then allow patterns with caps attached by pattern prefix,
// then a catch-all review. Caps of 0 mean "no cap" in legacy documents and
// are not carried over.
func Migrate(p LegacyPolicy) RuleSet {
	rules := make([]Rule, 0, len(p.DenyTools)+len(p.AllowTools)+1)

	for _, pattern := range p.DenyTools {
		rules = append(rules, Rule{Match: pattern, Decision: VerdictDeny, Reason: MigratedDenyReason})
	}

	for _, pattern := range p.AllowTools {
		rule := Rule{Match: pattern, Decision: VerdictAllow}
		switch {
		case strings.HasPrefix(pattern, refundsPatternPrefix) && p.MaxRefundCents > 0:
			rule.CapCents = int64Ptr(p.MaxRefundCents)
			rule.Ops = []string{OpRefund}
			rule.Reason = MigratedRefundReason
		case strings.HasPrefix(pattern, paymentLinksPatternPrefix) && p.MaxPaymentLinkCents > 0:
			rule.CapCents = int64Ptr(p.MaxPaymentLinkCents)
			rule.Reason = MigratedPaymentReason
		}
		rules = append(rules, rule)
	}

	rules = append(rules, Rule{Match: "*", Decision: VerdictReview, Reason: MigratedFallbackReason})

	return RuleSet{Version: RuleSetVersion, Rules: rules}
}

// migrationNotes explains capped allow patterns whose legacy cap was 0 and
// therefore migrated uncapped.
func migrationNotes(p LegacyPolicy) []string {
	var notes []string
	for _, pattern := range p.AllowTools {
		switch {
		case strings.HasPrefix(pattern, refundsPatternPrefix) && p.MaxRefundCents == 0:
			notes = append(notes, fmt.Sprintf(
				"allow pattern '%s' migrated without a cap: max_refund_cents is 0 (no cap)", pattern))
		case strings.HasPrefix(pattern, paymentLinksPatternPrefix) && p.MaxPaymentLinkCents == 0:
			notes = append(notes, fmt.Sprintf(
				"allow pattern '%s' migrated without a cap: max_payment_link_cents is 0 (no cap)", pattern))
		}
	}
	return notes
}

// MigrateDocument returns doc as a rule list, migrating legacy documents.
// The second result reports whether a migration happened.
func MigrateDocument(doc Document) (RuleSet, bool) {
	if doc.Schema == SchemaRules {
		return doc.Rules, false
	}
	return Migrate(doc.Legacy), true
}

func int64Ptr(v int64) *int64 {
	return &v
}
