package policy

import "fmt"

// Legacy operation names that carry a cap.
const (
	OpRefund            = "refund"
	OpPaymentLinkCreate = "payment_link_create"
)

// Request is a prospective tool invocation.
type Request struct {
	Tool string
	// AmountCents is nil when the caller supplied no amount.
	AmountCents *int64
	// Op is the operation name; empty means none was given.
	Op string
}

// Evaluate dispatches to the evaluator for the document's schema.
// It is pure and safe for concurrent use.
func Evaluate(doc Document, req Request) Decision {
	if doc.Schema == SchemaRules {
		return EvaluateRules(doc.Rules, req)
	}
	return EvaluateLegacy(doc.Legacy, req)
}

// EvaluateRules applies a version 2 rule list. The first rule whose pattern
// matches the tool decides; rules with an empty pattern or an unknown
// decision are passed over. With no match the request goes to review.
func EvaluateRules(rs RuleSet, req Request) Decision {
	for _, rule := range rs.Rules {
		if rule.Match == "" || !matchGlob(rule.Match, req.Tool) {
			continue
		}

		switch rule.Decision {
		case VerdictDeny:
			msg := rule.Reason
			if msg == "" {
				msg = fmt.Sprintf("Denied by rule for '%s'", rule.Match)
			}
			return Block(ReasonDenyRule, msg)

		case VerdictAllow:
			if rule.capApplies(req.Op) && req.AmountCents != nil && *req.AmountCents > *rule.CapCents {
				return Review(ReasonCapExceeded, fmt.Sprintf(
					"Amount %d exceeds cap %d for pattern '%s'",
					*req.AmountCents, *rule.CapCents, rule.Match))
			}
			return Allow()

		case VerdictReview:
			msg := rule.Reason
			if msg == "" {
				msg = fmt.Sprintf("Review required by rule for '%s'", rule.Match)
			}
			return Review(ReasonReviewRule, msg)
		}
	}

	return Review(ReasonNoMatch, "No matching rule; default to review")
}

// EvaluateLegacy applies a version 1 policy: deny list, then allow list,
// then the per-operation cap.
func EvaluateLegacy(p LegacyPolicy, req Request) Decision {
	for _, pattern := range p.DenyTools {
		if matchGlob(pattern, req.Tool) {
			return Block(ReasonDenyPattern,
				fmt.Sprintf("Tool '%s' matches deny pattern '%s'", req.Tool, pattern))
		}
	}

	allowed := false
	for _, pattern := range p.AllowTools {
		if matchGlob(pattern, req.Tool) {
			allowed = true
			break
		}
	}
	if !allowed {
		return Review(ReasonNotAllowed, fmt.Sprintf("Tool '%s' is not in the allow list", req.Tool))
	}

	var capCents int64
	switch req.Op {
	case OpRefund:
		capCents = p.MaxRefundCents
	case OpPaymentLinkCreate:
		capCents = p.MaxPaymentLinkCents
	}
	if capCents <= 0 {
		return Allow()
	}

	if req.AmountCents == nil {
		return Review(ReasonAmountRequired,
			fmt.Sprintf("Amount required for operation '%s' but not provided", req.Op))
	}

	amount := *req.AmountCents
	if amount > capCents {
		var msg string
		if req.Op == OpRefund {
			msg = fmt.Sprintf("Refund amount %d exceeds max_refund_cents cap of %d", amount, capCents)
		} else {
			msg = fmt.Sprintf("Payment link amount %d exceeds max_payment_link_cents cap of %d", amount, capCents)
		}
		return Review(ReasonCapExceeded, msg)
	}

	return Allow()
}
