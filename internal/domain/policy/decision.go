package policy

// ReasonKind classifies why a decision was reached.
type ReasonKind string

const (
	// ReasonDenyRule: a version 2 deny rule matched.
	ReasonDenyRule ReasonKind = "deny_rule"
	// ReasonReviewRule: a version 2 review rule matched.
	ReasonReviewRule ReasonKind = "review_rule"
	// ReasonCapExceeded: an allow rule matched but the amount is over its cap.
	ReasonCapExceeded ReasonKind = "cap_exceeded"
	// ReasonNoMatch: no version 2 rule matched.
	ReasonNoMatch ReasonKind = "no_match"
	// ReasonDenyPattern: the tool matched a legacy deny pattern.
	ReasonDenyPattern ReasonKind = "deny_pattern"
	// ReasonNotAllowed: the tool matched no legacy allow pattern.
	ReasonNotAllowed ReasonKind = "not_allowed"
	// ReasonAmountRequired: a legacy cap is configured but no amount was given.
	ReasonAmountRequired ReasonKind = "amount_required"
)

// Reason is one structured explanation attached to a Decision.
type Reason struct {
	Kind    ReasonKind `json:"kind"`
	Message string     `json:"message"`
}

// Status is the externally visible outcome of a decision.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
)

// Decision is the result of evaluating a request. The constructors below are
// the only way the engine builds one, so Allowed and ApprovalRequired are
// never both true.
type Decision struct {
	Allowed          bool
	ApprovalRequired bool
	Reasons          []Reason
}

// Allow returns a permitting decision with no reasons.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Block returns a hard block that no approval can lift.
func Block(kind ReasonKind, msg string) Decision {
	return Decision{Reasons: []Reason{{Kind: kind, Message: msg}}}
}

// Review returns a decision that needs human sign-off.
func Review(kind ReasonKind, msg string) Decision {
	return Decision{ApprovalRequired: true, Reasons: []Reason{{Kind: kind, Message: msg}}}
}

// Status derives the visible outcome from the decision flags.
func (d Decision) Status() Status {
	switch {
	case d.Allowed && !d.ApprovalRequired:
		return StatusAllowed
	case !d.Allowed && d.ApprovalRequired:
		return StatusPending
	default:
		return StatusBlocked
	}
}

// Messages returns the reason texts in order. It never returns nil.
func (d Decision) Messages() []string {
	out := make([]string, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		out = append(out, r.Message)
	}
	return out
}
