package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IsRuleSetVersion reports whether a raw "version" value selects the
// version 2 schema. Integers and integral floats equal to 2 qualify;
// strings do not.
func IsRuleSetVersion(v any) bool {
	n, ok := exactInt(v)
	return ok && n == RuleSetVersion
}

// ParseDocument turns a deserialized policy document into a Document.
// It never fails: version 2 rules are decoded field by field with wrongly
// typed fields left empty, and anything else is coerced to a legacy policy
// with defaults filled in.
func ParseDocument(raw map[string]any) Document {
	if raw != nil && IsRuleSetVersion(raw["version"]) {
		return NewRuleSetDocument(parseRuleSet(raw))
	}
	return NewLegacyDocument(CoerceLegacy(raw))
}

func parseRuleSet(raw map[string]any) RuleSet {
	rs := RuleSet{Version: RuleSetVersion}
	items, _ := raw["rules"].([]any)
	for _, item := range items {
		m, ok := asMap(item)
		if !ok {
			continue
		}
		var r Rule
		r.Match, _ = m["match"].(string)
		if d, ok := m["decision"].(string); ok {
			r.Decision = Verdict(d)
		}
		if c, ok := exactInt(m["cap_cents"]); ok {
			r.CapCents = &c
		}
		r.Ops = stringList(m["ops"])
		r.Reason, _ = m["reason"].(string)
		rs.Rules = append(rs.Rules, r)
	}
	return rs
}

// CoerceLegacy builds a LegacyPolicy from a raw document. Caps that are not
// numbers become 0, negative caps become 0, an empty allow list becomes
// ["*"] and an empty deny list becomes [].
func CoerceLegacy(raw map[string]any) LegacyPolicy {
	p := DefaultLegacy()
	if raw == nil {
		return p
	}
	p.MaxRefundCents = coerceCap(raw["max_refund_cents"])
	p.MaxPaymentLinkCents = coerceCap(raw["max_payment_link_cents"])
	if allow := stringList(raw["allow_tools"]); len(allow) > 0 {
		p.AllowTools = allow
	}
	if deny := stringList(raw["deny_tools"]); len(deny) > 0 {
		p.DenyTools = deny
	}
	return p
}

func coerceCap(v any) int64 {
	n, ok := looseInt(v)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// exactInt accepts integer kinds and floats with no fractional part.
func exactInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatInt(float64(n))
	case float64:
		return floatInt(n)
	}
	return 0, false
}

func floatInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// looseInt additionally truncates fractional floats and parses decimal
// strings, the way a hand-edited legacy file is read.
func looseInt(v any) (int64, bool) {
	if n, ok := exactInt(v); ok {
		return n, true
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// stringList keeps the string elements of a list. A bare string is read as
// a one-element list.
func stringList(v any) []string {
	switch l := v.(type) {
	case string:
		return []string{l}
	case []string:
		return append([]string(nil), l...)
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// asMap normalizes the two map shapes YAML and JSON decoders produce.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
