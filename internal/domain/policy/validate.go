package policy

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationResult reports every problem found in a policy document.
// Version is always 2: legacy input is migrated before it is checked.
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors"`
	Version  int      `json:"version"`
	Migrated bool     `json:"migrated"`
	Notes    []string `json:"notes"`

	// Policy is the normalized rule list that was checked.
	Policy RuleSet `json:"-"`
}

// Error kinds used in validation messages.
const (
	kindMissing   = "missing"
	kindExtra     = "extra_forbidden"
	kindString    = "string_type"
	kindTooShort  = "string_too_short"
	kindInt       = "int_type"
	kindList      = "list_type"
	kindLiteral   = "literal_error"
	kindGreaterEq = "greater_than_equal"
	kindModel     = "model_type"
)

const literalDecisionMsg = "input should be 'allow', 'deny' or 'review'"

// ruleFields lists the accepted rule keys in reporting order.
var ruleFields = []string{"match", "decision", "cap_cents", "ops", "reason"}

var ruleValidator = newRuleValidator()

func newRuleValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a deserialized policy document. A version 2 document is
// checked as written; anything else is coerced as a legacy policy and
// migrated first. All violations are collected, not just the first.
func Validate(raw map[string]any) ValidationResult {
	res := ValidationResult{Version: RuleSetVersion, Errors: []string{}, Notes: []string{}}

	if raw != nil && IsRuleSetVersion(raw["version"]) {
		rs, errs := checkRuleSetDocument(raw)
		res.Policy = rs
		res.Errors = append(res.Errors, errs...)
	} else {
		legacy := CoerceLegacy(raw)
		res.Policy = Migrate(legacy)
		res.Migrated = true
		res.Notes = append(res.Notes, migratedValidationNote)
		res.Notes = append(res.Notes, migrationNotes(legacy)...)
		for i, rule := range res.Policy.Rules {
			res.Errors = append(res.Errors, checkRuleValues(i, rule, nil, nil)...)
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

// ValidateRuleSet checks an already typed rule list.
func ValidateRuleSet(rs RuleSet) []string {
	var errs []string
	for i, rule := range rs.Rules {
		errs = append(errs, checkRuleValues(i, rule, nil, nil)...)
	}
	return errs
}

func checkRuleSetDocument(raw map[string]any) (RuleSet, []string) {
	var errs []string
	rs := RuleSet{Version: RuleSetVersion}

	for _, key := range sortedKeys(raw) {
		if key != "version" && key != "rules" {
			errs = append(errs, fieldError(key, "extra inputs are not permitted", kindExtra))
		}
	}

	rawRules, present := raw["rules"]
	if !present {
		return rs, append([]string{fieldError("rules", "field required", kindMissing)}, errs...)
	}
	items, ok := rawRules.([]any)
	if !ok {
		return rs, append([]string{fieldError("rules", "input should be a valid list", kindList)}, errs...)
	}

	var ruleErrs []string
	for i, item := range items {
		rule, errsForRule := checkRule(i, item)
		rs.Rules = append(rs.Rules, rule)
		ruleErrs = append(ruleErrs, errsForRule...)
	}

	return rs, append(ruleErrs, errs...)
}

// checkRule type-checks one raw rule, then value-checks the fields that
// had the right type.
func checkRule(i int, item any) (Rule, []string) {
	base := fmt.Sprintf("rules.%d", i)
	m, ok := asMap(item)
	if !ok {
		return Rule{}, []string{fieldError(base, "input should be a valid dictionary or instance of Rule", kindModel)}
	}

	var (
		rule      Rule
		typeErrs  = map[string]string{}
		present   = map[string]bool{}
		extraErrs []string
	)

	for _, key := range sortedKeys(m) {
		if !isRuleField(key) {
			extraErrs = append(extraErrs, fieldError(base+"."+key, "extra inputs are not permitted", kindExtra))
			continue
		}
		present[key] = true
	}

	if v, ok := m["match"]; ok {
		if s, isStr := v.(string); isStr {
			rule.Match = s
		} else {
			typeErrs["match"] = fieldError(base+".match", "input should be a valid string", kindString)
		}
	}

	if v, ok := m["decision"]; ok {
		if s, isStr := v.(string); isStr {
			rule.Decision = Verdict(s)
		} else {
			typeErrs["decision"] = fieldError(base+".decision", literalDecisionMsg, kindLiteral)
		}
	}

	if v, ok := m["cap_cents"]; ok && v != nil {
		if n, isInt := exactInt(v); isInt {
			rule.CapCents = &n
		} else {
			typeErrs["cap_cents"] = fieldError(base+".cap_cents", "input should be a valid integer", kindInt)
		}
	}

	if v, ok := m["ops"]; ok && v != nil {
		list, isList := v.([]any)
		if !isList {
			typeErrs["ops"] = fieldError(base+".ops", "input should be a valid list", kindList)
		} else {
			var opErrs []string
			for j, op := range list {
				s, isStr := op.(string)
				if !isStr {
					opErrs = append(opErrs, fieldError(fmt.Sprintf("%s.ops.%d", base, j), "input should be a valid string", kindString))
					continue
				}
				rule.Ops = append(rule.Ops, s)
			}
			if len(opErrs) > 0 {
				typeErrs["ops"] = strings.Join(opErrs, "\n")
			}
		}
	}

	if v, ok := m["reason"]; ok && v != nil {
		if s, isStr := v.(string); isStr {
			rule.Reason = s
		} else {
			typeErrs["reason"] = fieldError(base+".reason", "input should be a valid string", kindString)
		}
	}

	errs := checkRuleValues(i, rule, typeErrs, present)
	return rule, append(errs, extraErrs...)
}

// checkRuleValues runs the struct-tag constraints on a typed rule and merges
// them with any type errors, in field order. Fields that failed the type
// check are not reported twice. A nil present map means the rule was built
// in memory and every zero field counts as missing.
func checkRuleValues(i int, rule Rule, typeErrs map[string]string, present map[string]bool) []string {
	base := fmt.Sprintf("rules.%d", i)
	byField := map[string][]string{}
	for field, msg := range typeErrs {
		byField[field] = strings.Split(msg, "\n")
	}

	if err := ruleValidator.Struct(rule); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			byField[""] = append(byField[""], fieldError(base, err.Error(), kindModel))
		}
		for _, fe := range verrs {
			field := fe.Field()
			if _, failed := typeErrs[field]; failed {
				continue
			}
			byField[field] = append(byField[field], formatRuleFieldError(base, fe, present))
		}
	}

	var out []string
	out = append(out, byField[""]...)
	for _, field := range ruleFields {
		out = append(out, byField[field]...)
	}
	return out
}

func formatRuleFieldError(base string, fe validator.FieldError, present map[string]bool) string {
	path := base + "." + fe.Field()
	switch fe.Tag() {
	case "required":
		if present != nil && present[fe.Field()] {
			if fe.Field() == "decision" {
				return fieldError(path, literalDecisionMsg, kindLiteral)
			}
			return fieldError(path, "string should have at least 1 character", kindTooShort)
		}
		return fieldError(path, "field required", kindMissing)
	case "oneof":
		return fieldError(path, literalDecisionMsg, kindLiteral)
	case "min":
		return fieldError(path, "input should be greater than or equal to "+fe.Param(), kindGreaterEq)
	default:
		return fieldError(path, "failed validation: "+fe.Tag(), fe.Tag())
	}
}

func fieldError(path, msg, kind string) string {
	return fmt.Sprintf("%s: %s (%s)", path, msg, kind)
}

func isRuleField(key string) bool {
	for _, f := range ruleFields {
		if f == key {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
