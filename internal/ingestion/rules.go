package ingestion

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/spf13/cast"
)

// Value types a rule can require.
const (
	RuleTypeString  = "string"
	RuleTypeInteger = "integer"
	RuleTypeNumber  = "number"
	RuleTypeDate    = "date"
	RuleTypeBoolean = "boolean"
)

// FieldRule is one entry of a mapping's validation_rules, e.g.
//
//	total_gla: {type: integer, min: 1000, max: 3000000}
//	address_state: {required: true, pattern: "^[A-Z]{2}$"}
type FieldRule struct {
	Field     string
	Required  bool
	Type      string
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   *regexp.Regexp
	OneOf     []string
}

// Rules are the validation rules of a mapping, ordered by field.
type Rules []FieldRule

// ParseRules reads validation_rules. Unknown rule keys are rejected.
func ParseRules(raw map[string]any) (Rules, error) {
	rules := make(Rules, 0, len(raw))
	for field, spec := range raw {
		m, err := cast.ToStringMapE(spec)
		if err != nil {
			return nil, domain.NewValidationError("validation_rules", fmt.Sprintf("rules for %s must be a map", field))
		}
		rule, err := parseRule(field, m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Field < rules[j].Field })
	return rules, nil
}

func parseRule(field string, m map[string]any) (FieldRule, error) {
	rule := FieldRule{Field: field}
	bad := func(key string, err error) error {
		return domain.NewValidationError("validation_rules", fmt.Sprintf("%s.%s: %v", field, key, err))
	}

	for key, value := range m {
		switch key {
		case "required":
			v, err := cast.ToBoolE(value)
			if err != nil {
				return rule, bad(key, err)
			}
			rule.Required = v
		case "type":
			t := strings.ToLower(cast.ToString(value))
			if !slices.Contains([]string{RuleTypeString, RuleTypeInteger, RuleTypeNumber, RuleTypeDate, RuleTypeBoolean}, t) {
				return rule, bad(key, fmt.Errorf("unknown type %q", t))
			}
			rule.Type = t
		case "min", "max":
			v, err := cast.ToFloat64E(value)
			if err != nil {
				return rule, bad(key, err)
			}
			if key == "min" {
				rule.Min = &v
			} else {
				rule.Max = &v
			}
		case "min_length", "max_length":
			v, err := cast.ToIntE(value)
			if err != nil || v < 0 {
				return rule, bad(key, fmt.Errorf("must be a non-negative integer"))
			}
			if key == "min_length" {
				rule.MinLength = &v
			} else {
				rule.MaxLength = &v
			}
		case "pattern":
			re, err := regexp.Compile(cast.ToString(value))
			if err != nil {
				return rule, bad(key, err)
			}
			rule.Pattern = re
		case "one_of":
			v, err := cast.ToStringSliceE(value)
			if err != nil {
				return rule, bad(key, err)
			}
			rule.OneOf = v
		default:
			return rule, bad(key, fmt.Errorf("unknown rule"))
		}
	}
	return rule, nil
}

// Check applies the rules to one record. A required field that is empty is
// reported as missing; a value of the wrong type or outside a closed set is
// invalid; range, length and pattern misses are suspicious.
func (r Rules) Check(fields Fields) []fieldIssue {
	var issues []fieldIssue
	for _, rule := range r {
		value := fields.Get(rule.Field)
		if value == "" {
			if rule.Required {
				issues = append(issues, fieldIssue{
					FlagType: domain.FlagTypeMissing,
					Severity: domain.SeverityHigh,
					Field:    rule.Field,
					Message:  fmt.Sprintf("%s is required by the mapping", rule.Field),
				})
			}
			continue
		}
		issues = append(issues, rule.check(fields, value)...)
	}
	return issues
}

func (rule FieldRule) check(fields Fields, value string) []fieldIssue {
	field := rule.Field
	p := &fieldParser{fields: fields}
	switch rule.Type {
	case RuleTypeInteger:
		p.int64Value(field)
	case RuleTypeNumber:
		p.floatValue(field)
	case RuleTypeDate:
		p.dateValue(field)
	case RuleTypeBoolean:
		p.boolValue(field)
	}
	if len(p.issues) > 0 {
		return p.issues
	}

	var issues []fieldIssue
	if rule.Min != nil || rule.Max != nil {
		n, err := cast.ToFloat64E(cleanNumber(value))
		switch {
		case err != nil:
			issues = append(issues, invalid(field, value, "%s is not a number", field))
		case rule.Min != nil && n < *rule.Min:
			issues = append(issues, suspicious(field, value, "%s %v is below the minimum %v", field, n, *rule.Min))
		case rule.Max != nil && n > *rule.Max:
			issues = append(issues, suspicious(field, value, "%s %v is above the maximum %v", field, n, *rule.Max))
		}
	}

	length := utf8.RuneCountInString(value)
	if rule.MinLength != nil && length < *rule.MinLength {
		issues = append(issues, suspicious(field, value, "%s is shorter than %d characters", field, *rule.MinLength))
	}
	if rule.MaxLength != nil && length > *rule.MaxLength {
		issues = append(issues, suspicious(field, value, "%s is longer than %d characters", field, *rule.MaxLength))
	}
	if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
		issues = append(issues, suspicious(field, value, "%s does not match %s", field, rule.Pattern))
	}
	if len(rule.OneOf) > 0 && !slices.ContainsFunc(rule.OneOf, func(s string) bool { return strings.EqualFold(s, value) }) {
		issues = append(issues, invalid(field, value, "%s must be one of %s", field, strings.Join(rule.OneOf, ", ")))
	}
	return issues
}
