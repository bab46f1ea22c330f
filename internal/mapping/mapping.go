// Package mapping loads the column-to-question ruleset that binds CSV
// headers to survey questions. Rules are matched against normalized
// question headings by regex, first match wins.
package mapping

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"surveyfill/internal/roster"
)

// Kind classifies how a matched question gets filled.
type Kind string

const (
	// KindRadio picks a single choice by label.
	KindRadio Kind = "radio"
	// KindYesNo picks the first radio for truthy values, the last for
	// falsy ones. Qualtrics renders Yes before No.
	KindYesNo Kind = "yesno"
	// KindCheckbox checks every choice listed in a multi-value cell.
	KindCheckbox Kind = "checkbox"
	// KindDropdown opens a select menu and picks an option by text.
	KindDropdown Kind = "dropdown"
	// KindText types into a single text input.
	KindText Kind = "text"
	// KindMultiText types one value per column into the question's
	// text inputs in order.
	KindMultiText Kind = "multitext"
	// KindOptIn is a yes/no consent question that defaults to yes when
	// the cell is empty.
	KindOptIn Kind = "optin"
)

var validKinds = map[Kind]bool{
	KindRadio:     true,
	KindYesNo:     true,
	KindCheckbox:  true,
	KindDropdown:  true,
	KindText:      true,
	KindMultiText: true,
	KindOptIn:     true,
}

// Rule binds one question-heading pattern to CSV columns.
type Rule struct {
	// Pattern is a regex applied to the whitespace-normalized heading,
	// case-insensitively.
	Pattern string `yaml:"pattern"`
	Kind    Kind   `yaml:"kind"`
	// Column names the source CSV column. Columns is the multi-column
	// form used by multitext and as ordered fallbacks elsewhere.
	Column  string   `yaml:"column,omitempty"`
	Columns []string `yaml:"columns,omitempty"`
	// ValueMap rewrites cell values to choice labels before filling.
	ValueMap map[string]string `yaml:"value_map,omitempty"`
	// Delimiter splits multi-value cells. Defaults to ";".
	Delimiter string `yaml:"delimiter,omitempty"`

	re *regexp.Regexp
}

// SourceColumns returns the columns the rule reads, in order.
func (r *Rule) SourceColumns() []string {
	if len(r.Columns) > 0 {
		return r.Columns
	}
	if r.Column != "" {
		return []string{r.Column}
	}
	return nil
}

// Resolution is a rule applied to one row: the value(s) destined for
// the matched question.
type Resolution struct {
	Rule *Rule
	// Value is the mapped single value. Empty means skip the question.
	Value string
	// Values holds the split multi-select entries for checkbox rules,
	// or the per-column entries for multitext rules.
	Values []string
	// OtherText is the free text captured from an "Other: xyz" value.
	OtherText string
}

// Empty reports whether the resolution carries nothing to fill.
func (res Resolution) Empty() bool {
	return res.Value == "" && len(res.Values) == 0
}

// Resolve applies the rule to a row. Value maps run before other-value
// detection so a mapped value can still carry free text.
func (r *Rule) Resolve(row roster.Row) Resolution {
	res := Resolution{Rule: r}

	switch r.Kind {
	case KindMultiText:
		for _, col := range r.SourceColumns() {
			res.Values = append(res.Values, r.mapValue(row.Get(col)))
		}
		all := true
		for _, v := range res.Values {
			if v != "" {
				all = false
				break
			}
		}
		if all {
			res.Values = nil
		}
		return res

	case KindCheckbox:
		raw := row.GetFirst(r.SourceColumns()...)
		for _, part := range roster.SplitMulti(raw, r.Delimiter) {
			v := r.mapValue(part)
			label, free := roster.SplitOther(v)
			if free != "" {
				res.OtherText = free
			}
			res.Values = append(res.Values, label)
		}
		return res

	case KindOptIn:
		v := r.mapValue(row.GetFirst(r.SourceColumns()...))
		if v == "" {
			v = "Yes"
		}
		res.Value = v
		return res

	default:
		v := r.mapValue(row.GetFirst(r.SourceColumns()...))
		label, free := roster.SplitOther(v)
		res.Value = label
		res.OtherText = free
		return res
	}
}

func (r *Rule) mapValue(v string) string {
	if v == "" {
		return ""
	}
	if mapped, ok := r.ValueMap[v]; ok {
		return mapped
	}
	for k, mapped := range r.ValueMap {
		if strings.EqualFold(roster.Normalize(k), roster.Normalize(v)) {
			return mapped
		}
	}
	return v
}

// Ruleset is an ordered list of rules plus file-level settings.
type Ruleset struct {
	Name  string  `yaml:"name,omitempty"`
	Rules []*Rule `yaml:"rules"`
}

// Match returns the first rule whose pattern matches the normalized
// heading, or nil when no rule applies.
func (rs *Ruleset) Match(heading string) *Rule {
	h := roster.Normalize(heading)
	for _, rule := range rs.Rules {
		if rule.re.MatchString(h) {
			return rule
		}
	}
	return nil
}

// Validate checks that every column a rule references exists among the
// CSV headers, compared whitespace-normalized. It returns all missing
// columns at once so operators fix the mapping in one pass.
func (rs *Ruleset) Validate(headers []string) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[roster.Normalize(h)] = true
	}

	var missing []string
	for _, rule := range rs.Rules {
		for _, col := range rule.SourceColumns() {
			if !known[roster.Normalize(col)] {
				missing = append(missing, fmt.Sprintf("%q (rule %q)", col, rule.Pattern))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("mapping references columns not in csv: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load reads and validates a ruleset from a YAML file.
func Load(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a ruleset. Every rule needs a non-empty
// pattern, a known kind, and at least one source column.
func Parse(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse mapping yaml: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("mapping has no rules")
	}

	for i, rule := range rs.Rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i+1)
		}
		if !validKinds[rule.Kind] {
			return nil, fmt.Errorf("rule %d (%q): unknown kind %q", i+1, rule.Pattern, rule.Kind)
		}
		if len(rule.SourceColumns()) == 0 {
			return nil, fmt.Errorf("rule %d (%q): no source column", i+1, rule.Pattern)
		}
		if rule.Kind == KindMultiText && len(rule.Columns) < 2 {
			return nil, fmt.Errorf("rule %d (%q): multitext needs at least two columns", i+1, rule.Pattern)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i+1, rule.Pattern, err)
		}
		rule.re = re
	}
	return &rs, nil
}
