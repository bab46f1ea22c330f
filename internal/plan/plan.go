// Package plan builds the dry-run action list for one respondent row.
// It works purely from the ruleset and the row, never touching a
// browser, so operators can review what a fill would do.
package plan

import (
	"fmt"
	"strings"

	"surveyfill/internal/mapping"
	"surveyfill/internal/roster"
)

// Op is the category of a planned step.
type Op string

const (
	OpNavigate Op = "navigate"
	OpClick    Op = "click"
	OpType     Op = "type"
	OpCheck    Op = "check"
	OpSelect   Op = "select"
	OpSkip     Op = "skip"
	OpInfo     Op = "info"
)

// Action is one planned step. Target is the question pattern the step
// applies to, except for navigate where it is the URL.
type Action struct {
	Op     Op       `json:"op"`
	Target string   `json:"target"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Note   string   `json:"note,omitempty"`
}

// String renders the action for terminal output.
func (a Action) String() string {
	switch a.Op {
	case OpNavigate:
		return fmt.Sprintf("navigate  %s", a.Target)
	case OpCheck:
		return fmt.Sprintf("check     [%s] %s", a.Target, strings.Join(a.Values, "; "))
	case OpType:
		if len(a.Values) > 0 {
			return fmt.Sprintf("type      [%s] %s", a.Target, strings.Join(a.Values, " / "))
		}
		return fmt.Sprintf("type      [%s] %q", a.Target, a.Value)
	case OpSkip:
		return fmt.Sprintf("skip      [%s] %s", a.Target, a.Note)
	case OpInfo:
		return fmt.Sprintf("info      %s", a.Note)
	default:
		return fmt.Sprintf("%-9s [%s] %q", string(a.Op), a.Target, a.Value)
	}
}

// Build produces the ordered action list for one row. The list opens
// with navigation to the survey and closes with the page-advance note;
// in between there is exactly one action per rule (plus a trailing
// type for other-choice free text).
func Build(rs *mapping.Ruleset, row roster.Row, startURL string) []Action {
	actions := []Action{{Op: OpNavigate, Target: startURL}}

	for _, rule := range rs.Rules {
		res := rule.Resolve(row)
		if res.Empty() {
			actions = append(actions, Action{
				Op:     OpSkip,
				Target: rule.Pattern,
				Note:   "empty cell, question left untouched",
			})
			continue
		}

		switch rule.Kind {
		case mapping.KindRadio, mapping.KindYesNo, mapping.KindOptIn:
			actions = append(actions, Action{Op: OpClick, Target: rule.Pattern, Value: res.Value})
		case mapping.KindCheckbox:
			actions = append(actions, Action{Op: OpCheck, Target: rule.Pattern, Values: res.Values})
		case mapping.KindDropdown:
			actions = append(actions, Action{Op: OpSelect, Target: rule.Pattern, Value: res.Value})
		case mapping.KindMultiText:
			actions = append(actions, Action{Op: OpType, Target: rule.Pattern, Values: res.Values})
		default:
			actions = append(actions, Action{Op: OpType, Target: rule.Pattern, Value: res.Value})
		}

		if res.OtherText != "" {
			actions = append(actions, Action{
				Op:     OpType,
				Target: rule.Pattern,
				Value:  res.OtherText,
				Note:   "free text for " + roster.OtherLabel,
			})
		}
	}

	if unused := unreferencedColumns(rs, row.Headers()); len(unused) > 0 {
		actions = append(actions, Action{
			Op:   OpInfo,
			Note: "csv columns no rule reads: " + strings.Join(unused, ", "),
		})
	}

	actions = append(actions, Action{
		Op:   OpInfo,
		Note: "advance with Next after each page until the thank-you page",
	})
	return actions
}

// unreferencedColumns lists CSV headers no rule reads, usually a sign
// the mapping is missing a rule or a column name drifted.
func unreferencedColumns(rs *mapping.Ruleset, headers []string) []string {
	used := make(map[string]bool)
	for _, rule := range rs.Rules {
		for _, col := range rule.SourceColumns() {
			used[roster.Normalize(col)] = true
		}
	}
	var out []string
	for _, h := range headers {
		key := roster.Normalize(h)
		if key == "" || used[key] {
			continue
		}
		out = append(out, h)
	}
	return out
}
