package integration

import "fmt"

// FilterOperation is a comparison applied by a FilterRule.
type FilterOperation string

const (
	FilterEquals    FilterOperation = "equals"
	FilterNotEquals FilterOperation = "not_equals"
	FilterIn        FilterOperation = "in"
	FilterNotIn     FilterOperation = "not_in"
)

// FilterRule compares one event property against a value. For In and NotIn
// the value is a list.
type FilterRule struct {
	Property  string          `json:"property"`
	Operation FilterOperation `json:"operation"`
	Value     any             `json:"value"`
}

// FilterGroup combines rules and nested groups with AND or OR.
type FilterGroup struct {
	AndOperator bool          `json:"and_operator"`
	Rules       []FilterRule  `json:"rules,omitempty"`
	Groups      []FilterGroup `json:"groups,omitempty"`
}

// Matches evaluates the group against an event. A nil or empty group matches.
func (g *FilterGroup) Matches(e Event) bool {
	if g == nil || (len(g.Rules) == 0 && len(g.Groups) == 0) {
		return true
	}

	results := make([]bool, 0, len(g.Rules)+len(g.Groups))
	for _, rule := range g.Rules {
		results = append(results, rule.Matches(e))
	}
	for i := range g.Groups {
		results = append(results, g.Groups[i].Matches(e))
	}

	if g.AndOperator {
		for _, ok := range results {
			if !ok {
				return false
			}
		}
		return true
	}

	for _, ok := range results {
		if ok {
			return true
		}
	}
	return false
}

// Matches evaluates a single rule. Unknown operations never match.
func (r FilterRule) Matches(e Event) bool {
	actual, found := e.Property(r.Property)

	switch r.Operation {
	case FilterEquals:
		return found && looselyEqual(actual, r.Value)
	case FilterNotEquals:
		return !found || !looselyEqual(actual, r.Value)
	case FilterIn:
		return found && containsValue(r.Value, actual)
	case FilterNotIn:
		return !found || !containsValue(r.Value, actual)
	default:
		return false
	}
}

// looselyEqual compares by string form so JSON numbers match integers.
func looselyEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(list any, v any) bool {
	switch items := list.(type) {
	case []any:
		for _, item := range items {
			if looselyEqual(item, v) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if looselyEqual(item, v) {
				return true
			}
		}
	}
	return false
}
