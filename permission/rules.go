package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule is a declarative permission rule with glob pattern matching.
// Patterns and tool names are compared case-insensitively.
type Rule struct {
	Pattern  string   // glob pattern, e.g. "context7_*", "bash", "{edit,write}"
	Decision Decision // Allow, Deny, or Ask
}

// AllowRules returns an Allow rule for each pattern.
func AllowRules(patterns ...string) []Rule {
	return rulesFor(Allow, patterns)
}

// DenyRules returns a Deny rule for each pattern.
func DenyRules(patterns ...string) []Rule {
	return rulesFor(Deny, patterns)
}

func rulesFor(d Decision, patterns []string) []Rule {
	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, Rule{Pattern: p, Decision: d})
	}
	return rules
}

// MatchRules evaluates rules against a tool name.
// Evaluation order: deny rules, then ask rules, then allow rules.
// Returns (decision, matched). If no rule matches, matched is false.
func MatchRules(rules []Rule, toolName string) (Decision, bool) {
	var hasAsk, hasAllow bool
	name := strings.ToLower(toolName)

	for _, r := range rules {
		ok, err := doublestar.Match(strings.ToLower(r.Pattern), name)
		if err != nil || !ok {
			continue
		}
		switch r.Decision {
		case Deny:
			return Deny, true
		case Ask:
			hasAsk = true
		case Allow:
			hasAllow = true
		}
	}

	if hasAsk {
		return Ask, true
	}
	if hasAllow {
		return Allow, true
	}
	return Allow, false
}
