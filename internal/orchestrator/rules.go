package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule actions
const (
	// ActionMock switches the tool to mock mode and requeues it, so the
	// pipeline keeps moving with placeholder output.
	ActionMock = "mock"
	// ActionRequeue requeues the tool unchanged, for transient obstacles
	ActionRequeue = "requeue"
	// ActionWait leaves the tool parked for a later cycle
	ActionWait = "wait"
)

// Rule matches a blocker reason and names the workaround. Matching is
// case-insensitive substring containment: every term in Contains must
// appear in the reason.
type Rule struct {
	Name     string   `yaml:"name"`
	Contains []string `yaml:"contains"`
	Action   string   `yaml:"action"`
}

// Matches reports whether the rule applies to the given blocker reason
func (r Rule) Matches(reason string) bool {
	lower := strings.ToLower(reason)
	for _, term := range r.Contains {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// DefaultRules is the built-in remediation table, checked in order. The
// final catch-all has no terms, so every blocker resolves to something.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "missing-credentials", Contains: []string{"api", "key"}, Action: ActionMock},
		{Name: "missing-credentials-alt", Contains: []string{"credential"}, Action: ActionMock},
		{Name: "rate-limited", Contains: []string{"rate", "limit"}, Action: ActionMock},
		{Name: "flaky-tests", Contains: []string{"test", "fail"}, Action: ActionRequeue},
		{Name: "service-down", Contains: []string{"unavailable"}, Action: ActionRequeue},
		{Name: "generic-workaround", Action: ActionMock},
	}
}

// rulesFile is the YAML document shape for a rules override
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule table from a YAML file. The built-in catch-all is
// appended if the file's own rules all have match terms, so a blocker can
// never fall through unmatched.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}

	for i, r := range doc.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rules file %s: rule %d has no name", path, i)
		}
		switch r.Action {
		case ActionMock, ActionRequeue, ActionWait:
		default:
			return nil, fmt.Errorf("rules file %s: rule %s has unknown action %q", path, r.Name, r.Action)
		}
	}

	hasCatchAll := false
	for _, r := range doc.Rules {
		if len(r.Contains) == 0 {
			hasCatchAll = true
			break
		}
	}
	rules := doc.Rules
	if !hasCatchAll {
		rules = append(rules, Rule{Name: "generic-workaround", Action: ActionMock})
	}
	return rules, nil
}

// matchRule returns the first rule matching the reason
func matchRule(rules []Rule, reason string) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(reason) {
			return r, true
		}
	}
	return Rule{}, false
}
