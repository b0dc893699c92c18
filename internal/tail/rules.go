package tail

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/loglens/internal/logtypes"
)

// Rule matches records that should raise an alert. All non-empty
// conditions must hold. A rule with no levels matches ERROR.
type Rule struct {
	Name     string   `yaml:"name"`
	Levels   []string `yaml:"levels"`
	Module   string   `yaml:"module"`   // exact module name
	Contains string   `yaml:"contains"` // message substring
}

// RulesFile is the YAML structure for alert rules.
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules alerts on every ERROR record.
func DefaultRules() []Rule {
	return []Rule{LevelRule(logtypes.LevelError)}
}

// LevelRule returns a rule named after the levels it matches.
func LevelRule(levels ...string) Rule {
	return Rule{Name: strings.ToLower(strings.Join(levels, "+")), Levels: levels}
}

// LoadRules loads alert rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert rules: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alert rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("alert rules %s: no rules defined", path)
	}
	seen := make(map[string]bool)
	for _, r := range f.Rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate alert rule: %s", r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rules, nil
}

func validateRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("alert rule missing name")
	}
	for _, l := range r.Levels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("alert rule %s: empty level", r.Name)
		}
	}
	return nil
}

// Match reports whether rec satisfies the rule.
func (r Rule) Match(rec logtypes.Record) bool {
	if !r.matchLevel(rec.Level) {
		return false
	}
	if r.Module != "" && r.Module != rec.Module {
		return false
	}
	if r.Contains != "" && !strings.Contains(rec.Message, r.Contains) {
		return false
	}
	return true
}

func (r Rule) matchLevel(level string) bool {
	if len(r.Levels) == 0 {
		return level == logtypes.LevelError
	}
	for _, l := range r.Levels {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}

// matchRules returns the names of the rules rec satisfies, in rule order.
func matchRules(rules []Rule, rec logtypes.Record) []string {
	var names []string
	for _, r := range rules {
		if r.Match(rec) {
			names = append(names, r.Name)
		}
	}
	return names
}
