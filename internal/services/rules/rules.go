// Package rules loads the compliance rule sets the judge lane scores
// transcripts against.
//
// Rule files are YAML:
//
//	version: v2
//	default:
//	  - id: pii
//	    description: No sensitive personal data is read out.
//	    severity: high
//	campaigns:
//	  Medicare:
//	    - id: cms-disclaimer
//	      description: The CMS disclaimer is read within the first minute.
//
// Store keeps the current set and, when watched, reloads it whenever the file
// changes. A file that fails to parse leaves the previous set in place.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"callpipe/internal/services"
)

// Set is a parsed rule file.
type Set struct {
	Version   string                     `yaml:"version"`
	Default   []services.Rule            `yaml:"default"`
	Campaigns map[string][]services.Rule `yaml:"campaigns"`
}

// DefaultSet is used when no rule file is configured.
func DefaultSet() *Set {
	return &Set{
		Version: "builtin",
		Default: []services.Rule{
			{ID: "pii", Description: "No SSN, card, bank or medical details are shared on the call.", Severity: "high"},
			{ID: "hostility", Description: "Neither party is abusive, threatening or unprofessional.", Severity: "high"},
			{ID: "disclosure", Description: "The agent identifies the company and the purpose of the call.", Severity: "medium"},
			{ID: "tcpa", Description: "No deceptive practices or consent violations under TCPA.", Severity: "critical"},
		},
	}
}

// For returns the default rules followed by the campaign's own rules. A
// campaign rule replaces a default rule with the same id.
func (s *Set) For(campaign string) []services.Rule {
	if s == nil {
		return nil
	}
	extra := s.Campaigns[strings.TrimSpace(campaign)]
	if len(extra) == 0 {
		return append([]services.Rule(nil), s.Default...)
	}
	overridden := make(map[string]struct{}, len(extra))
	for _, rule := range extra {
		overridden[rule.ID] = struct{}{}
	}
	out := make([]services.Rule, 0, len(s.Default)+len(extra))
	for _, rule := range s.Default {
		if _, ok := overridden[rule.ID]; !ok {
			out = append(out, rule)
		}
	}
	return append(out, extra...)
}

// Parse decodes and validates a rule file.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// LoadFile reads and parses path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

func (s *Set) validate() error {
	var problems []string
	check := func(scope string, rules []services.Rule) {
		seen := make(map[string]struct{}, len(rules))
		for i := range rules {
			rules[i].ID = strings.TrimSpace(rules[i].ID)
			rules[i].Severity = strings.ToLower(strings.TrimSpace(rules[i].Severity))
			rule := rules[i]
			if rule.ID == "" {
				problems = append(problems, fmt.Sprintf("%s rule %d: id is required", scope, i))
				continue
			}
			if strings.TrimSpace(rule.Description) == "" {
				problems = append(problems, fmt.Sprintf("%s rule %q: description is required", scope, rule.ID))
			}
			switch rule.Severity {
			case "", "low", "medium", "high", "critical":
			default:
				problems = append(problems, fmt.Sprintf("%s rule %q: unknown severity %q", scope, rule.ID, rule.Severity))
			}
			if _, dup := seen[rule.ID]; dup {
				problems = append(problems, fmt.Sprintf("%s rule %q: duplicate id", scope, rule.ID))
			}
			seen[rule.ID] = struct{}{}
		}
	}
	check("default", s.Default)
	for campaign, rules := range s.Campaigns {
		check("campaign "+campaign, rules)
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrValidation, "rules", "validate", strings.Join(problems, "; "), nil)
	}
	if len(s.Default) == 0 && len(s.Campaigns) == 0 {
		return services.Wrap(services.ErrValidation, "rules", "validate", "no rules defined", nil)
	}
	return nil
}

// ErrNoRules is returned by Store.Reload when no path is configured.
var ErrNoRules = errors.New("no rules file configured")
