package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// TouchRuleSpec is one declarative touch rule from the rule file. Type names
// are resolved to numeric ids when the touch configuration is built.
type TouchRuleSpec struct {
	// SourceTypes are the content type names whose changes trigger the rule.
	SourceTypes []string `yaml:"source_types"`
	// TargetTypes are the content type names touched when the rule fires.
	TargetTypes []string `yaml:"target_types"`
	// Level is the relative folder distance: 0 is the changed item's own
	// folder, 1 its parent, and so on. An omitted level means 0.
	Level int `yaml:"level"`
	// TouchAAParents additionally touches the direct active-assembly parents
	// of the matched items.
	TouchAAParents bool `yaml:"touch_aa_parents"`
}

// TouchRules is the full declarative rule file: the rule list plus the
// descendant-navigation policy pair.
type TouchRules struct {
	// Enabled turns descendant-navigation touching on.
	Enabled bool `yaml:"enabled"`
	// TouchLandingPages restricts the descendant set to the landing pages
	// associated with the descendant navigation nodes.
	TouchLandingPages bool `yaml:"touch_landing_pages"`
	Rules             []TouchRuleSpec `yaml:"rules"`
}

// LoadTouchRules reads and parses the rule file. Structurally invalid rules
// (no sources, no targets, negative level) are dropped with a warning; a rule
// problem never fails the load. Only an unreadable or unparsable file returns
// an error, and callers are expected to continue startup with an empty rule
// set in that case.
func LoadTouchRules(path string, logger *slog.Logger) (*TouchRules, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading touch rule file %s: %w", path, err)
	}

	var rules TouchRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing touch rule file %s: %w", path, err)
	}

	kept := rules.Rules[:0]
	for i, r := range rules.Rules {
		if reason := validateRule(r); reason != "" {
			logger.Warn("dropping invalid touch rule",
				"index", i,
				"reason", reason,
				"source_types", r.SourceTypes,
				"target_types", r.TargetTypes,
				"level", r.Level,
			)
			continue
		}
		kept = append(kept, r)
	}
	rules.Rules = kept

	return &rules, nil
}

// validateRule returns a human-readable reason when the rule is structurally
// invalid, or the empty string when it is usable.
func validateRule(r TouchRuleSpec) string {
	switch {
	case len(r.SourceTypes) == 0:
		return "no source types"
	case len(r.TargetTypes) == 0:
		return "no target types"
	case r.Level < 0:
		return "negative level"
	}
	return ""
}
