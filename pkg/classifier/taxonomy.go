// Package classifier inspects proposed action text against a fixed taxonomy
// of threat categories and returns a classification with a confidence score.
//
// Scoring is deterministic and rule-based: weighted pattern hits per
// category, a multiplicative prevalence boost reflecting how common each
// category is empirically, and sector-scoped safe patterns that suppress
// structurally similar but legitimate domain language. Pattern weights and
// prevalence values are calibration configuration, not contracts.
package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Category is a top-level threat category.
type Category string

const (
	CategoryMisuse           Category = "misuse"
	CategoryBias             Category = "discriminatory-bias"
	CategoryDataExfiltration Category = "data-exfiltration"
	CategoryPrivacyViolation Category = "privacy-violation"
	CategoryUnreliableOutput Category = "unreliable-output"
)

// Signal is one weighted pattern backing a category. Patterns are matched
// case-insensitively as regular expressions.
type Signal struct {
	Pattern string  `yaml:"pattern" json:"pattern"`
	Weight  float64 `yaml:"weight" json:"weight"`
}

// SubCategory refines a winning category with a narrower pattern set.
type SubCategory struct {
	Name    string   `yaml:"name" json:"name"`
	Signals []Signal `yaml:"signals" json:"signals"`
}

// CategorySpec declares one taxonomy category.
type CategorySpec struct {
	Name Category `yaml:"name" json:"name"`

	// Prevalence is the multiplicative boost applied to the raw match
	// score, reflecting historical frequency in the incident corpus.
	Prevalence float64 `yaml:"prevalence" json:"prevalence"`

	// Priority breaks exact score ties; lower wins.
	Priority int `yaml:"priority" json:"priority"`

	Signals       []Signal      `yaml:"signals" json:"signals"`
	SubCategories []SubCategory `yaml:"sub_categories,omitempty" json:"sub_categories,omitempty"`
}

// SafePattern whitelists legitimate domain language for a sector. A safe
// pattern that matches takes precedence over the categories it suppresses.
type SafePattern struct {
	Sector     string     `yaml:"sector" json:"sector"`
	Pattern    string     `yaml:"pattern" json:"pattern"`
	Suppresses []Category `yaml:"suppresses" json:"suppresses"`
}

// Taxonomy is the full classifier configuration.
type Taxonomy struct {
	Categories   []CategorySpec `yaml:"categories" json:"categories"`
	SafePatterns []SafePattern  `yaml:"safe_patterns,omitempty" json:"safe_patterns,omitempty"`
}

// LoadTaxonomy reads a taxonomy from a YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: read taxonomy %q: %w", path, err)
	}
	var tax Taxonomy
	if err := yaml.Unmarshal(data, &tax); err != nil {
		return nil, fmt.Errorf("classifier: parse taxonomy: %w", err)
	}
	return &tax, nil
}

type compiledSignal struct {
	raw    Signal
	re     *regexp.Regexp
	weight float64
}

type compiledSub struct {
	name    string
	signals []compiledSignal
}

type compiledCategory struct {
	spec    CategorySpec
	signals []compiledSignal
	subs    []compiledSub
	// maxScore is the adjusted score when every signal matches; used to
	// normalize confidence.
	maxScore float64
}

type compiledSafe struct {
	sector     string
	re         *regexp.Regexp
	suppresses map[Category]bool
}

func compileSignals(signals []Signal) ([]compiledSignal, error) {
	out := make([]compiledSignal, 0, len(signals))
	for _, s := range signals {
		re, err := regexp.Compile("(?i)" + s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classifier: compile pattern %q: %w", s.Pattern, err)
		}
		weight := s.Weight
		if weight == 0 {
			weight = 1.0
		}
		out = append(out, compiledSignal{raw: s, re: re, weight: weight})
	}
	return out, nil
}
