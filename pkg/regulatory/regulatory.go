// Package regulatory estimates monetary exposure for detected threat
// categories under a given jurisdiction's penalty regime.
//
// Calculation is a pure lookup over a static table keyed by
// (category, jurisdiction). Jurisdictions differ in how applicable
// penalties aggregate: the EU counts only the single highest applicable
// penalty, the US allows penalties to stack.
package regulatory

import "sort"

// Jurisdiction identifies a penalty regime.
type Jurisdiction string

const (
	JurisdictionEU Jurisdiction = "EU"
	JurisdictionUS Jurisdiction = "US"
	JurisdictionUK Jurisdiction = "UK"
)

// Aggregation is a jurisdiction's rule for combining applicable penalties.
type Aggregation string

const (
	// AggregationMax counts only the single highest-exposure penalty.
	AggregationMax Aggregation = "max"
	// AggregationStack sums every applicable penalty.
	AggregationStack Aggregation = "stack"
)

// Penalty is one table entry: the potential exposure for a category under
// one jurisdiction's statute.
type Penalty struct {
	Category     string       `yaml:"category" json:"category"`
	Jurisdiction Jurisdiction `yaml:"jurisdiction" json:"jurisdiction"`
	Statute      string       `yaml:"statute" json:"statute"`
	MinExposure  float64      `yaml:"min_exposure" json:"min_exposure"`
	MaxExposure  float64      `yaml:"max_exposure" json:"max_exposure"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
}

// Impact is the aggregated exposure for one calculation.
type Impact struct {
	Jurisdiction  Jurisdiction `json:"jurisdiction"`
	TotalExposure float64      `json:"total_exposure"`
	Applicable    []Penalty    `json:"applicable_penalties"`
}

// Table holds the penalty entries plus per-jurisdiction aggregation rules.
type Table struct {
	Penalties   []Penalty                    `yaml:"penalties"`
	Aggregation map[Jurisdiction]Aggregation `yaml:"aggregation"`
}

// Calculator answers exposure queries over a Table.
type Calculator struct {
	byPair map[pairKey][]Penalty
	rules  map[Jurisdiction]Aggregation
}

type pairKey struct {
	category     string
	jurisdiction Jurisdiction
}

// NewCalculator indexes the table for lookup.
func NewCalculator(table Table) *Calculator {
	c := &Calculator{
		byPair: make(map[pairKey][]Penalty),
		rules:  make(map[Jurisdiction]Aggregation, len(table.Aggregation)),
	}
	for _, p := range table.Penalties {
		k := pairKey{category: p.Category, jurisdiction: p.Jurisdiction}
		c.byPair[k] = append(c.byPair[k], p)
	}
	for j, a := range table.Aggregation {
		c.rules[j] = a
	}
	return c
}

// Calculate aggregates exposure for the detected categories under one
// jurisdiction. A category with no table entry contributes zero; it is not
// an error. Jurisdictions without an explicit aggregation rule use the
// max-rule, the conservative default for reporting.
func (c *Calculator) Calculate(categories []string, jurisdiction Jurisdiction) Impact {
	impact := Impact{Jurisdiction: jurisdiction}

	seen := make(map[string]bool, len(categories))
	for _, cat := range categories {
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		impact.Applicable = append(impact.Applicable,
			c.byPair[pairKey{category: cat, jurisdiction: jurisdiction}]...)
	}

	sort.SliceStable(impact.Applicable, func(i, j int) bool {
		return impact.Applicable[i].MaxExposure > impact.Applicable[j].MaxExposure
	})

	rule := c.rules[jurisdiction]
	switch rule {
	case AggregationStack:
		for _, p := range impact.Applicable {
			impact.TotalExposure += p.MaxExposure
		}
	default:
		if len(impact.Applicable) > 0 {
			impact.TotalExposure = impact.Applicable[0].MaxExposure
		}
	}

	return impact
}
