package classifier

import (
	"fmt"
	"sort"
)

// Classification is the outcome of classifying one task text. A zero-match
// result has an empty Primary and zero Confidence; it is not an error.
type Classification struct {
	Primary        Category `json:"primary,omitempty"`
	Sub            string   `json:"sub,omitempty"`
	MatchedSignals []string `json:"matched_signals,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Matched reports whether any category matched.
func (c Classification) Matched() bool {
	return c.Primary != ""
}

// Classifier scores task text against a compiled taxonomy. It is immutable
// after construction and safe for concurrent use.
type Classifier struct {
	categories []compiledCategory
	safe       []compiledSafe
}

// New compiles a taxonomy into a Classifier.
func New(tax *Taxonomy) (*Classifier, error) {
	if tax == nil || len(tax.Categories) == 0 {
		return nil, fmt.Errorf("classifier: taxonomy has no categories")
	}

	c := &Classifier{}
	for _, spec := range tax.Categories {
		signals, err := compileSignals(spec.Signals)
		if err != nil {
			return nil, err
		}
		cat := compiledCategory{spec: spec, signals: signals}

		prevalence := spec.Prevalence
		if prevalence == 0 {
			prevalence = 1.0
		}
		cat.spec.Prevalence = prevalence
		for _, s := range signals {
			cat.maxScore += s.weight * prevalence
		}

		for _, sub := range spec.SubCategories {
			subSignals, err := compileSignals(sub.Signals)
			if err != nil {
				return nil, err
			}
			cat.subs = append(cat.subs, compiledSub{name: sub.Name, signals: subSignals})
		}
		c.categories = append(c.categories, cat)
	}

	for _, sp := range tax.SafePatterns {
		signals, err := compileSignals([]Signal{{Pattern: sp.Pattern}})
		if err != nil {
			return nil, err
		}
		suppresses := make(map[Category]bool, len(sp.Suppresses))
		for _, cat := range sp.Suppresses {
			suppresses[cat] = true
		}
		c.safe = append(c.safe, compiledSafe{sector: sp.Sector, re: signals[0].re, suppresses: suppresses})
	}

	return c, nil
}

type categoryScore struct {
	category *compiledCategory
	adjusted float64
	matched  []string
}

// Classify scores the task text for the given sector. Overlapping matches
// resolve by highest adjusted score; exact ties break by the taxonomy's
// declared priority order, so results are reproducible regardless of
// pattern declaration order.
func (c *Classifier) Classify(text, sector string) Classification {
	suppressed := c.suppressedCategories(text, sector)

	scores := make([]categoryScore, 0, len(c.categories))
	for i := range c.categories {
		cat := &c.categories[i]
		if suppressed[cat.spec.Name] {
			continue
		}

		var raw float64
		var matched []string
		for _, sig := range cat.signals {
			if sig.re.MatchString(text) {
				raw += sig.weight
				matched = append(matched, sig.raw.Pattern)
			}
		}
		if raw == 0 {
			continue
		}
		scores = append(scores, categoryScore{
			category: cat,
			adjusted: raw * cat.spec.Prevalence,
			matched:  matched,
		})
	}

	if len(scores) == 0 {
		return Classification{}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].adjusted != scores[j].adjusted {
			return scores[i].adjusted > scores[j].adjusted
		}
		return scores[i].category.spec.Priority < scores[j].category.spec.Priority
	})

	winner := scores[0]
	var runnerUp float64
	if len(scores) > 1 {
		runnerUp = scores[1].adjusted
	}

	confidence := 0.0
	if winner.category.maxScore > 0 {
		confidence = (winner.adjusted - runnerUp) / winner.category.maxScore
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Classification{
		Primary:        winner.category.spec.Name,
		Sub:            c.refineSub(winner.category, text),
		MatchedSignals: winner.matched,
		Confidence:     confidence,
	}
}

// suppressedCategories applies the sector safe-pattern whitelist. Safe
// patterns have higher precedence than category signals.
func (c *Classifier) suppressedCategories(text, sector string) map[Category]bool {
	suppressed := make(map[Category]bool)
	for _, sp := range c.safe {
		if sp.sector != sector {
			continue
		}
		if sp.re.MatchString(text) {
			for cat := range sp.suppresses {
				suppressed[cat] = true
			}
		}
	}
	return suppressed
}

// refineSub applies the winning category's narrower pattern sets. Ties
// break by declaration order.
func (c *Classifier) refineSub(cat *compiledCategory, text string) string {
	best := ""
	bestScore := 0.0
	for _, sub := range cat.subs {
		var score float64
		for _, sig := range sub.signals {
			if sig.re.MatchString(text) {
				score += sig.weight
			}
		}
		if score > bestScore {
			best = sub.name
			bestScore = score
		}
	}
	return best
}
