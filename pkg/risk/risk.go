// Package risk computes a composite 0–10 risk score from three independent
// weighted sub-assessments: capability/technical, regulatory, and ethical.
//
// The sub-assessments are pure functions over the system record, the threat
// classification and the effective policy; they share no state and may run
// in any order. The weighting is configuration, not a derived constant: the
// default 40% on regulatory reflects that regulatory violations carry the
// largest penalty exposure.
package risk

import (
	"fmt"
	"math"

	"github.com/Masterminds/semver/v3"

	"github.com/mereon-labs/keel/pkg/classifier"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
)

// Weights are the composite blend factors. They must sum to 1.
type Weights struct {
	Capability float64 `yaml:"capability" json:"capability"`
	Regulatory float64 `yaml:"regulatory" json:"regulatory"`
	Ethical    float64 `yaml:"ethical" json:"ethical"`
}

// DefaultWeights returns the calibrated default blend.
func DefaultWeights() Weights {
	return Weights{Capability: 0.3, Regulatory: 0.4, Ethical: 0.3}
}

// Validate checks the weights form a convex combination.
func (w Weights) Validate() error {
	sum := w.Capability + w.Regulatory + w.Ethical
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk: weights must sum to 1, got %.4f", sum)
	}
	if w.Capability < 0 || w.Regulatory < 0 || w.Ethical < 0 {
		return fmt.Errorf("risk: weights must be non-negative")
	}
	return nil
}

// Input carries everything a single assessment needs.
type Input struct {
	System         *registry.System
	Classification classifier.Classification
	Effective      *policy.Effective
}

// Assessment is the scored result. All scores are clamped to [0,10].
type Assessment struct {
	Capability float64 `json:"capability"`
	Regulatory float64 `json:"regulatory"`
	Ethical    float64 `json:"ethical"`
	Composite  float64 `json:"composite"`

	// Prohibited marks that the primary category is a categorically
	// disallowed practice; the composite is forced to 10 regardless of the
	// weighted formula.
	Prohibited         bool   `json:"prohibited"`
	ProhibitedPractice string `json:"prohibited_practice,omitempty"`
}

// Router dispatches the three sub-assessments and blends the composite.
type Router struct {
	weights Weights
}

// NewRouter creates a Router with validated weights.
func NewRouter(w Weights) (*Router, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Router{weights: w}, nil
}

// Assess computes the composite risk assessment for one request.
func (r *Router) Assess(in Input) Assessment {
	a := Assessment{
		Capability: capabilityScore(in.System),
		Regulatory: regulatoryScore(in.System, in.Classification, in.Effective),
		Ethical:    ethicalScore(in.System, in.Classification),
	}

	a.Composite = clamp(r.weights.Capability*a.Capability +
		r.weights.Regulatory*a.Regulatory +
		r.weights.Ethical*a.Ethical)

	if practice, ok := prohibitedPractice(in.Classification, in.Effective); ok {
		// Prohibited practices are not "very risky"; they are disallowed.
		a.Prohibited = true
		a.ProhibitedPractice = practice
		a.Composite = 10.0
	}

	return a
}

// capabilityScore reflects declared system capability and the evidence
// backing it.
func capabilityScore(system *registry.System) float64 {
	if system == nil {
		return 0
	}

	score := riskClassBase(system.RiskClass)

	// A high-risk system with no logging declared is missing required
	// evidence.
	if !system.LoggingEnabled && (system.RiskClass == registry.RiskHigh || system.RiskClass == registry.RiskUnacceptable) {
		score += 2.0
	}

	// Scale proxy from declared training compute.
	switch {
	case system.TrainingCompute >= 1e25:
		score += 1.5
	case system.TrainingCompute >= 1e23:
		score += 0.5
	}

	score += dependencyPenalty(system.Dependencies)

	return clamp(score)
}

func riskClassBase(class registry.RiskClass) float64 {
	switch class {
	case registry.RiskUnacceptable:
		return 10.0
	case registry.RiskHigh:
		return 6.0
	case registry.RiskLimited:
		return 3.0
	case registry.RiskMinimal:
		return 1.0
	default:
		// Undeclared classification is treated as limited, not minimal.
		return 3.0
	}
}

// dependencyPenalty adds a small penalty for each declared dependency whose
// version is not an exact pinned release, capped at 1.5.
func dependencyPenalty(deps []registry.Dependency) float64 {
	var penalty float64
	for _, dep := range deps {
		v, err := semver.NewVersion(dep.Version)
		if err != nil || v.Prerelease() != "" {
			penalty += 0.5
		}
	}
	if penalty > 1.5 {
		penalty = 1.5
	}
	return penalty
}

// regulatoryScore reflects sector exposure and registration evidence.
func regulatoryScore(system *registry.System, cls classifier.Classification, eff *policy.Effective) float64 {
	if system == nil {
		return 0
	}

	score := sectorBase(system.Sector)

	// Jurisdiction-required registration identifier for high-risk systems.
	if system.RegistrationID == "" && (system.RiskClass == registry.RiskHigh || system.RiskClass == registry.RiskUnacceptable) {
		score += 2.0
	}

	if _, ok := prohibitedPractice(cls, eff); ok {
		score += 4.0
	}

	return clamp(score)
}

func sectorBase(sector registry.Sector) float64 {
	switch sector {
	case registry.SectorLawEnforcement:
		return 4.0
	case registry.SectorBanking, registry.SectorHealthcare:
		return 3.0
	case registry.SectorInsurance, registry.SectorEmployment:
		return 2.5
	case registry.SectorEducation, registry.SectorTransport:
		return 2.0
	default:
		return 0.5
	}
}

// ethicalScore reflects the classification weighted by confidence plus
// fixed penalties for protected-characteristic signals and
// vulnerable-population sectors.
func ethicalScore(system *registry.System, cls classifier.Classification) float64 {
	score := categoryWeight(cls.Primary) * cls.Confidence

	if cls.Primary == classifier.CategoryBias {
		score += 2.0
	}
	if system != nil && isVulnerableSector(system.Sector) {
		score += 1.0
	}

	return clamp(score)
}

func categoryWeight(category classifier.Category) float64 {
	switch category {
	case classifier.CategoryBias:
		return 6.0
	case classifier.CategoryPrivacyViolation:
		return 5.0
	case classifier.CategoryDataExfiltration:
		return 4.5
	case classifier.CategoryMisuse:
		return 4.0
	case classifier.CategoryUnreliableOutput:
		return 3.0
	default:
		return 0
	}
}

func isVulnerableSector(sector registry.Sector) bool {
	return sector == registry.SectorEducation || sector == registry.SectorHealthcare
}

// prohibitedPractice reports whether the classification names a practice
// the effective policy prohibits.
func prohibitedPractice(cls classifier.Classification, eff *policy.Effective) (string, bool) {
	if eff == nil || !cls.Matched() {
		return "", false
	}
	if eff.IsProhibited(string(cls.Primary)) {
		return string(cls.Primary), true
	}
	if cls.Sub != "" && eff.IsProhibited(cls.Sub) {
		return cls.Sub, true
	}
	return "", false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
