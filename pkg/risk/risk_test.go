package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mereon-labs/keel/pkg/classifier"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
)

func mustRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(DefaultWeights())
	require.NoError(t, err)
	return r
}

func effective(t *testing.T, prohibited ...string) *policy.Effective {
	t.Helper()
	eff, err := policy.Merge(
		&policy.Policy{AutonomyMatrix: map[string]float64{policy.EnvProduction: 5.0}, ProhibitedPractices: prohibited},
		&policy.Policy{AutonomyMatrix: map[string]float64{}},
		&policy.Policy{AutonomyMatrix: map[string]float64{}},
	)
	require.NoError(t, err)
	return eff
}

func TestWeightsMustSumToOne(t *testing.T) {
	_, err := NewRouter(Weights{Capability: 0.5, Regulatory: 0.5, Ethical: 0.5})
	assert.Error(t, err)

	_, err = NewRouter(Weights{Capability: 0.2, Regulatory: 0.5, Ethical: 0.3})
	assert.NoError(t, err)
}

func TestBaselineBenignTaskScoresLow(t *testing.T) {
	r := mustRouter(t)
	system := &registry.System{Sector: registry.SectorGeneral, RiskClass: registry.RiskMinimal, LoggingEnabled: true}

	a := r.Assess(Input{System: system, Classification: classifier.Classification{}, Effective: effective(t)})

	assert.False(t, a.Prohibited)
	assert.Less(t, a.Composite, 2.0)
}

func TestProhibitedPracticeForcesTen(t *testing.T) {
	r := mustRouter(t)
	system := &registry.System{Sector: registry.SectorGeneral, RiskClass: registry.RiskMinimal, LoggingEnabled: true}
	cls := classifier.Classification{Primary: classifier.CategoryBias, Sub: "redlining", Confidence: 0.1}

	a := r.Assess(Input{System: system, Classification: cls, Effective: effective(t, "discriminatory-bias")})

	assert.True(t, a.Prohibited)
	assert.Equal(t, "discriminatory-bias", a.ProhibitedPractice)
	assert.Equal(t, 10.0, a.Composite)

	// The weighted formula alone would have scored far lower.
	weighted := 0.3*a.Capability + 0.4*a.Regulatory + 0.3*a.Ethical
	assert.Less(t, weighted, 10.0)
}

func TestProhibitedSubCategoryAlsoForcesTen(t *testing.T) {
	r := mustRouter(t)
	system := &registry.System{Sector: registry.SectorBanking, RiskClass: registry.RiskHigh, LoggingEnabled: true, RegistrationID: "EU-DB-42"}
	cls := classifier.Classification{Primary: classifier.CategoryBias, Sub: "redlining", Confidence: 0.5}

	a := r.Assess(Input{System: system, Classification: cls, Effective: effective(t, "redlining")})
	assert.True(t, a.Prohibited)
	assert.Equal(t, 10.0, a.Composite)
}

func TestMissingLoggingEvidencePenalty(t *testing.T) {
	r := mustRouter(t)
	with := &registry.System{RiskClass: registry.RiskHigh, LoggingEnabled: true}
	without := &registry.System{RiskClass: registry.RiskHigh, LoggingEnabled: false}

	aWith := r.Assess(Input{System: with, Effective: effective(t)})
	aWithout := r.Assess(Input{System: without, Effective: effective(t)})

	assert.Equal(t, aWith.Capability+2.0, aWithout.Capability)
}

func TestUnpinnedDependencyPenalty(t *testing.T) {
	r := mustRouter(t)
	pinned := &registry.System{RiskClass: registry.RiskMinimal, LoggingEnabled: true,
		Dependencies: []registry.Dependency{{Name: "rt", Version: "2.1.0"}}}
	unpinned := &registry.System{RiskClass: registry.RiskMinimal, LoggingEnabled: true,
		Dependencies: []registry.Dependency{{Name: "rt", Version: "latest"}, {Name: "lib", Version: "2.0.0-beta.1"}}}

	aPinned := r.Assess(Input{System: pinned, Effective: effective(t)})
	aUnpinned := r.Assess(Input{System: unpinned, Effective: effective(t)})

	assert.Equal(t, aPinned.Capability+1.0, aUnpinned.Capability)
}

func TestRegulatorySectorBaseAndRegistration(t *testing.T) {
	r := mustRouter(t)
	registered := &registry.System{Sector: registry.SectorBanking, RiskClass: registry.RiskHigh, LoggingEnabled: true, RegistrationID: "EU-DB-42"}
	unregistered := &registry.System{Sector: registry.SectorBanking, RiskClass: registry.RiskHigh, LoggingEnabled: true}

	aReg := r.Assess(Input{System: registered, Effective: effective(t)})
	aUnreg := r.Assess(Input{System: unregistered, Effective: effective(t)})

	assert.Equal(t, 3.0, aReg.Regulatory)
	assert.Equal(t, 5.0, aUnreg.Regulatory)
}

func TestEthicalPenalties(t *testing.T) {
	r := mustRouter(t)
	cls := classifier.Classification{Primary: classifier.CategoryBias, Confidence: 0.5}

	general := r.Assess(Input{
		System:         &registry.System{Sector: registry.SectorGeneral, RiskClass: registry.RiskMinimal, LoggingEnabled: true},
		Classification: cls,
		Effective:      effective(t),
	})
	// bias weight 6 × 0.5 + protected-characteristic penalty 2
	assert.Equal(t, 5.0, general.Ethical)

	education := r.Assess(Input{
		System:         &registry.System{Sector: registry.SectorEducation, RiskClass: registry.RiskMinimal, LoggingEnabled: true},
		Classification: cls,
		Effective:      effective(t),
	})
	// vulnerable-population sector adds a smaller fixed penalty
	assert.Equal(t, 6.0, education.Ethical)
}

func TestSubScoresAndCompositeClamped(t *testing.T) {
	r := mustRouter(t)
	system := &registry.System{
		Sector:          registry.SectorLawEnforcement,
		RiskClass:       registry.RiskUnacceptable,
		TrainingCompute: 1e26,
		Dependencies: []registry.Dependency{
			{Name: "a", Version: "latest"}, {Name: "b", Version: "latest"},
			{Name: "c", Version: "latest"}, {Name: "d", Version: "latest"},
		},
	}
	cls := classifier.Classification{Primary: classifier.CategoryBias, Confidence: 1.0}

	a := r.Assess(Input{System: system, Classification: cls, Effective: effective(t)})

	assert.LessOrEqual(t, a.Capability, 10.0)
	assert.LessOrEqual(t, a.Regulatory, 10.0)
	assert.LessOrEqual(t, a.Ethical, 10.0)
	assert.LessOrEqual(t, a.Composite, 10.0)
}
