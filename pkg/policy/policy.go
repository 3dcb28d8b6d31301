// Package policy defines layered autonomy policies and the conservative
// merge that produces the effective policy for an evaluation.
//
// Three layers exist in strict precedence: global < tenant < system. A layer
// may tighten what a broader layer permits but can never loosen it: autonomy
// thresholds merge by pointwise minimum and prohibited-practice sets merge
// by union. Restriction only ever grows.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mereon-labs/keel/pkg/canonical"
)

// Environments recognized in autonomy matrices.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// ErrPolicyUnresolved is returned when a required policy layer is missing.
// Missing policy fails closed: it is never treated as "no restriction".
var ErrPolicyUnresolved = errors.New("policy: required policy layer missing")

// Policy is an immutable policy document. Updating a policy replaces the
// whole document; there is no partial mutation.
type Policy struct {
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// AutonomyMatrix maps an environment to the maximum permitted risk
	// score (0–10) for autonomous actions in that environment. A key absent
	// from a more specific layer inherits from the broader layer.
	AutonomyMatrix map[string]float64 `json:"autonomy_matrix" yaml:"autonomy_matrix"`

	// ProhibitedPractices lists practice identifiers that are categorically
	// disallowed regardless of score.
	ProhibitedPractices []string `json:"prohibited_practices,omitempty" yaml:"prohibited_practices,omitempty"`
}

// Effective is the result of merging the global, tenant and system layers.
// Its content hash identifies exactly which policy produced a decision,
// enabling audit replay.
type Effective struct {
	AutonomyMatrix      map[string]float64 `json:"autonomy_matrix"`
	ProhibitedPractices []string           `json:"prohibited_practices"`
	ContentHash         string             `json:"content_hash"`
}

// Merge combines the three policy layers into one effective policy. It is
// pure and order-independent: thresholds take the pointwise minimum over
// whichever layers define each environment, and prohibited sets are
// unioned. All three layers are required; a nil layer fails closed with
// ErrPolicyUnresolved.
func Merge(global, tenant, system *Policy) (*Effective, error) {
	layers := []*Policy{global, tenant, system}
	for _, layer := range layers {
		if layer == nil {
			return nil, ErrPolicyUnresolved
		}
	}

	matrix := make(map[string]float64)
	for _, layer := range layers {
		for env, limit := range layer.AutonomyMatrix {
			current, ok := matrix[env]
			if !ok || limit < current {
				matrix[env] = limit
			}
		}
	}

	prohibited := make(map[string]bool)
	for _, layer := range layers {
		for _, practice := range layer.ProhibitedPractices {
			prohibited[practice] = true
		}
	}
	practices := make([]string, 0, len(prohibited))
	for practice := range prohibited {
		practices = append(practices, practice)
	}
	sort.Strings(practices)

	eff := &Effective{
		AutonomyMatrix:      matrix,
		ProhibitedPractices: practices,
	}

	hash, err := canonical.Hash(struct {
		AutonomyMatrix      map[string]float64 `json:"autonomy_matrix"`
		ProhibitedPractices []string           `json:"prohibited_practices"`
	}{matrix, practices})
	if err != nil {
		return nil, fmt.Errorf("policy: hash effective policy: %w", err)
	}
	eff.ContentHash = hash

	return eff, nil
}

// MaxRisk returns the merged maximum permitted risk for the environment.
// The second return is false when no layer defines the environment.
func (e *Effective) MaxRisk(environment string) (float64, bool) {
	limit, ok := e.AutonomyMatrix[environment]
	return limit, ok
}

// IsProhibited reports whether the practice identifier is in the merged
// prohibited set.
func (e *Effective) IsProhibited(practice string) bool {
	for _, p := range e.ProhibitedPractices {
		if p == practice {
			return true
		}
	}
	return false
}
