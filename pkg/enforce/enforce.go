// Package enforce runs the decision pipeline: kill-switch check, policy
// resolution, classification, risk scoring, decision, audit.
//
// Each evaluation is a straight-line run to completion. The kill-switch
// check comes first, unconditionally. A decision is only final once its
// ledger entry is durably written; on append failure the caller gets an
// error, never an unaudited outcome.
package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mereon-labs/keel/pkg/canonical"
	"github.com/mereon-labs/keel/pkg/classifier"
	"github.com/mereon-labs/keel/pkg/escalation"
	"github.com/mereon-labs/keel/pkg/ledger"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
	"github.com/mereon-labs/keel/pkg/regulatory"
	"github.com/mereon-labs/keel/pkg/risk"
)

// Outcome is the final disposition of an evaluated task.
type Outcome string

const (
	OutcomeApproved  Outcome = "APPROVED"
	OutcomeBlocked   Outcome = "BLOCKED"
	OutcomeEscalated Outcome = "ESCALATED"
)

// DefaultEscalationThreshold applies to environments with no configured
// threshold. Scores at or above it, but below the autonomy limit, go to a
// human.
const DefaultEscalationThreshold = 4.0

// Request is one proposed action under evaluation. TenantID must come from
// the caller's verified identity context, never from the same payload as
// SystemID and TaskText.
type Request struct {
	TenantID     string `json:"tenant_id"`
	SystemID     string `json:"system_id"`
	TaskText     string `json:"task_text"`
	Environment  string `json:"environment"`
	ArtifactType string `json:"artifact_type,omitempty"`
}

// Decision is the immutable result of one evaluation. Exactly one ledger
// entry corresponds to each Decision.
type Decision struct {
	Outcome            Outcome            `json:"outcome"`
	RiskScore          float64            `json:"risk_score"`
	Categories         []string           `json:"detected_categories,omitempty"`
	Confidence         float64            `json:"confidence"`
	Reason             string             `json:"reason"`
	RecommendedActions []string           `json:"recommended_actions,omitempty"`
	PolicyHash         string             `json:"policy_hash,omitempty"`
	TaskHash           string             `json:"task_hash"`
	ReviewID           string             `json:"review_id,omitempty"`
	Exposure           *regulatory.Impact `json:"regulatory_exposure,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Options wires an Engine's collaborators.
type Options struct {
	Registry     registry.Registry
	Classifier   *classifier.Classifier
	Router       *risk.Router
	Ledger       *ledger.Ledger
	Reviews      *escalation.Manager
	Regulatory   *regulatory.Calculator
	GlobalPolicy *policy.Policy

	// Jurisdiction selects the penalty regime for exposure reporting.
	Jurisdiction regulatory.Jurisdiction

	// EscalationThresholds maps environment to the score at which a
	// decision requires human review. Missing environments use
	// DefaultEscalationThreshold. The effective threshold never exceeds
	// the autonomy limit.
	EscalationThresholds map[string]float64

	Logger *slog.Logger
}

// Engine evaluates proposed actions against the active policy. Safe for
// concurrent use; all shared state lives in the registry and the ledger.
type Engine struct {
	registry   registry.Registry
	classifier *classifier.Classifier
	router     *risk.Router
	ledger     *ledger.Ledger
	reviews    *escalation.Manager
	regulatory *regulatory.Calculator
	global     *policy.Policy

	jurisdiction regulatory.Jurisdiction
	thresholds   map[string]float64

	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

// New validates the wiring and returns an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Registry == nil:
		return nil, fmt.Errorf("enforce: registry required")
	case opts.Classifier == nil:
		return nil, fmt.Errorf("enforce: classifier required")
	case opts.Router == nil:
		return nil, fmt.Errorf("enforce: risk router required")
	case opts.Ledger == nil:
		return nil, fmt.Errorf("enforce: ledger required")
	case opts.Reviews == nil:
		return nil, fmt.Errorf("enforce: escalation manager required")
	case opts.GlobalPolicy == nil:
		return nil, fmt.Errorf("enforce: global policy required")
	}

	e := &Engine{
		registry:     opts.Registry,
		classifier:   opts.Classifier,
		router:       opts.Router,
		ledger:       opts.Ledger,
		reviews:      opts.Reviews,
		regulatory:   opts.Regulatory,
		global:       opts.GlobalPolicy,
		jurisdiction: opts.Jurisdiction,
		thresholds:   opts.EscalationThresholds,
		logger:       opts.Logger,
		tracer:       otel.Tracer("keel.enforce"),
		clock:        time.Now,
	}
	if e.regulatory == nil {
		e.regulatory = regulatory.Default()
	}
	if e.jurisdiction == "" {
		e.jurisdiction = regulatory.JurisdictionEU
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "enforce")
	}
	return e, nil
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Evaluate runs the pipeline for one request. Registry, policy and ledger
// failures surface as errors; a task the policy disallows is a BLOCKED
// Decision, not an error.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := e.tracer.Start(ctx, "enforce.Evaluate",
		trace.WithAttributes(
			attribute.String("keel.tenant_id", req.TenantID),
			attribute.String("keel.system_id", req.SystemID),
			attribute.String("keel.environment", req.Environment),
		))
	defer span.End()

	decision, err := e.evaluate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("keel.outcome", string(decision.Outcome)),
		attribute.Float64("keel.risk_score", decision.RiskScore),
	)
	e.logger.InfoContext(ctx, "decision",
		"tenant_id", req.TenantID,
		"system_id", req.SystemID,
		"outcome", decision.Outcome,
		"risk_score", decision.RiskScore,
		"categories", decision.Categories,
		"policy_hash", decision.PolicyHash,
	)
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req Request) (*Decision, error) {
	if req.TenantID == "" || req.SystemID == "" {
		return nil, fmt.Errorf("enforce: tenant and system IDs required")
	}
	if req.Environment == "" {
		req.Environment = policy.EnvProduction
	}

	taskHash, err := canonical.Hash(struct {
		Text         string `json:"text"`
		ArtifactType string `json:"artifact_type,omitempty"`
	}{req.TaskText, req.ArtifactType})
	if err != nil {
		return nil, fmt.Errorf("enforce: hash task: %w", err)
	}

	// Fresh read under the registry's lock; the status is a safety gate
	// and must observe the latest committed write.
	system, err := e.registry.GetSystem(ctx, req.SystemID, req.TenantID)
	if err != nil {
		return nil, err
	}

	if system.OperationalStatus == registry.StatusEmergencyStop {
		return e.finalize(ctx, req, taskHash, &Decision{
			Outcome:            OutcomeBlocked,
			RiskScore:          10.0,
			Confidence:         1.0,
			Reason:             "kill-switch active",
			RecommendedActions: []string{"resolve the emergency-stop condition before resubmitting"},
		})
	}

	tenant, err := e.registry.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	eff, err := policy.Merge(e.global, tenant.Policy, system.Policy)
	if err != nil {
		return nil, err
	}

	limit, ok := eff.MaxRisk(req.Environment)
	if !ok {
		return nil, fmt.Errorf("%w: no autonomy limit for environment %q",
			policy.ErrPolicyUnresolved, req.Environment)
	}

	cls := e.classifier.Classify(req.TaskText, string(system.Sector))
	assessment := e.router.Assess(risk.Input{
		System:         system,
		Classification: cls,
		Effective:      eff,
	})

	decision := &Decision{
		RiskScore:  assessment.Composite,
		Confidence: cls.Confidence,
		PolicyHash: eff.ContentHash,
	}
	if cls.Matched() {
		decision.Categories = []string{string(cls.Primary)}
		impact := e.regulatory.Calculate(decision.Categories, e.jurisdiction)
		decision.Exposure = &impact
	}

	threshold := e.escalationThreshold(req.Environment)
	if threshold > limit {
		threshold = limit
	}

	switch {
	case assessment.Prohibited:
		decision.Outcome = OutcomeBlocked
		decision.Reason = fmt.Sprintf("prohibited practice %q detected", assessment.ProhibitedPractice)
	case assessment.Composite >= limit:
		decision.Outcome = OutcomeBlocked
		decision.Reason = fmt.Sprintf("risk %.1f at or above autonomy limit %.1f for %s",
			assessment.Composite, limit, req.Environment)
	case assessment.Composite >= threshold:
		decision.Outcome = OutcomeEscalated
		decision.Reason = fmt.Sprintf("risk %.1f requires human review (threshold %.1f, limit %.1f)",
			assessment.Composite, threshold, limit)
	default:
		decision.Outcome = OutcomeApproved
		decision.Reason = fmt.Sprintf("risk %.1f within autonomy limit %.1f", assessment.Composite, limit)
	}
	decision.RecommendedActions = recommend(decision.Outcome, system, cls, assessment)

	if _, err := e.finalize(ctx, req, taskHash, decision); err != nil {
		return nil, err
	}

	// The review opens only after the decision is ledgered; a failed append
	// must not leave a pending review for a decision never returned.
	if decision.Outcome == OutcomeEscalated {
		review, err := e.reviews.Create(ctx, req.TenantID, req.SystemID, taskHash,
			assessment.Composite, fmt.Sprintf("risk %.1f above review threshold %.1f", assessment.Composite, threshold))
		if err != nil {
			return nil, fmt.Errorf("enforce: create review: %w", err)
		}
		decision.ReviewID = review.ID
	}

	return decision, nil
}

// finalize stamps the decision, appends its ledger entry and only then
// hands it back. A decision whose entry cannot be written is not final.
func (e *Engine) finalize(ctx context.Context, req Request, taskHash string, decision *Decision) (*Decision, error) {
	decision.TaskHash = taskHash
	decision.Timestamp = e.clock().UTC()

	_, err := e.ledger.Append(ctx, ledger.Entry{
		Timestamp:  decision.Timestamp,
		TenantID:   req.TenantID,
		SystemID:   req.SystemID,
		TaskHash:   taskHash,
		Outcome:    string(decision.Outcome),
		RiskScore:  decision.RiskScore,
		Categories: decision.Categories,
		Confidence: decision.Confidence,
		PolicyHash: decision.PolicyHash,
	})
	if err != nil {
		return nil, err
	}

	return decision, nil
}

func (e *Engine) escalationThreshold(environment string) float64 {
	if t, ok := e.thresholds[environment]; ok {
		return t
	}
	return DefaultEscalationThreshold
}

func recommend(outcome Outcome, system *registry.System, cls classifier.Classification, a risk.Assessment) []string {
	var actions []string

	switch outcome {
	case OutcomeBlocked:
		if a.Prohibited {
			actions = append(actions, "remove the prohibited practice from the task before resubmitting")
		} else {
			actions = append(actions, "reduce task scope or request a policy review")
		}
	case OutcomeEscalated:
		actions = append(actions, "await operator review; the task must not proceed until approved")
	}

	if !system.LoggingEnabled && (system.RiskClass == registry.RiskHigh || system.RiskClass == registry.RiskUnacceptable) {
		actions = append(actions, "enable decision logging for this high-risk system")
	}
	if system.RegistrationID == "" && system.RiskClass == registry.RiskHigh {
		actions = append(actions, "obtain the jurisdiction-required registration identifier")
	}
	if cls.Primary == classifier.CategoryBias {
		actions = append(actions, "run a protected-characteristic impact review on the underlying data")
	}

	return actions
}
