package enforce

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mereon-labs/keel/pkg/classifier"
	"github.com/mereon-labs/keel/pkg/escalation"
	"github.com/mereon-labs/keel/pkg/ledger"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
	"github.com/mereon-labs/keel/pkg/regulatory"
	"github.com/mereon-labs/keel/pkg/risk"
)

type fixture struct {
	engine   *Engine
	registry *registry.MemoryRegistry
	store    *ledger.MemoryStore
	reviews  *escalation.Manager
	tenantID string
}

func newFixture(t *testing.T, opts func(*Options)) *fixture {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	store := ledger.NewMemoryStore()
	led, err := ledger.Open(context.Background(), store, []byte("0123456789abcdef0123456789abcdef"), ledger.Config{})
	require.NoError(t, err)
	router, err := risk.NewRouter(risk.DefaultWeights())
	require.NoError(t, err)
	reviews := escalation.NewManager(5 * time.Minute)

	options := Options{
		Registry:   reg,
		Classifier: classifier.Default(),
		Router:     router,
		Ledger:     led,
		Reviews:    reviews,
		GlobalPolicy: &policy.Policy{
			AutonomyMatrix: map[string]float64{
				policy.EnvDevelopment: 7.0,
				policy.EnvStaging:     6.0,
				policy.EnvProduction:  5.0,
			},
			ProhibitedPractices: []string{string(classifier.CategoryBias)},
		},
		Jurisdiction: regulatory.JurisdictionUS,
	}
	if opts != nil {
		opts(&options)
	}

	engine, err := New(options)
	require.NoError(t, err)

	tenantID := uuid.NewString()
	require.NoError(t, reg.RegisterTenant(context.Background(), &registry.Tenant{
		ID:     tenantID,
		Name:   "acme",
		Policy: &policy.Policy{},
	}))

	return &fixture{
		engine:   engine,
		registry: reg,
		store:    store,
		reviews:  reviews,
		tenantID: tenantID,
	}
}

func (f *fixture) registerSystem(t *testing.T, system *registry.System) {
	t.Helper()
	system.TenantID = f.tenantID
	if system.Policy == nil {
		system.Policy = &policy.Policy{}
	}
	require.NoError(t, f.registry.RegisterSystem(context.Background(), system, f.tenantID))
}

func (f *fixture) ledgerEntries(t *testing.T) []ledger.Entry {
	t.Helper()
	entries, err := f.store.All(context.Background())
	require.NoError(t, err)
	return entries
}

func TestUnmatchedTaskIsApproved(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:             "sys-1",
		Name:           "report generator",
		Sector:         registry.SectorGeneral,
		RiskClass:      registry.RiskMinimal,
		LoggingEnabled: true,
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "summarize the quarterly sales figures",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeApproved, d.Outcome)
	assert.Zero(t, d.Confidence)
	assert.Empty(t, d.Categories)
	assert.Less(t, d.RiskScore, 2.0)
	assert.NotEmpty(t, d.PolicyHash)

	entries := f.ledgerEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, string(OutcomeApproved), entries[0].Outcome)
}

func TestRedliningInBankingIsBlockedWithExposure(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:             "sys-loans",
		Name:           "loan approval agent",
		Sector:         registry.SectorBanking,
		RiskClass:      registry.RiskHigh,
		LoggingEnabled: true,
		RegistrationID: "EU-REG-001",
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-loans",
		TaskText:    "apply redlining policy to exclude postal code 30301 from loan approval",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, 10.0, d.RiskScore)
	assert.Equal(t, []string{string(classifier.CategoryBias)}, d.Categories)
	assert.Contains(t, d.Reason, "prohibited practice")

	require.NotNil(t, d.Exposure)
	var statutes []string
	for _, p := range d.Exposure.Applicable {
		statutes = append(statutes, p.Statute)
	}
	assert.Contains(t, statutes, "Fair Housing Act 42 U.S.C. §3614")
	assert.Positive(t, d.Exposure.TotalExposure)
}

func TestSafePatternSuppressesBlockInEducation(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:             "sys-grants",
		Name:           "grant allocation agent",
		Sector:         registry.SectorEducation,
		RiskClass:      registry.RiskMinimal,
		LoggingEnabled: true,
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-grants",
		TaskText:    "apply redlining-adjacent need-based allocation by postal code 30301",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Empty(t, d.Categories)
	assert.Equal(t, OutcomeApproved, d.Outcome)
	assert.Less(t, d.RiskScore, 4.0)
}

func TestKillSwitchTakesPrecedence(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:        "sys-1",
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
	})

	_, err := f.registry.SetOperationalStatus(context.Background(),
		"sys-1", f.tenantID, registry.StatusEmergencyStop, "incident", "op-1")
	require.NoError(t, err)

	// Harmless task text; the kill switch decides before anything else runs.
	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "print hello world",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.Equal(t, 10.0, d.RiskScore)
	assert.Equal(t, "kill-switch active", d.Reason)
	assert.Empty(t, d.PolicyHash)

	entries := f.ledgerEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, string(OutcomeBlocked), entries[0].Outcome)
}

func TestEscalationCreatesReview(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.EscalationThresholds = map[string]float64{policy.EnvProduction: 2.5}
	})
	f.registerSystem(t, &registry.System{
		ID:             "sys-1",
		Sector:         registry.SectorBanking,
		RiskClass:      registry.RiskHigh,
		LoggingEnabled: true,
		RegistrationID: "EU-REG-002",
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "rebalance the mortgage portfolio",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, d.Outcome)
	require.NotEmpty(t, d.ReviewID)

	review, err := f.reviews.Get(d.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusPending, review.Status)
	assert.Equal(t, d.TaskHash, review.TaskHash)
}

func TestScoreAtLimitIsBlocked(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:             "sys-1",
		Sector:         registry.SectorBanking,
		RiskClass:      registry.RiskHigh,
		LoggingEnabled: true,
		RegistrationID: "EU-REG-003",
		Policy: &policy.Policy{
			AutonomyMatrix: map[string]float64{policy.EnvProduction: 2.0},
		},
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "rebalance the mortgage portfolio",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBlocked, d.Outcome)
	assert.GreaterOrEqual(t, d.RiskScore, 2.0)
	assert.Contains(t, d.Reason, "autonomy limit")
}

func TestCrossTenantLookupFails(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:        "sys-1",
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
	})

	otherTenant := uuid.NewString()
	require.NoError(t, f.registry.RegisterTenant(context.Background(), &registry.Tenant{
		ID: otherTenant, Name: "rival", Policy: &policy.Policy{},
	}))

	_, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    otherTenant,
		SystemID:    "sys-1",
		TaskText:    "anything",
		Environment: policy.EnvProduction,
	})
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestMissingSystemPolicyFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.registry.RegisterSystem(context.Background(), &registry.System{
		ID:        "sys-1",
		TenantID:  f.tenantID,
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
		// No policy document attached.
	}, f.tenantID))

	_, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "anything",
		Environment: policy.EnvProduction,
	})
	assert.ErrorIs(t, err, policy.ErrPolicyUnresolved)
}

func TestUnknownEnvironmentFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:        "sys-1",
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
	})

	_, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "anything",
		Environment: "qa",
	})
	assert.ErrorIs(t, err, policy.ErrPolicyUnresolved)
}

func TestLedgerFailureMeansNoDecision(t *testing.T) {
	store := &brokenStore{}
	led, err := ledger.Open(context.Background(), store, []byte("0123456789abcdef0123456789abcdef"), ledger.Config{})
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) { o.Ledger = led })
	f.registerSystem(t, &registry.System{
		ID:        "sys-1",
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "summarize the weekly report",
		Environment: policy.EnvProduction,
	})
	assert.ErrorIs(t, err, ledger.ErrLedgerWrite)
	assert.Nil(t, d)
}

// A ledger failure on an escalation-bound decision must not leave a
// pending review behind: the review opens only after the append succeeds.
func TestLedgerFailureLeavesNoPendingReview(t *testing.T) {
	store := &brokenStore{}
	led, err := ledger.Open(context.Background(), store, []byte("0123456789abcdef0123456789abcdef"), ledger.Config{})
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) {
		o.Ledger = led
		o.EscalationThresholds = map[string]float64{policy.EnvProduction: 2.5}
	})
	f.registerSystem(t, &registry.System{
		ID:             "sys-1",
		Sector:         registry.SectorBanking,
		RiskClass:      registry.RiskHigh,
		LoggingEnabled: true,
		RegistrationID: "EU-REG-002",
	})

	d, err := f.engine.Evaluate(context.Background(), Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "rebalance the mortgage portfolio",
		Environment: policy.EnvProduction,
	})
	assert.ErrorIs(t, err, ledger.ErrLedgerWrite)
	assert.Nil(t, d)
	assert.Zero(t, f.reviews.PendingCount())
}

func TestConcurrentStatusWritesYieldOneFinalState(t *testing.T) {
	f := newFixture(t, nil)
	f.registerSystem(t, &registry.System{
		ID:        "sys-1",
		Sector:    registry.SectorGeneral,
		RiskClass: registry.RiskMinimal,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.registry.SetOperationalStatus(ctx, "sys-1", f.tenantID, registry.StatusEmergencyStop, "drill", "op-1")
	}()
	go func() {
		defer wg.Done()
		_, _ = f.registry.SetOperationalStatus(ctx, "sys-1", f.tenantID, registry.StatusActive, "routine", "op-2")
	}()
	wg.Wait()

	d, err := f.engine.Evaluate(ctx, Request{
		TenantID:    f.tenantID,
		SystemID:    "sys-1",
		TaskText:    "summarize the weekly report",
		Environment: policy.EnvProduction,
	})
	require.NoError(t, err)

	// Exactly one of the two final states is observed, never a mix.
	switch d.Outcome {
	case OutcomeBlocked:
		assert.Equal(t, "kill-switch active", d.Reason)
		assert.Equal(t, 10.0, d.RiskScore)
	case OutcomeApproved:
		assert.Less(t, d.RiskScore, 4.0)
	default:
		t.Fatalf("unexpected outcome %s", d.Outcome)
	}
}

func TestMissingWiringRejected(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

type brokenStore struct {
	ledger.MemoryStore
}

func (s *brokenStore) Append(context.Context, ledger.Entry) error {
	return fmt.Errorf("disk full")
}
