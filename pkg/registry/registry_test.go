package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mereon-labs/keel/pkg/policy"
)

func newTenant(t *testing.T) *Tenant {
	t.Helper()
	return &Tenant{
		ID:     uuid.New().String(),
		Name:   "acme",
		Policy: &policy.Policy{AutonomyMatrix: map[string]float64{policy.EnvProduction: 5.0}},
	}
}

func TestRegisterTenantDuplicate(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	assert.ErrorIs(t, r.RegisterTenant(ctx, tenant), ErrDuplicateTenant)
}

func TestRegisterTenantInvalidID(t *testing.T) {
	r := NewMemoryRegistry()
	err := r.RegisterTenant(context.Background(), &Tenant{ID: "not-a-uuid"})
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestTenantIsolation(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	t1 := newTenant(t)
	t2 := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, t1))
	require.NoError(t, r.RegisterTenant(ctx, t2))

	system := &System{ID: "loan-scorer", TenantID: t1.ID, Sector: SectorBanking, RiskClass: RiskHigh}
	require.NoError(t, r.RegisterSystem(ctx, system, t1.ID))

	// Owner sees it.
	got, err := r.GetSystem(ctx, "loan-scorer", t1.ID)
	require.NoError(t, err)
	assert.Equal(t, t1.ID, got.TenantID)

	// Another tenant gets NotFound, never the data and never "forbidden".
	_, err = r.GetSystem(ctx, "loan-scorer", t2.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterSystemTenantMismatch(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))

	forged := &System{ID: "sys", TenantID: uuid.New().String()}
	err := r.RegisterSystem(ctx, forged, tenant.ID)
	assert.ErrorIs(t, err, ErrTenantMismatch)
}

func TestSetOperationalStatusReturnsPrevious(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	require.NoError(t, r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID))

	change, err := r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusEmergencyStop, "incident", "op-7")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, change.PreviousStatus)
	assert.Equal(t, StatusEmergencyStop, change.NewStatus)

	got, err := r.GetSystem(ctx, "sys", tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEmergencyStop, got.OperationalStatus)
}

func TestEmergencyStopIsOneWayGate(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	require.NoError(t, r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID))

	_, err := r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusEmergencyStop, "incident", "")
	require.NoError(t, err)

	// Leaving emergency-stop without an operator is rejected.
	_, err = r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusActive, "resume", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// So is leaving to anything but active.
	_, err = r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusMaintenance, "resume", "op-7")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Explicit human-authorized return to active succeeds.
	change, err := r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusActive, "resolved", "op-7")
	require.NoError(t, err)
	assert.Equal(t, StatusEmergencyStop, change.PreviousStatus)
}

func TestReRegisterCannotClearEmergencyStop(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	require.NoError(t, r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID))

	_, err := r.SetOperationalStatus(ctx, "sys", tenant.ID, StatusEmergencyStop, "incident", "")
	require.NoError(t, err)

	// Registering the same ID again must not replace the stopped record.
	err = r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID)
	assert.ErrorIs(t, err, ErrDuplicateSystem)

	got, err := r.GetSystem(ctx, "sys", tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEmergencyStop, got.OperationalStatus)
}

func TestStatusChangeForUnknownSystem(t *testing.T) {
	r := NewMemoryRegistry()
	_, err := r.SetOperationalStatus(context.Background(), "ghost", uuid.New().String(), StatusSuspended, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Concurrent administrative writes must settle on exactly one final state
// with no lost update.
func TestConcurrentStatusWrites(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	require.NoError(t, r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		status := StatusEmergencyStop
		if i == 1 {
			status = StatusDegraded
		}
		wg.Add(1)
		go func(s OperationalStatus) {
			defer wg.Done()
			// One ordering of the two writes is rejected by the
			// emergency-stop gate; that is still a settled outcome.
			_, _ = r.SetOperationalStatus(ctx, "sys", tenant.ID, s, "race", "op-1")
		}(status)
	}
	wg.Wait()

	got, err := r.GetSystem(ctx, "sys", tenant.ID)
	require.NoError(t, err)
	assert.Contains(t, []OperationalStatus{StatusEmergencyStop, StatusDegraded}, got.OperationalStatus)
}

func TestGetSystemCopyIsDetached(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	tenant := newTenant(t)
	require.NoError(t, r.RegisterTenant(ctx, tenant))
	require.NoError(t, r.RegisterSystem(ctx, &System{ID: "sys", TenantID: tenant.ID}, tenant.ID))

	got, err := r.GetSystem(ctx, "sys", tenant.ID)
	require.NoError(t, err)
	got.OperationalStatus = StatusSuspended

	fresh, err := r.GetSystem(ctx, "sys", tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, fresh.OperationalStatus)
}
