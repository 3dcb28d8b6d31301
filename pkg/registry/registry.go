package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the tenant-scoped store of tenants and systems. All failures
// are reported synchronously as typed errors; retry policy belongs to the
// caller.
type Registry interface {
	// RegisterTenant persists a new tenant. The tenant ID must be a
	// well-formed UUID; an existing ID yields ErrDuplicateTenant.
	RegisterTenant(ctx context.Context, tenant *Tenant) error

	// GetTenant returns a tenant by ID or ErrNotFound.
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)

	// RegisterSystem persists a new system. requestingTenantID comes from
	// the caller's verified identity context, never from the payload; a
	// payload declaring a different tenant yields ErrTenantMismatch. An ID
	// already registered under the tenant yields ErrDuplicateSystem; the
	// existing record is left untouched.
	RegisterSystem(ctx context.Context, system *System, requestingTenantID string) error

	// GetSystem returns the system only if it is owned by
	// requestingTenantID. Cross-tenant lookups yield ErrNotFound.
	GetSystem(ctx context.Context, systemID, requestingTenantID string) (*System, error)

	// SetOperationalStatus validates ownership, persists the new status and
	// returns the change record including the previous status. Any status
	// may transition to emergency-stop; leaving emergency-stop requires a
	// non-empty operator ID.
	SetOperationalStatus(ctx context.Context, systemID, tenantID string, status OperationalStatus, reason, operatorID string) (*StatusChange, error)
}

// ValidateTenantID reports whether id is a well-formed random identifier.
func ValidateTenantID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidTenantID
	}
	return nil
}

// validateTransition enforces the one-way emergency-stop gate. Transitions
// into emergency-stop are always permitted; transitions out require an
// explicit human operator and may only return to active.
func validateTransition(from, to OperationalStatus, operatorID string) error {
	if to == StatusEmergencyStop {
		return nil
	}
	if from == StatusEmergencyStop {
		if to != StatusActive || operatorID == "" {
			return ErrInvalidTransition
		}
	}
	return nil
}

// MemoryRegistry is an in-memory Registry for tests and single-process
// deployments. Systems are keyed by (tenant ID, system ID).
type MemoryRegistry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	systems map[string]map[string]*System // tenantID → systemID → system
	clock   func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tenants: make(map[string]*Tenant),
		systems: make(map[string]map[string]*System),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (r *MemoryRegistry) WithClock(clock func() time.Time) *MemoryRegistry {
	r.clock = clock
	return r
}

// RegisterTenant implements Registry.
func (r *MemoryRegistry) RegisterTenant(_ context.Context, tenant *Tenant) error {
	if err := ValidateTenantID(tenant.ID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tenants[tenant.ID]; exists {
		return ErrDuplicateTenant
	}

	stored := *tenant
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.clock().UTC()
	}
	r.tenants[tenant.ID] = &stored
	return nil
}

// GetTenant implements Registry.
func (r *MemoryRegistry) GetTenant(_ context.Context, tenantID string) (*Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *tenant
	return &out, nil
}

// RegisterSystem implements Registry.
func (r *MemoryRegistry) RegisterSystem(_ context.Context, system *System, requestingTenantID string) error {
	if system.TenantID != requestingTenantID {
		return ErrTenantMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[requestingTenantID]; !ok {
		return ErrNotFound
	}
	if _, ok := r.systems[requestingTenantID][system.ID]; ok {
		return ErrDuplicateSystem
	}

	stored := *system
	if stored.OperationalStatus == "" {
		stored.OperationalStatus = StatusActive
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.clock().UTC()
	}
	if r.systems[requestingTenantID] == nil {
		r.systems[requestingTenantID] = make(map[string]*System)
	}
	r.systems[requestingTenantID][system.ID] = &stored
	return nil
}

// GetSystem implements Registry.
func (r *MemoryRegistry) GetSystem(_ context.Context, systemID, requestingTenantID string) (*System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	system, ok := r.systems[requestingTenantID][systemID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *system
	return &out, nil
}

// SetOperationalStatus implements Registry. The previous status is read and
// the new status written under one lock, so concurrent administrative calls
// serialize without lost updates or torn reads.
func (r *MemoryRegistry) SetOperationalStatus(_ context.Context, systemID, tenantID string, status OperationalStatus, reason, operatorID string) (*StatusChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	system, ok := r.systems[tenantID][systemID]
	if !ok {
		return nil, ErrNotFound
	}

	if err := validateTransition(system.OperationalStatus, status, operatorID); err != nil {
		return nil, err
	}

	change := &StatusChange{
		SystemID:       systemID,
		TenantID:       tenantID,
		PreviousStatus: system.OperationalStatus,
		NewStatus:      status,
		Reason:         reason,
		OperatorID:     operatorID,
		Timestamp:      r.clock().UTC(),
	}
	system.OperationalStatus = status
	return change, nil
}
