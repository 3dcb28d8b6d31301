package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mereon-labs/keel/pkg/policy"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry on a SQLite database. Policy documents
// and dependency lists are stored as JSON columns; status changes are
// appended to their own table for audit.
type SQLiteRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteRegistry creates the registry and runs migrations.
func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{db: db, clock: time.Now}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithClock overrides the clock for deterministic testing.
func (r *SQLiteRegistry) WithClock(clock func() time.Time) *SQLiteRegistry {
	r.clock = clock
	return r
}

func (r *SQLiteRegistry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		policy JSON,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS systems (
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		id TEXT NOT NULL,
		name TEXT,
		sector TEXT NOT NULL,
		risk_class TEXT NOT NULL,
		operational_status TEXT NOT NULL,
		lifecycle_phase TEXT,
		policy JSON,
		dependencies JSON,
		logging_enabled INTEGER NOT NULL DEFAULT 0,
		registration_id TEXT,
		training_compute REAL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS status_changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL,
		system_id TEXT NOT NULL,
		previous_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		reason TEXT,
		operator_id TEXT,
		ts DATETIME NOT NULL
	);`
	_, err := r.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// RegisterTenant implements Registry.
func (r *SQLiteRegistry) RegisterTenant(ctx context.Context, tenant *Tenant) error {
	if err := ValidateTenantID(tenant.ID); err != nil {
		return err
	}

	policyJSON, err := marshalPolicy(tenant.Policy)
	if err != nil {
		return err
	}

	createdAt := tenant.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.clock().UTC()
	}

	var exists int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tenants WHERE id = ?`, tenant.ID).Scan(&exists); err != nil {
		return fmt.Errorf("registry: check tenant: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateTenant
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, policy, created_at) VALUES (?, ?, ?, ?)
	`, tenant.ID, tenant.Name, policyJSON, createdAt)
	if err != nil {
		return fmt.Errorf("registry: insert tenant: %w", err)
	}
	return nil
}

// GetTenant implements Registry.
func (r *SQLiteRegistry) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var tenant Tenant
	var policyJSON []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, policy, created_at FROM tenants WHERE id = ?
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &policyJSON, &tenant.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get tenant: %w", err)
	}
	if tenant.Policy, err = unmarshalPolicy(policyJSON); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// RegisterSystem implements Registry.
func (r *SQLiteRegistry) RegisterSystem(ctx context.Context, system *System, requestingTenantID string) error {
	if system.TenantID != requestingTenantID {
		return ErrTenantMismatch
	}
	if _, err := r.GetTenant(ctx, requestingTenantID); err != nil {
		return err
	}

	var exists int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM systems WHERE tenant_id = ? AND id = ?`,
		requestingTenantID, system.ID).Scan(&exists); err != nil {
		return fmt.Errorf("registry: check system: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateSystem
	}

	policyJSON, err := marshalPolicy(system.Policy)
	if err != nil {
		return err
	}
	depsJSON, err := json.Marshal(system.Dependencies)
	if err != nil {
		return fmt.Errorf("registry: marshal dependencies: %w", err)
	}

	status := system.OperationalStatus
	if status == "" {
		status = StatusActive
	}
	createdAt := system.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.clock().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO systems (tenant_id, id, name, sector, risk_class, operational_status,
			lifecycle_phase, policy, dependencies, logging_enabled, registration_id,
			training_compute, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, system.TenantID, system.ID, system.Name, system.Sector, system.RiskClass, status,
		system.LifecyclePhase, policyJSON, depsJSON, system.LoggingEnabled,
		system.RegistrationID, system.TrainingCompute, createdAt)
	if err != nil {
		return fmt.Errorf("registry: insert system: %w", err)
	}
	return nil
}

// GetSystem implements Registry. The WHERE clause carries the compound key,
// so a cross-tenant lookup is indistinguishable from a missing row.
func (r *SQLiteRegistry) GetSystem(ctx context.Context, systemID, requestingTenantID string) (*System, error) {
	var system System
	var policyJSON, depsJSON []byte
	var registrationID sql.NullString
	var trainingCompute sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, id, name, sector, risk_class, operational_status,
			lifecycle_phase, policy, dependencies, logging_enabled, registration_id,
			training_compute, created_at
		FROM systems WHERE tenant_id = ? AND id = ?
	`, requestingTenantID, systemID).Scan(
		&system.TenantID, &system.ID, &system.Name, &system.Sector, &system.RiskClass,
		&system.OperationalStatus, &system.LifecyclePhase, &policyJSON, &depsJSON,
		&system.LoggingEnabled, &registrationID, &trainingCompute, &system.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get system: %w", err)
	}
	system.RegistrationID = registrationID.String
	system.TrainingCompute = trainingCompute.Float64
	if system.Policy, err = unmarshalPolicy(policyJSON); err != nil {
		return nil, err
	}
	if len(depsJSON) > 0 {
		if err := json.Unmarshal(depsJSON, &system.Dependencies); err != nil {
			return nil, fmt.Errorf("registry: unmarshal dependencies: %w", err)
		}
	}
	return &system, nil
}

// SetOperationalStatus implements Registry. The read-check-write runs inside
// one transaction so concurrent administrative calls serialize cleanly.
func (r *SQLiteRegistry) SetOperationalStatus(ctx context.Context, systemID, tenantID string, status OperationalStatus, reason, operatorID string) (*StatusChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var previous OperationalStatus
	err = tx.QueryRowContext(ctx, `
		SELECT operational_status FROM systems WHERE tenant_id = ? AND id = ?
	`, tenantID, systemID).Scan(&previous)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read status: %w", err)
	}

	if err := validateTransition(previous, status, operatorID); err != nil {
		return nil, err
	}

	now := r.clock().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE systems SET operational_status = ? WHERE tenant_id = ? AND id = ?
	`, status, tenantID, systemID); err != nil {
		return nil, fmt.Errorf("registry: update status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_changes (tenant_id, system_id, previous_status, new_status, reason, operator_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tenantID, systemID, previous, status, reason, operatorID, now); err != nil {
		return nil, fmt.Errorf("registry: record status change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("registry: commit: %w", err)
	}

	return &StatusChange{
		SystemID:       systemID,
		TenantID:       tenantID,
		PreviousStatus: previous,
		NewStatus:      status,
		Reason:         reason,
		OperatorID:     operatorID,
		Timestamp:      now,
	}, nil
}

func marshalPolicy(p *policy.Policy) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	out, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("registry: marshal policy: %w", err)
	}
	return out, nil
}

func unmarshalPolicy(data []byte) (*policy.Policy, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p policy.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("registry: unmarshal policy: %w", err)
	}
	return &p, nil
}
