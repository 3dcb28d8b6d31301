// Package registry stores tenants and the autonomous systems they operate.
// Every read and write is scoped by tenant identity: systems are addressed
// by the compound key (tenant ID, system ID), never by system ID alone.
package registry

import (
	"time"

	"github.com/mereon-labs/keel/pkg/policy"
)

// RiskClass is the declared risk classification of a system.
type RiskClass string

const (
	RiskMinimal      RiskClass = "minimal"
	RiskLimited      RiskClass = "limited"
	RiskHigh         RiskClass = "high"
	RiskUnacceptable RiskClass = "unacceptable"
)

// OperationalStatus is the runtime status of a system. It is read as a
// safety gate at the start of every evaluation.
type OperationalStatus string

const (
	StatusActive        OperationalStatus = "active"
	StatusDegraded      OperationalStatus = "degraded"
	StatusMaintenance   OperationalStatus = "maintenance"
	StatusSuspended     OperationalStatus = "suspended"
	StatusEmergencyStop OperationalStatus = "emergency-stop"
)

// LifecyclePhase is advisory metadata about where a system sits in its
// lifecycle. Transitions are not enforced as a state machine.
type LifecyclePhase string

const (
	PhaseDesign          LifecyclePhase = "design"
	PhaseDevelopment     LifecyclePhase = "development"
	PhaseValidation      LifecyclePhase = "validation"
	PhaseDeployment      LifecyclePhase = "deployment"
	PhaseOperation       LifecyclePhase = "operation"
	PhaseMonitoring      LifecyclePhase = "monitoring"
	PhaseDecommissioning LifecyclePhase = "decommissioning"
)

// Sector classifies the domain a system operates in. Certain sectors carry
// a fixed regulatory base risk and sector-specific safe-pattern whitelists.
type Sector string

const (
	SectorGeneral        Sector = "general"
	SectorBanking        Sector = "banking"
	SectorInsurance      Sector = "insurance"
	SectorHealthcare     Sector = "healthcare"
	SectorEducation      Sector = "education"
	SectorEmployment     Sector = "employment"
	SectorLawEnforcement Sector = "law-enforcement"
	SectorTransport      Sector = "transport"
)

// Tenant is an isolated organizational unit owning zero or more systems.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Policy    *policy.Policy `json:"policy,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Dependency is a declared third-party dependency of a system.
type Dependency struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Vendor    string    `json:"vendor"`
	RiskLevel RiskClass `json:"risk_level"`
}

// System is a registered autonomous agent whose proposed actions are
// subject to enforcement. The tenant reference is immutable after creation.
type System struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Name              string            `json:"name"`
	Sector            Sector            `json:"sector"`
	RiskClass         RiskClass         `json:"risk_class"`
	OperationalStatus OperationalStatus `json:"operational_status"`
	LifecyclePhase    LifecyclePhase    `json:"lifecycle_phase"`
	Policy            *policy.Policy    `json:"policy,omitempty"`
	Dependencies      []Dependency      `json:"dependencies,omitempty"`

	// Evidence fields consumed by risk assessment.
	LoggingEnabled  bool    `json:"logging_enabled"`
	RegistrationID  string  `json:"registration_id,omitempty"`
	TrainingCompute float64 `json:"training_compute_flops,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StatusChange records an operational status transition for audit purposes.
type StatusChange struct {
	SystemID       string            `json:"system_id"`
	TenantID       string            `json:"tenant_id"`
	PreviousStatus OperationalStatus `json:"previous_status"`
	NewStatus      OperationalStatus `json:"new_status"`
	Reason         string            `json:"reason"`
	OperatorID     string            `json:"operator_id"`
	Timestamp      time.Time         `json:"timestamp"`
}
