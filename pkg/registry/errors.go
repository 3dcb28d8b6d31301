package registry

import "errors"

var (
	// ErrNotFound covers both "does not exist" and "exists under another
	// tenant". The two cases are reported identically so that the existence
	// of another tenant's system is never observable.
	ErrNotFound = errors.New("registry: not found")

	// ErrDuplicateTenant is returned when a tenant ID is already registered.
	ErrDuplicateTenant = errors.New("registry: duplicate tenant")

	// ErrDuplicateSystem is returned when a system ID is already registered
	// under the tenant. Re-registration never replaces an existing record:
	// operational status changes go through SetOperationalStatus so the
	// emergency-stop gate cannot be bypassed.
	ErrDuplicateSystem = errors.New("registry: duplicate system")

	// ErrTenantMismatch is returned when a payload-declared tenant conflicts
	// with the verified caller tenant. Never silently corrected.
	ErrTenantMismatch = errors.New("registry: tenant mismatch")

	// ErrInvalidTenantID is returned when a tenant ID is not a well-formed
	// random identifier.
	ErrInvalidTenantID = errors.New("registry: invalid tenant id")

	// ErrInvalidTransition is returned when a status change out of
	// emergency-stop lacks an explicit human operator.
	ErrInvalidTransition = errors.New("registry: invalid status transition")
)
