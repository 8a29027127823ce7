package integrations

import (
	"errors"
	"fmt"

	"teampulse/internal/models"
)

// Error taxonomy for fetch failures. The orchestrator absorbs all of these at
// the per-service boundary; they only shape logging and diagnostics.
var (
	// ErrUnauthorized: the provider rejected the credential and no refresh
	// could rescue it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIntegrationNotFound: credential missing, inactive, or empty token.
	ErrIntegrationNotFound = errors.New("integration_not_found_or_inactive")

	// ErrCircuitOpen: the provider's circuit breaker is rejecting calls.
	ErrCircuitOpen = errors.New("circuit_open")
)

// UpstreamError: the provider answered the primary listing call with a
// non-2xx status.
type UpstreamError struct {
	Service models.Service
	Status  int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream_error: service=%s status=%d", e.Service, e.Status)
}

// NetworkError: the primary call never got an HTTP response (timeout, DNS,
// connection reset).
type NetworkError struct {
	Service models.Service
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network_error: service=%s: %v", e.Service, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
