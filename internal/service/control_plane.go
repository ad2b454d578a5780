// Package service implements the control plane: all business logic behind
// the HTTP handlers. Handlers validate transport concerns and delegate here.
package service

import (
	"time"

	"github.com/gatewarden/warden/internal/blobstore"
	"github.com/gatewarden/warden/internal/geoip"
	"github.com/gatewarden/warden/internal/liveness"
	"github.com/gatewarden/warden/internal/nodeclient"
	"github.com/gatewarden/warden/internal/state"
	"github.com/gatewarden/warden/internal/statuscache"
	"github.com/gatewarden/warden/internal/subscription"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, AUTH_FAILURE, NODE_UNAVAILABLE, INTERNAL
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg}
}

func authFailure(msg string) *ServiceError {
	return &ServiceError{Code: "AUTH_FAILURE", Message: msg}
}

func nodeUnavailable(msg string, err error) *ServiceError {
	return &ServiceError{Code: "NODE_UNAVAILABLE", Message: msg, Err: err}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}

// ControlPlane provides all control plane operations.
// Handlers call its methods; business logic lives here, not in handlers.
type ControlPlane struct {
	Store    *state.Store
	Cache    *statuscache.Cache
	Nodes    *nodeclient.Registry
	Blobs    blobstore.Store
	GeoIP    *geoip.Resolver
	Liveness *liveness.Evaluator
	Policy   subscription.Policy

	// Now is injectable for tests; defaults to time.Now via the accessor.
	Now func() time.Time
}

func (cp *ControlPlane) now() time.Time {
	if cp.Now != nil {
		return cp.Now()
	}
	return time.Now()
}
