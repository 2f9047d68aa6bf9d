package hotdeploy

import (
	"errors"
	"fmt"
)

// Deployment errors
var (
	// Descriptor errors
	ErrDescriptorParse   = errors.New("failed to parse the application deployment descriptor")
	ErrDescriptorNameSet = errors.New("descriptor name does not match application name")
	ErrNoConfigResources = errors.New("descriptor lists no config resources")

	// Installation errors
	ErrResourceNotFound = errors.New("config resource not found")
	ErrAnchorWrite      = errors.New("failed to write anchor file")
	ErrNotInstalled     = errors.New("application is not installed")

	// Boundary errors
	ErrDomainNotFound   = errors.New("shared domain not found")
	ErrBoundaryClosed   = errors.New("isolation boundary is closed")
	ErrResourceNotBound = errors.New("resource not resolvable through boundary")

	// Builder errors
	ErrBuilderNotRegistered = errors.New("no configuration builder registered for selector")
	ErrBuilderNil           = errors.New("configuration builder factory returned nil")

	// Context errors
	ErrContextFactoryNotSet = errors.New("context factory not set")
	ErrContextNotCreated    = errors.New("runtime context has not been created")

	// Deployment service errors
	ErrApplicationDeployed    = errors.New("application already deployed")
	ErrApplicationNotDeployed = errors.New("application not deployed")

	// Event errors
	ErrNoSubjectForEventEmission = errors.New("no subject available for event emission")
	ErrObserverNil               = errors.New("observer cannot be nil")
)

// InstallationError indicates a failure during the install stage: descriptor
// parsing, anchor file creation, or resource path resolution.
type InstallationError struct {
	App string
	Err error
}

func (e *InstallationError) Error() string {
	return fmt.Sprintf("install failed for app '%s': %v", e.App, e.Err)
}

func (e *InstallationError) Unwrap() error { return e.Err }

// DomainResolutionError indicates that a named shared domain could not be
// resolved while building the application's isolation boundary.
type DomainResolutionError struct {
	App    string
	Domain string
	Err    error
}

func (e *DomainResolutionError) Error() string {
	return fmt.Sprintf("domain '%s' not resolvable for app '%s': %v", e.Domain, e.App, e.Err)
}

func (e *DomainResolutionError) Unwrap() error { return e.Err }

// InitializationError indicates a failure during builder assembly or runtime
// context construction.
type InitializationError struct {
	App string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("init failed for app '%s': %v", e.App, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// StartError indicates the runtime context failed to start.
type StartError struct {
	App string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed for app '%s': %v", e.App, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError indicates the runtime context failed to stop.
type StopError struct {
	App string
	Err error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop failed for app '%s': %v", e.App, e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
