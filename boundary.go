// Package hotdeploy implements the deployment lifecycle engine of an
// integration-runtime host: it installs, initializes, starts, stops,
// disposes, and hot-redeploys independently configured applications inside
// one long-running process, each isolated by its own resource boundary and
// sharing selected resources through a named domain.
package hotdeploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// DefaultDomainName is the reserved name of the shared domain used by
// applications that do not declare one.
const DefaultDomainName = "default"

// Boundary is a resource-resolution scope. Resolving a name searches the
// boundary's own tier first and falls back to its parent, so an application
// tier shadows its domain, which shadows the host.
type Boundary interface {
	// Resolve returns the absolute path of a resource visible through this
	// boundary, or ErrResourceNotBound if no tier provides it.
	Resolve(resource string) (string, error)

	// Open opens a resource visible through this boundary. Handles opened
	// through an application boundary are tracked and released on Close.
	Open(resource string) (io.ReadCloser, error)

	// Close releases any resource handles held by this boundary. Release is
	// explicit: it is not performed by garbage collection.
	Close() error
}

// ApplicationBoundary is the application tier of the isolation hierarchy,
// exclusively owned by one application generation.
type ApplicationBoundary interface {
	Boundary

	// AppName returns the owning application's name.
	AppName() string

	// HasCapability reports whether a capability marker resource is visible
	// through the boundary chain. Optional configuration builders key their
	// enablement off this.
	HasCapability(name string) bool
}

// BoundaryProvider constructs application boundaries. The standard provider
// is BoundaryManager; tests substitute counted fakes.
type BoundaryProvider interface {
	AppBoundary(appName, domain string) (ApplicationBoundary, error)
}

// hostBoundary is the process-wide root tier. It is created once per manager
// and never closed on behalf of an application.
type hostBoundary struct {
	dir string
}

func (h *hostBoundary) Resolve(resource string) (string, error) {
	path := filepath.Join(h.dir, resource)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrResourceNotBound, resource)
	}
	return path, nil
}

func (h *hostBoundary) Open(resource string) (io.ReadCloser, error) {
	path, err := h.Resolve(resource)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open host resource %s: %w", resource, err)
	}
	return f, nil
}

func (h *hostBoundary) Close() error { return nil }

// domainBoundary is the shared middle tier. One instance exists per domain
// name for as long as any application references it; the manager refcounts it.
type domainBoundary struct {
	name   string
	dir    string
	parent *hostBoundary
}

func (d *domainBoundary) Resolve(resource string) (string, error) {
	path := filepath.Join(d.dir, resource)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return d.parent.Resolve(resource)
}

func (d *domainBoundary) Open(resource string) (io.ReadCloser, error) {
	path, err := d.Resolve(resource)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domain resource %s: %w", resource, err)
	}
	return f, nil
}

func (d *domainBoundary) Close() error { return nil }

// appBoundary is the exclusively owned application tier. It tracks handles
// opened through it and releases them, plus its domain reference, on Close.
type appBoundary struct {
	appName string
	dir     string
	parent  *domainBoundary
	release func()

	mu      sync.Mutex
	handles []io.Closer
	closed  bool
}

func (a *appBoundary) AppName() string { return a.appName }

func (a *appBoundary) Resolve(resource string) (string, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return "", fmt.Errorf("%w: app '%s'", ErrBoundaryClosed, a.appName)
	}
	path := filepath.Join(a.dir, resource)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	return a.parent.Resolve(resource)
}

func (a *appBoundary) Open(resource string) (io.ReadCloser, error) {
	path, err := a.Resolve(resource)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource %s for app '%s': %w", resource, a.appName, err)
	}
	a.mu.Lock()
	a.handles = append(a.handles, f)
	a.mu.Unlock()
	return f, nil
}

func (a *appBoundary) HasCapability(name string) bool {
	_, err := a.Resolve(name + ".capability")
	return err == nil
}

// Close releases every handle opened through this boundary and drops the
// domain reference. Idempotent.
func (a *appBoundary) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	handles := a.handles
	a.handles = nil
	a.mu.Unlock()

	for _, h := range handles {
		// handles already closed by their consumers report an error here,
		// which is fine to ignore
		_ = h.Close()
	}
	if a.release != nil {
		a.release()
	}
	return nil
}

// BoundaryManager builds the three-tier isolation hierarchy
// (host -> shared domain -> application) rooted at one installation root.
type BoundaryManager struct {
	paths *PathResolver
	host  *hostBoundary

	mu      sync.Mutex
	domains map[string]*domainRef
}

type domainRef struct {
	boundary *domainBoundary
	refs     int
}

// NewBoundaryManager creates a manager for the given installation root.
func NewBoundaryManager(paths *PathResolver) *BoundaryManager {
	return &BoundaryManager{
		paths:   paths,
		host:    &hostBoundary{dir: paths.LibDir()},
		domains: make(map[string]*domainRef),
	}
}

// AppBoundary builds the application tier on top of the resolved domain tier.
// A blank domain maps to the default shared domain, which is never
// existence-checked. A named domain must exist on disk; otherwise the call
// fails with a DomainResolutionError.
func (m *BoundaryManager) AppBoundary(appName, domain string) (ApplicationBoundary, error) {
	if domain == "" {
		domain = DefaultDomainName
	}
	if domain != DefaultDomainName {
		if _, err := os.Stat(m.paths.DomainDir(domain)); err != nil {
			return nil, &DomainResolutionError{App: appName, Domain: domain, Err: ErrDomainNotFound}
		}
	}

	m.mu.Lock()
	ref, ok := m.domains[domain]
	if !ok {
		ref = &domainRef{boundary: &domainBoundary{
			name:   domain,
			dir:    m.paths.DomainDir(domain),
			parent: m.host,
		}}
		m.domains[domain] = ref
	}
	ref.refs++
	m.mu.Unlock()

	return &appBoundary{
		appName: appName,
		dir:     m.paths.AppDir(appName),
		parent:  ref.boundary,
		release: func() { m.releaseDomain(domain) },
	}, nil
}

func (m *BoundaryManager) releaseDomain(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.domains[domain]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs <= 0 {
		delete(m.domains, domain)
	}
}

// DomainReferenced reports whether any live application boundary still
// references the given domain. Diagnostics only.
func (m *BoundaryManager) DomainReferenced(domain string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.domains[domain]
	return ok
}
