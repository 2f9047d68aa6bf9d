package hotdeploy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of an Application.
type State int32

const (
	StateUninstalled State = iota
	StateInstalled
	StateInitialized
	StateStarted
	StateStopped
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// generation is one immutable deployment snapshot: descriptor, resolved
// paths, isolation boundary, runtime context, and redeploy monitor. Redeploy
// produces a fresh generation and swaps the application's pointer atomically,
// so a concurrent reader never observes a half-new, half-old mix.
type generation struct {
	id            string
	descriptor    *ApplicationDescriptor
	resourcePaths []string
	boundary      ApplicationBoundary
	ctx           RuntimeContext
	monitor       *redeployMonitor
}

// withContext derives a new generation carrying the runtime context and
// monitor produced by init.
func (g *generation) withContext(ctx RuntimeContext, monitor *redeployMonitor) *generation {
	next := *g
	next.ctx = ctx
	next.monitor = monitor
	return &next
}

// Application is one deployable, isolated unit hosted by the runtime process.
// Its name is stable across redeploys; every other attribute lives in the
// current generation and is replaced wholesale, never merged, on redeploy.
//
// Lifecycle operations are synchronous, run-to-completion calls on the
// invoking goroutine. Callers must not invoke two lifecycle transitions on
// the same Application concurrently; the hot-redeploy monitor serializes its
// own invocations.
type Application struct {
	name string

	logger     Logger
	resolver   DescriptorResolver
	factory    ContextFactory
	boundaries BoundaryProvider
	paths      *PathResolver
	builders   *BuilderRegistry
	events     Subject

	watchMode     WatchMode
	watchInterval time.Duration

	state atomic.Int32
	gen   atomic.Pointer[generation]
}

// ApplicationOption configures an Application.
type ApplicationOption func(*Application)

// WithLogger sets the application's logger.
func WithLogger(logger Logger) ApplicationOption {
	return func(a *Application) { a.logger = logger }
}

// WithDescriptorResolver overrides the default file-backed descriptor resolver.
func WithDescriptorResolver(resolver DescriptorResolver) ApplicationOption {
	return func(a *Application) { a.resolver = resolver }
}

// WithContextFactory sets the runtime context factory.
func WithContextFactory(factory ContextFactory) ApplicationOption {
	return func(a *Application) { a.factory = factory }
}

// WithBoundaryProvider overrides the default boundary manager.
func WithBoundaryProvider(provider BoundaryProvider) ApplicationOption {
	return func(a *Application) { a.boundaries = provider }
}

// WithBuilderRegistry overrides the default builder registry.
func WithBuilderRegistry(registry *BuilderRegistry) ApplicationOption {
	return func(a *Application) { a.builders = registry }
}

// WithEventSubject sets the subject deployment events are emitted through.
func WithEventSubject(subject Subject) ApplicationOption {
	return func(a *Application) { a.events = subject }
}

// WithWatchMode selects how the hot-redeploy monitor detects changes.
func WithWatchMode(mode WatchMode) ApplicationOption {
	return func(a *Application) { a.watchMode = mode }
}

// WithWatchInterval sets the hot-redeploy poll interval.
func WithWatchInterval(interval time.Duration) ApplicationOption {
	return func(a *Application) { a.watchInterval = interval }
}

// NewApplication creates an application deployed from the given installation
// root. Collaborators default to the file-backed descriptor resolver, the
// standard boundary manager, the built-in builder registry, and the standard
// context factory; options override any of them.
func NewApplication(name, root string, opts ...ApplicationOption) *Application {
	paths := NewPathResolver(root)
	a := &Application{
		name:          name,
		logger:        noopLogger{},
		paths:         paths,
		resolver:      NewFileDescriptorResolver(paths),
		boundaries:    NewBoundaryManager(paths),
		builders:      NewBuilderRegistry(),
		factory:       NewStdContextFactory(),
		watchMode:     WatchModePoll,
		watchInterval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the application's stable identity.
func (a *Application) Name() string { return a.name }

// State returns the current lifecycle state.
func (a *Application) State() State { return State(a.state.Load()) }

// Descriptor returns the current generation's descriptor, or nil before the
// first successful install.
func (a *Application) Descriptor() *ApplicationDescriptor {
	if gen := a.gen.Load(); gen != nil {
		return gen.descriptor
	}
	return nil
}

// Boundary returns the current generation's isolation boundary, or nil.
func (a *Application) Boundary() ApplicationBoundary {
	if gen := a.gen.Load(); gen != nil {
		return gen.boundary
	}
	return nil
}

// RuntimeContext returns the current runtime context. It is non-nil exactly
// while the application is initialized or started.
func (a *Application) RuntimeContext() RuntimeContext {
	if gen := a.gen.Load(); gen != nil {
		return gen.ctx
	}
	return nil
}

// ResourcePaths returns the current generation's resolved config paths.
func (a *Application) ResourcePaths() []string {
	if gen := a.gen.Load(); gen != nil {
		return gen.resourcePaths
	}
	return nil
}

func (a *Application) String() string {
	return fmt.Sprintf("%T[%s]@%p", a, a.name, a)
}

// Install resolves the descriptor, writes the anchor marker, resolves all
// config resource paths, and builds the isolation boundary. The anchor is
// written before path validation; a failed install therefore leaves the
// marker behind for marker-based undeploy tooling to clean up.
func (a *Application) Install() error {
	a.logger.Info("New app", "app", a.name)

	desc, err := a.resolver.Resolve(a.name)
	if err != nil {
		a.logger.Error("Failed to resolve deployment descriptor", "app", a.name, "error", err)
		return a.failed(&InstallationError{App: a.name, Err: err})
	}
	if len(desc.ConfigResources) == 0 {
		err := fmt.Errorf("%w: app '%s'", ErrNoConfigResources, a.name)
		a.logger.Error("Descriptor rejected", "app", a.name, "error", err)
		return a.failed(&InstallationError{App: a.name, Err: err})
	}

	if err := writeAnchor(a.paths.AnchorPath(a.name)); err != nil {
		a.logger.Error("Failed to create anchor file", "app", a.name, "error", err)
		return a.failed(&InstallationError{App: a.name, Err: err})
	}

	resourcePaths, err := a.paths.Resolve(a.name, desc.ConfigResources)
	if err != nil {
		a.logger.Error("Config resource missing", "app", a.name, "error", err)
		return a.failed(err)
	}

	boundary, err := a.boundaries.AppBoundary(a.name, desc.Domain)
	if err != nil {
		a.logger.Error("Failed to build isolation boundary", "app", a.name, "error", err)
		return a.failed(err)
	}

	a.gen.Store(&generation{
		id:            newGenerationID(),
		descriptor:    desc,
		resourcePaths: resourcePaths,
		boundary:      boundary,
	})
	a.state.Store(int32(StateInstalled))
	a.emit(EventTypeApplicationInstalled)
	return nil
}

// Init assembles the configuration builder chain, constructs the runtime
// context through the context factory, and, if the descriptor enables
// redeployment, registers the hot-redeploy monitor. The monitor's scheduler
// is not started here; it arms itself only once the context signals STARTED.
func (a *Application) Init() error {
	a.logger.Info("Initializing app", "app", a.name)

	gen := a.gen.Load()
	if gen == nil {
		return &InitializationError{App: a.name, Err: ErrNotInstalled}
	}
	if a.factory == nil {
		return &InitializationError{App: a.name, Err: ErrContextFactoryNotSet}
	}

	builders, err := assembleBuilders(gen.descriptor, gen.resourcePaths, a.paths.AppDir(a.name), gen.boundary, a.builders)
	if err != nil {
		a.logger.Error("Builder assembly failed", "app", a.name, "error", err)
		return a.failed(&InitializationError{App: a.name, Err: err})
	}
	a.logger.Debug("Assembled configuration builders", "app", a.name, "count", len(builders))

	env := &BuildEnvironment{
		AppName:       a.name,
		AppHome:       a.paths.AppDir(a.name),
		ResourcePaths: gen.resourcePaths,
		Boundary:      gen.boundary,
		Properties:    NewPropertySet(),
	}
	rc, err := a.factory.CreateContext(builders, env)
	if err != nil {
		a.logger.Error("Runtime context construction failed", "app", a.name, "error", err)
		return a.failed(&InitializationError{App: a.name, Err: err})
	}

	var monitor *redeployMonitor
	if gen.descriptor.RedeploymentEnabled && len(gen.resourcePaths) > 0 {
		monitor, err = a.newRedeployMonitor(gen.resourcePaths[0])
		if err != nil {
			a.logger.Error("Failed to register redeploy monitor", "app", a.name, "error", err)
			return a.failed(&InitializationError{App: a.name, Err: err})
		}
		monitor.register(rc)
	}

	a.gen.Store(gen.withContext(rc, monitor))
	a.state.Store(int32(StateInitialized))
	a.emit(EventTypeApplicationInitialized)
	return nil
}

// Start starts the runtime context. On failure the context's internal state
// is whatever it reports; this layer does not reset it.
func (a *Application) Start() error {
	a.logger.Info("Starting app", "app", a.name)

	gen := a.gen.Load()
	if gen == nil || gen.ctx == nil {
		return &StartError{App: a.name, Err: ErrContextNotCreated}
	}
	if err := gen.ctx.Start(); err != nil {
		a.logger.Error("Failed to start app", "app", a.name, "error", err)
		return a.failed(&StartError{App: a.name, Err: err})
	}

	a.state.Store(int32(StateStarted))
	a.emit(EventTypeApplicationStarted)
	a.logger.Info("Started app", "app", a.name)
	return nil
}

// Stop stops the runtime context. An application that never reached init has
// no context; stopping it is a no-op, not an error.
func (a *Application) Stop() error {
	gen := a.gen.Load()
	if gen == nil || gen.ctx == nil {
		// app never started, maybe due to a previous error
		return nil
	}

	a.logger.Info("Stopping app", "app", a.name)
	if err := gen.ctx.Stop(); err != nil {
		a.logger.Error("Failed to stop app", "app", a.name, "error", err)
		return a.failed(&StopError{App: a.name, Err: err})
	}

	a.state.Store(int32(StateStopped))
	a.emit(EventTypeApplicationStopped)
	return nil
}

// Dispose tears down the current generation: it stops the runtime context if
// it is still running (a StopError here is logged, never re-raised), disposes
// the context, drops the generation reference, and closes the isolation
// boundary. Disposing an application with no generation is a no-op, so a
// second Dispose in a row never fails.
func (a *Application) Dispose() {
	gen := a.gen.Load()
	if gen == nil {
		a.logger.Debug("App has nothing to dispose of", "app", a.name)
		return
	}

	a.disposeContext(gen)

	// drop the generation before releasing the boundary so no reader can
	// observe a closed boundary through the application
	a.gen.Store(nil)
	a.state.Store(int32(StateDisposed))

	if gen.boundary != nil {
		if err := gen.boundary.Close(); err != nil {
			a.logger.Error("Failed to release isolation boundary", "app", a.name, "error", err)
		}
	}
	a.emit(EventTypeApplicationDisposed)
}

func (a *Application) disposeContext(gen *generation) {
	if gen.ctx == nil {
		a.logger.Info("App never started, nothing to dispose of", "app", a.name)
		return
	}

	if gen.ctx.Started() && !gen.ctx.Disposed() {
		if err := a.Stop(); err != nil {
			// catch the stop errors and just log, we're disposing of an app anyway
			a.logger.Error("Error stopping app during dispose", "app", a.name, "error", err)
		}
	}

	a.logger.Info("Disposing app", "app", a.name)
	gen.ctx.Dispose()
}

// Redeploy runs a full dispose/install/init/start cycle on the calling
// goroutine. It is the only operation that replaces the descriptor, resource
// paths, and isolation boundary as a unit. A failure at any inner stage
// surfaces that stage's error unchanged.
func (a *Application) Redeploy() error {
	a.logger.Info("Redeploying app", "app", a.name)

	a.Dispose()
	if err := a.Install(); err != nil {
		return err
	}
	if err := a.Init(); err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		return err
	}
	a.emit(EventTypeApplicationRedeployed)
	return nil
}

// failed emits a failure event and returns the error unchanged.
func (a *Application) failed(err error) error {
	a.emitData(EventTypeApplicationFailed, map[string]any{
		"app":   a.name,
		"error": err.Error(),
		"stage": stageOf(err),
	})
	return err
}

func stageOf(err error) string {
	var installErr *InstallationError
	var domainErr *DomainResolutionError
	var initErr *InitializationError
	var startErr *StartError
	var stopErr *StopError
	switch {
	case errors.As(err, &installErr):
		return "install"
	case errors.As(err, &domainErr):
		return "domain"
	case errors.As(err, &initErr):
		return "init"
	case errors.As(err, &startErr):
		return "start"
	case errors.As(err, &stopErr):
		return "stop"
	default:
		return "unknown"
	}
}

// EmitEvent delivers a deployment event through the configured subject.
// Returns ErrNoSubjectForEventEmission when no subject was set.
func (a *Application) EmitEvent(ctx context.Context, event CloudEvent) error {
	if a.events == nil {
		return ErrNoSubjectForEventEmission
	}
	return a.events.NotifyObservers(ctx, event)
}

func (a *Application) emit(eventType string) {
	a.emitData(eventType, map[string]any{"app": a.name})
}

func (a *Application) emitData(eventType string, data map[string]any) {
	event := NewCloudEvent(eventType, "application/"+a.name, data)
	if err := a.EmitEvent(context.Background(), event); err != nil {
		// an application without a subject simply has nobody listening
		if errors.Is(err, ErrNoSubjectForEventEmission) {
			return
		}
		a.logger.Debug("Failed to emit event", "app", a.name, "eventType", eventType, "error", err)
	}
}

func newGenerationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
