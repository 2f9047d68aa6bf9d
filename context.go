package hotdeploy

import (
	"fmt"
	"sync"
)

// ContextSignal is a lifecycle notification emitted by a runtime context to
// its registered listeners. Delivery is asynchronous: a listener must not
// assume it runs before the emitting call returns.
type ContextSignal int

const (
	// ContextStarted fires once the runtime context has fully started.
	ContextStarted ContextSignal = iota

	// ContextStopping fires when the runtime context begins shutting down,
	// before any of its internals are torn down.
	ContextStopping
)

func (s ContextSignal) String() string {
	switch s {
	case ContextStarted:
		return "started"
	case ContextStopping:
		return "stopping"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// ContextListener receives lifecycle signals from a runtime context.
// Listeners are explicit structs registered via Subscribe; a listener that
// wants to stop receiving signals cancels its own subscription, which is
// safe to do from inside OnContextSignal.
type ContextListener interface {
	OnContextSignal(signal ContextSignal)
}

// Subscription is the handle returned by RuntimeContext.Subscribe.
type Subscription interface {
	// Cancel stops signal delivery to the listener. Idempotent.
	Cancel()
}

// RuntimeContext is the constructed, running execution environment produced
// from an application's configuration. Its internals (service wiring, message
// routing, transports) are external to the deployment engine; this interface
// is the engine's entire view of it.
type RuntimeContext interface {
	Start() error
	Stop() error
	Dispose()
	Started() bool
	Disposed() bool
	Subscribe(listener ContextListener) Subscription
}

// ContextFactory builds a runtime context from an assembled builder chain.
type ContextFactory interface {
	CreateContext(builders []ConfigurationBuilder, env *BuildEnvironment) (RuntimeContext, error)
}

// ContextNotifier implements listener registration and asynchronous signal
// fan-out. Runtime context implementations embed it to satisfy Subscribe.
type ContextNotifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]ContextListener
}

// Subscribe registers a listener and returns its cancellation handle.
func (n *ContextNotifier) Subscribe(listener ContextListener) Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[int]ContextListener)
	}
	id := n.nextID
	n.nextID++
	n.listeners[id] = listener
	return &subscription{notifier: n, id: id}
}

// Notify delivers a signal to every subscribed listener, each on its own
// goroutine so a slow listener never blocks the context's own transition.
func (n *ContextNotifier) Notify(signal ContextSignal) {
	n.mu.Lock()
	listeners := make([]ContextListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.Unlock()

	for _, l := range listeners {
		go l.OnContextSignal(signal)
	}
}

func (n *ContextNotifier) cancel(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.listeners, id)
}

type subscription struct {
	notifier *ContextNotifier
	id       int
	once     sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() { s.notifier.cancel(s.id) })
}

// StdRuntimeContext is a minimal runtime context: it runs the builder chain
// at construction and tracks started/disposed flags, emitting the standard
// lifecycle signals. Hosts embedding a real execution engine supply their own
// ContextFactory instead.
type StdRuntimeContext struct {
	ContextNotifier

	env *BuildEnvironment

	mu       sync.Mutex
	started  bool
	disposed bool
}

// Environment returns the build environment the context was constructed with,
// including the isolation boundary it resolves resources against.
func (c *StdRuntimeContext) Environment() *BuildEnvironment { return c.env }

// Start marks the context started and emits ContextStarted.
func (c *StdRuntimeContext) Start() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return fmt.Errorf("runtime context for app '%s' is disposed", c.env.AppName)
	}
	c.started = true
	c.mu.Unlock()
	c.Notify(ContextStarted)
	return nil
}

// Stop emits ContextStopping and marks the context stopped.
func (c *StdRuntimeContext) Stop() error {
	c.Notify(ContextStopping)
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}

// Dispose marks the context disposed.
func (c *StdRuntimeContext) Dispose() {
	c.mu.Lock()
	c.started = false
	c.disposed = true
	c.mu.Unlock()
}

// Started reports whether the context is running.
func (c *StdRuntimeContext) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Disposed reports whether the context has been disposed.
func (c *StdRuntimeContext) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// StdContextFactory builds StdRuntimeContext instances by running each
// builder in chain order against the shared environment.
type StdContextFactory struct{}

// NewStdContextFactory creates the standard factory.
func NewStdContextFactory() *StdContextFactory { return &StdContextFactory{} }

// CreateContext implements ContextFactory.
func (f *StdContextFactory) CreateContext(builders []ConfigurationBuilder, env *BuildEnvironment) (RuntimeContext, error) {
	for _, b := range builders {
		if err := b.Configure(env); err != nil {
			return nil, fmt.Errorf("configuration builder failed for app '%s': %w", env.AppName, err)
		}
	}
	return &StdRuntimeContext{env: env}, nil
}
