// Package hotdeploy event support. Deployment lifecycle events use the
// CloudEvents specification for standardized format and interoperability
// with external monitoring systems.
package hotdeploy

import (
	"context"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// EventType constants for deployment lifecycle events, using reverse domain
// notation per the CloudEvents specification.
const (
	EventTypeApplicationInstalled   = "com.hotdeploy.application.installed"
	EventTypeApplicationInitialized = "com.hotdeploy.application.initialized"
	EventTypeApplicationStarted     = "com.hotdeploy.application.started"
	EventTypeApplicationStopped     = "com.hotdeploy.application.stopped"
	EventTypeApplicationDisposed    = "com.hotdeploy.application.disposed"
	EventTypeApplicationRedeployed  = "com.hotdeploy.application.redeployed"
	EventTypeApplicationFailed      = "com.hotdeploy.application.failed"

	EventTypeDeploymentDeployed   = "com.hotdeploy.deployment.deployed"
	EventTypeDeploymentUndeployed = "com.hotdeploy.deployment.undeployed"
)

// Observer receives deployment events. Observers register with a Subject and
// should handle events quickly to avoid blocking other observers.
type Observer interface {
	// OnEvent is called for each event the observer subscribed to.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration tracking.
	ObserverID() string
}

// Subject is implemented by event emitters: it maintains observers and
// notifies them as deployment events occur.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered by event types.
	// An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to all matching observers.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
}

// NewCloudEvent creates a deployment CloudEvent with a UUIDv7 ID, the given
// type and source, and optional JSON data.
func NewCloudEvent(eventType, source string, data interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// generateEventID returns a UUIDv7 so event IDs sort by emission time.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ObserverRegistry is the standard Subject implementation used by the
// deployment engine. Observer errors are logged, never propagated to the
// emitting lifecycle operation.
type ObserverRegistry struct {
	logger Logger

	mu      sync.RWMutex
	entries []observerEntry
}

type observerEntry struct {
	observer   Observer
	eventTypes []string
}

// NewObserverRegistry creates a registry that logs observer failures through
// the given logger.
func NewObserverRegistry(logger Logger) *ObserverRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ObserverRegistry{logger: logger}
}

// RegisterObserver implements Subject.
func (r *ObserverRegistry) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.observer.ObserverID() == observer.ObserverID() {
			r.entries[i] = observerEntry{observer: observer, eventTypes: eventTypes}
			return nil
		}
	}
	r.entries = append(r.entries, observerEntry{observer: observer, eventTypes: eventTypes})
	return nil
}

// UnregisterObserver implements Subject.
func (r *ObserverRegistry) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = slices.DeleteFunc(r.entries, func(e observerEntry) bool {
		return e.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

// NotifyObservers implements Subject.
func (r *ObserverRegistry) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	r.mu.RLock()
	entries := slices.Clone(r.entries)
	r.mu.RUnlock()

	for _, entry := range entries {
		if len(entry.eventTypes) > 0 && !slices.Contains(entry.eventTypes, event.Type()) {
			continue
		}
		if err := entry.observer.OnEvent(ctx, event); err != nil {
			r.logger.Error("Observer failed to handle event",
				"observer", entry.observer.ObserverID(), "eventType", event.Type(), "error", err)
		}
	}
	return nil
}

// FunctionalObserver wraps a handler function as an Observer for quick
// observer creation without defining a struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by the handler function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }
