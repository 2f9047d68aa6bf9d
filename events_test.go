package hotdeploy

import (
	"context"
	"errors"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingObserver records every event it receives.
type capturingObserver struct {
	id string

	mu     sync.Mutex
	events []cloudevents.Event
}

func (o *capturingObserver) OnEvent(_ context.Context, event cloudevents.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *capturingObserver) ObserverID() string { return o.id }

func (o *capturingObserver) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	types := make([]string, 0, len(o.events))
	for _, e := range o.events {
		types = append(types, e.Type())
	}
	return types
}

func TestObserverRegistry(t *testing.T) {
	t.Run("should_notify_all_observers", func(t *testing.T) {
		registry := NewObserverRegistry(&testLogger{})
		obs := &capturingObserver{id: "obs-1"}
		require.NoError(t, registry.RegisterObserver(obs))

		event := NewCloudEvent(EventTypeApplicationStarted, "test", nil)
		require.NoError(t, registry.NotifyObservers(context.Background(), event))

		assert.Equal(t, []string{EventTypeApplicationStarted}, obs.types())
	})

	t.Run("should_filter_by_event_type", func(t *testing.T) {
		registry := NewObserverRegistry(&testLogger{})
		obs := &capturingObserver{id: "obs-1"}
		require.NoError(t, registry.RegisterObserver(obs, EventTypeApplicationStopped))

		require.NoError(t, registry.NotifyObservers(context.Background(),
			NewCloudEvent(EventTypeApplicationStarted, "test", nil)))
		require.NoError(t, registry.NotifyObservers(context.Background(),
			NewCloudEvent(EventTypeApplicationStopped, "test", nil)))

		assert.Equal(t, []string{EventTypeApplicationStopped}, obs.types())
	})

	t.Run("unregister_is_idempotent", func(t *testing.T) {
		registry := NewObserverRegistry(&testLogger{})
		obs := &capturingObserver{id: "obs-1"}
		require.NoError(t, registry.RegisterObserver(obs))
		require.NoError(t, registry.UnregisterObserver(obs))
		require.NoError(t, registry.UnregisterObserver(obs))

		require.NoError(t, registry.NotifyObservers(context.Background(),
			NewCloudEvent(EventTypeApplicationStarted, "test", nil)))
		assert.Empty(t, obs.types())
	})

	t.Run("observer_failure_is_logged_not_raised", func(t *testing.T) {
		logger := &testLogger{}
		registry := NewObserverRegistry(logger)
		failing := NewFunctionalObserver("bad", func(context.Context, cloudevents.Event) error {
			return errors.New("observer exploded")
		})
		require.NoError(t, registry.RegisterObserver(failing))

		err := registry.NotifyObservers(context.Background(),
			NewCloudEvent(EventTypeApplicationStarted, "test", nil))
		assert.NoError(t, err)
		assert.True(t, logger.contains("observer exploded"))
	})

	t.Run("nil_observer_rejected", func(t *testing.T) {
		registry := NewObserverRegistry(nil)
		assert.ErrorIs(t, registry.RegisterObserver(nil), ErrObserverNil)
	})
}

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent(EventTypeApplicationInstalled, "application/demo", map[string]any{"app": "demo"})

	assert.NoError(t, event.Validate())
	assert.Equal(t, EventTypeApplicationInstalled, event.Type())
	assert.Equal(t, "application/demo", event.Source())
	assert.NotEmpty(t, event.ID())
	assert.False(t, event.Time().IsZero())
}

func TestEmitEvent(t *testing.T) {
	t.Run("without_subject_returns_sentinel", func(t *testing.T) {
		app := NewApplication("demoApp", t.TempDir())
		err := app.EmitEvent(context.Background(),
			NewCloudEvent(EventTypeApplicationStarted, "test", nil))
		assert.ErrorIs(t, err, ErrNoSubjectForEventEmission)
	})

	t.Run("with_subject_delivers", func(t *testing.T) {
		registry := NewObserverRegistry(&testLogger{})
		obs := &capturingObserver{id: "direct"}
		require.NoError(t, registry.RegisterObserver(obs))
		app := NewApplication("demoApp", t.TempDir(), WithEventSubject(registry))

		require.NoError(t, app.EmitEvent(context.Background(),
			NewCloudEvent(EventTypeApplicationStarted, "test", nil)))
		assert.Equal(t, []string{EventTypeApplicationStarted}, obs.types())
	})
}

func TestApplicationEmitsLifecycleEvents(t *testing.T) {
	root := newTestRoot(t, "demoApp")
	registry := NewObserverRegistry(&testLogger{})
	obs := &capturingObserver{id: "lifecycle"}
	require.NoError(t, registry.RegisterObserver(obs))

	app := NewApplication("demoApp", root,
		WithContextFactory(&mockContextFactory{}),
		WithEventSubject(registry))

	require.NoError(t, app.Install())
	require.NoError(t, app.Init())
	require.NoError(t, app.Start())
	require.NoError(t, app.Stop())
	app.Dispose()

	assert.Equal(t, []string{
		EventTypeApplicationInstalled,
		EventTypeApplicationInitialized,
		EventTypeApplicationStarted,
		EventTypeApplicationStopped,
		EventTypeApplicationDisposed,
	}, obs.types())
}

func TestApplicationEmitsFailureEvent(t *testing.T) {
	root := t.TempDir()
	registry := NewObserverRegistry(&testLogger{})
	obs := &capturingObserver{id: "failures"}
	require.NoError(t, registry.RegisterObserver(obs, EventTypeApplicationFailed))

	app := NewApplication("ghost", root, WithEventSubject(registry))
	require.Error(t, app.Install())

	require.Len(t, obs.types(), 1)
	assert.Equal(t, EventTypeApplicationFailed, obs.types()[0])
}
