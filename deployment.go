package hotdeploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DeploymentService hosts applications found under the installation root. It
// deploys every application directory at startup, exposes explicit
// deploy/undeploy/redeploy operations, and watches for anchor marker removal,
// which is the external signal to undeploy an application cleanly.
type DeploymentService struct {
	paths      *PathResolver
	logger     Logger
	events     Subject
	appOptions []ApplicationOption

	mu   sync.Mutex
	apps map[string]*Application

	anchors    *fsnotify.Watcher
	anchorDone chan struct{}
}

// DeploymentOption configures a DeploymentService.
type DeploymentOption func(*DeploymentService)

// WithDeploymentLogger sets the service logger.
func WithDeploymentLogger(logger Logger) DeploymentOption {
	return func(s *DeploymentService) { s.logger = logger }
}

// WithDeploymentEvents sets the subject deployment events are emitted through.
// The subject is also handed to every application the service creates.
func WithDeploymentEvents(subject Subject) DeploymentOption {
	return func(s *DeploymentService) { s.events = subject }
}

// WithApplicationOptions appends options applied to every application the
// service creates, e.g. a custom context factory.
func WithApplicationOptions(opts ...ApplicationOption) DeploymentOption {
	return func(s *DeploymentService) { s.appOptions = append(s.appOptions, opts...) }
}

// NewDeploymentService creates a service over the given installation root.
func NewDeploymentService(root string, opts ...DeploymentOption) *DeploymentService {
	s := &DeploymentService{
		paths:  NewPathResolver(root),
		logger: noopLogger{},
		apps:   make(map[string]*Application),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start deploys every application directory under the root and begins
// watching for anchor marker removal.
func (s *DeploymentService) Start() error {
	names, err := s.scanApps()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Deploy(name); err != nil {
			// one bad app must never take down the host or its neighbours
			s.logger.Error("Failed to deploy app", "app", name, "error", err)
		}
	}
	return s.watchAnchors()
}

// Stop tears down the anchor watcher and disposes every deployed application.
func (s *DeploymentService) Stop() {
	s.mu.Lock()
	if s.anchors != nil {
		close(s.anchorDone)
		s.anchors.Close()
		s.anchors = nil
	}
	apps := make([]*Application, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	s.apps = make(map[string]*Application)
	s.mu.Unlock()

	for _, app := range apps {
		if err := app.Stop(); err != nil {
			s.logger.Error("Failed to stop app", "app", app.Name(), "error", err)
		}
		app.Dispose()
	}
}

// Deploy installs, initializes, and starts one application. A failure at any
// stage disposes the partial deployment and surfaces the stage's error.
func (s *DeploymentService) Deploy(name string) error {
	s.mu.Lock()
	if _, exists := s.apps[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: '%s'", ErrApplicationDeployed, name)
	}
	s.mu.Unlock()

	opts := make([]ApplicationOption, 0, len(s.appOptions)+2)
	opts = append(opts, WithLogger(s.logger))
	if s.events != nil {
		opts = append(opts, WithEventSubject(s.events))
	}
	opts = append(opts, s.appOptions...)
	app := NewApplication(name, s.paths.Root(), opts...)

	if err := s.runDeployment(app); err != nil {
		app.Dispose()
		return err
	}

	s.mu.Lock()
	s.apps[name] = app
	s.mu.Unlock()

	s.emit(EventTypeDeploymentDeployed, name)
	return nil
}

func (s *DeploymentService) runDeployment(app *Application) error {
	if err := app.Install(); err != nil {
		return err
	}
	if err := app.Init(); err != nil {
		return err
	}
	return app.Start()
}

// Undeploy stops and disposes one application, removes its anchor marker,
// and unregisters it.
func (s *DeploymentService) Undeploy(name string) error {
	s.mu.Lock()
	app, ok := s.apps[name]
	if ok {
		delete(s.apps, name)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrApplicationNotDeployed, name)
	}

	if err := app.Stop(); err != nil {
		s.logger.Error("Failed to stop app during undeploy", "app", name, "error", err)
	}
	app.Dispose()
	if err := removeAnchor(s.paths.AnchorPath(name)); err != nil {
		s.logger.Warn("Failed to remove anchor file", "app", name, "error", err)
	}

	s.emit(EventTypeDeploymentUndeployed, name)
	return nil
}

// Redeploy runs a full redeploy cycle on one deployed application.
func (s *DeploymentService) Redeploy(name string) error {
	app, ok := s.Application(name)
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrApplicationNotDeployed, name)
	}
	return app.Redeploy()
}

// Application returns a deployed application by name.
func (s *DeploymentService) Application(name string) (*Application, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[name]
	return app, ok
}

// Applications returns the names of all deployed applications, sorted.
func (s *DeploymentService) Applications() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.apps))
	for name := range s.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *DeploymentService) scanApps() ([]string, error) {
	entries, err := os.ReadDir(s.paths.AppsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan apps directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// watchAnchors watches the apps directory for anchor file deletion. Deleting
// an app's anchor while the host runs undeploys the app cleanly.
func (s *DeploymentService) watchAnchors() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create anchor watcher: %w", err)
	}
	if err := os.MkdirAll(s.paths.AppsDir(), 0o755); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to create apps directory: %w", err)
	}
	if err := fsw.Add(s.paths.AppsDir()); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch apps directory: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.anchors = fsw
	s.anchorDone = done
	s.mu.Unlock()

	go s.consumeAnchorEvents(fsw, done)
	return nil
}

func (s *DeploymentService) consumeAnchorEvents(fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove == 0 {
				continue
			}
			name, isAnchor := anchorAppName(filepath.Base(event.Name))
			if !isAnchor {
				continue
			}
			s.mu.Lock()
			_, deployed := s.apps[name]
			s.mu.Unlock()
			if !deployed {
				// the undeploy path removes the anchor itself; ignore the echo
				continue
			}
			s.logger.Info("Anchor removed, undeploying app", "app", name)
			if err := s.Undeploy(name); err != nil {
				s.logger.Error("Failed to undeploy app", "app", name, "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Anchor watch error", "error", err)
		}
	}
}

func anchorAppName(fileName string) (string, bool) {
	const suffix = "-anchor.txt"
	if !strings.HasSuffix(fileName, suffix) {
		return "", false
	}
	return strings.TrimSuffix(fileName, suffix), true
}

func (s *DeploymentService) emit(eventType, appName string) {
	if s.events == nil {
		return
	}
	event := NewCloudEvent(eventType, "deployment-service", map[string]any{"app": appName})
	if err := s.events.NotifyObservers(context.Background(), event); err != nil {
		s.logger.Debug("Failed to emit event", "eventType", eventType, "error", err)
	}
}
