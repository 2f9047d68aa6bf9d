package hotdeploy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// testLogger collects log output for assertions while keeping tests quiet.
type testLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

func (l *testLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

// newTestRoot lays out an installation root with one application directory
// holding a single config resource.
func newTestRoot(t *testing.T, appName string) string {
	t.Helper()
	root := t.TempDir()
	appDir := filepath.Join(root, "apps", appName)
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(appDir, DefaultConfigResource), "greeting = hello\n")
	return root
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// touchFuture advances a file's modification time past any previously
// observed value.
func touchFuture(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}
}

// mockRuntimeContext is a controllable runtime context for lifecycle tests.
type mockRuntimeContext struct {
	ContextNotifier

	startErr error
	stopErr  error

	mu         sync.Mutex
	started    bool
	disposed   bool
	stopCalls  int
	startCalls int
}

func (m *mockRuntimeContext) Start() error {
	m.mu.Lock()
	m.startCalls++
	m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	m.Notify(ContextStarted)
	return nil
}

func (m *mockRuntimeContext) Stop() error {
	m.mu.Lock()
	m.stopCalls++
	m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.Notify(ContextStopping)
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

func (m *mockRuntimeContext) Dispose() {
	m.mu.Lock()
	m.started = false
	m.disposed = true
	m.mu.Unlock()
}

func (m *mockRuntimeContext) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *mockRuntimeContext) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// mockContextFactory hands out mockRuntimeContexts and records every call.
type mockContextFactory struct {
	createErr error
	startErr  error
	stopErr   error
	delay     time.Duration

	mu       sync.Mutex
	inFlight int
	overlap  bool
	created  []*mockRuntimeContext
}

func (f *mockContextFactory) CreateContext(builders []ConfigurationBuilder, env *BuildEnvironment) (RuntimeContext, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, b := range builders {
		if err := b.Configure(env); err != nil {
			return nil, err
		}
	}
	rc := &mockRuntimeContext{startErr: f.startErr, stopErr: f.stopErr}
	f.mu.Lock()
	f.created = append(f.created, rc)
	f.mu.Unlock()
	return rc, nil
}

func (f *mockContextFactory) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *mockContextFactory) lastContext() *mockRuntimeContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// countedBoundary tracks construction and close counts so tests can verify
// that redeploy leaks no boundary handles.
type countedBoundary struct {
	appName string
	counter *boundaryCounter

	mu     sync.Mutex
	closed bool
}

type boundaryCounter struct {
	mu          sync.Mutex
	constructed int
	closedCount int
}

func (c *boundaryCounter) snapshot() (constructed, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.constructed, c.closedCount
}

func (b *countedBoundary) AppName() string           { return b.appName }
func (b *countedBoundary) HasCapability(string) bool { return false }

func (b *countedBoundary) Resolve(string) (string, error) {
	return "", errors.New("counted boundary resolves nothing")
}
func (b *countedBoundary) Open(string) (io.ReadCloser, error) {
	return nil, errors.New("counted boundary opens nothing")
}

func (b *countedBoundary) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.counter.mu.Lock()
	b.counter.closedCount++
	b.counter.mu.Unlock()
	return nil
}

type countedBoundaryProvider struct {
	counter *boundaryCounter
}

func (p *countedBoundaryProvider) AppBoundary(appName, _ string) (ApplicationBoundary, error) {
	p.counter.mu.Lock()
	p.counter.constructed++
	p.counter.mu.Unlock()
	return &countedBoundary{appName: appName, counter: p.counter}, nil
}

// staticDescriptorResolver serves one fixed descriptor.
type staticDescriptorResolver struct {
	descriptor *ApplicationDescriptor
	err        error
}

func (r *staticDescriptorResolver) Resolve(string) (*ApplicationDescriptor, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.descriptor, nil
}

// eventually polls a condition until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
