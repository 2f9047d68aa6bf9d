package hotdeploy

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// DefaultWatchInterval is the default hot-redeploy poll interval.
const DefaultWatchInterval = 3000 * time.Millisecond

// WatchMode selects how the hot-redeploy monitor detects changes to the
// watched config resource.
type WatchMode int

const (
	// WatchModePoll compares the watched file's modification time on a fixed
	// schedule. The default.
	WatchModePoll WatchMode = iota

	// WatchModeNotify subscribes to filesystem change events instead of
	// polling.
	WatchModeNotify
)

// resourceWatcher detects change on one watched resource by comparing its
// last-modified time against the previously observed value.
type resourceWatcher struct {
	path     string
	onChange func()

	mu      sync.Mutex
	lastMod time.Time
}

func newResourceWatcher(path string, onChange func()) *resourceWatcher {
	w := &resourceWatcher{path: path, onChange: onChange}
	if fi, err := os.Stat(path); err == nil {
		w.lastMod = fi.ModTime()
	}
	return w
}

// check runs one poll cycle. A watched file that disappeared is not a
// change; undeploys are signalled through the anchor marker instead.
func (w *resourceWatcher) check() {
	fi, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := fi.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = fi.ModTime()
	}
	w.mu.Unlock()
	if changed {
		w.onChange()
	}
}

// pollSchedule fires at an exact fixed delay. cron's @every descriptor
// truncates delays to whole seconds and rounds anything shorter up to one
// second, which would silently break sub-second poll intervals, so the
// monitor submits its own schedule instead.
type pollSchedule struct {
	interval time.Duration
}

func (s pollSchedule) Next(t time.Time) time.Time { return t.Add(s.interval) }

// redeployMonitor drives a full redeploy cycle when the watched config
// resource changes. It is registered with the runtime context at init but
// schedules its watcher only on a ContextStarted signal, since polling a
// context that is still booting would trigger spurious reloads. On
// ContextStopping it tears the scheduler down and cancels its own
// subscription.
//
// The monitor holds exactly the handles it needs — the watcher, the
// scheduler, and its subscription — as explicit fields.
type redeployMonitor struct {
	app      *Application
	watcher  *resourceWatcher
	mode     WatchMode
	interval time.Duration
	logger   Logger

	// redeployMu serializes change handling: a change detected while a
	// previous redeploy is still running waits, it never overlaps or skips.
	redeployMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	fsw     *fsnotify.Watcher
	done    chan struct{}
	sub     Subscription
	stopped bool
}

func (a *Application) newRedeployMonitor(watchedPath string) (*redeployMonitor, error) {
	m := &redeployMonitor{
		app:      a,
		mode:     a.watchMode,
		interval: a.watchInterval,
		logger:   a.logger,
	}
	m.watcher = newResourceWatcher(watchedPath, m.onChange)
	a.logger.Info("Monitoring for hot-deployment", "app", a.name, "resource", watchedPath)
	return m, nil
}

// register subscribes the monitor to the runtime context's lifecycle signals.
func (m *redeployMonitor) register(rc RuntimeContext) {
	m.mu.Lock()
	m.sub = rc.Subscribe(m)
	m.mu.Unlock()
}

// OnContextSignal implements ContextListener.
func (m *redeployMonitor) OnContextSignal(signal ContextSignal) {
	switch signal {
	case ContextStarted:
		if err := m.schedule(); err != nil {
			m.logger.Error("Failed to schedule redeploy monitor",
				"app", m.app.Name(), "error", err)
		}
	case ContextStopping:
		// covers the edge case where startup was interrupted before the
		// watcher was ever scheduled
		m.shutdown()
		m.mu.Lock()
		sub := m.sub
		m.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
	}
}

// schedule creates a fresh single-purpose scheduler for this start cycle.
// Signal fan-out is asynchronous, so a Started signal can arrive after the
// Stopping one; once the monitor observed Stopping it stays disarmed.
func (m *redeployMonitor) schedule() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	switch m.mode {
	case WatchModeNotify:
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create fsnotify watcher: %w", err)
		}
		if err := fsw.Add(m.watcher.path); err != nil {
			fsw.Close()
			return fmt.Errorf("failed to watch %s: %w", m.watcher.path, err)
		}
		m.fsw = fsw
		m.done = make(chan struct{})
		go m.consumeEvents(fsw, m.done)
	default:
		c := cron.New()
		c.Schedule(pollSchedule{interval: m.interval}, cron.FuncJob(m.watcher.check))
		c.Start()
		m.cron = c
		m.logger.Info("Reload interval", "app", m.app.Name(), "interval", m.interval)
	}
	return nil
}

func (m *redeployMonitor) consumeEvents(fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.onChange()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Watch error", "app", m.app.Name(), "error", err)
		}
	}
}

// shutdown cancels future polls. An in-flight change handler runs to
// completion; only new scheduling stops.
func (m *redeployMonitor) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
	if m.fsw != nil {
		close(m.done)
		m.fsw.Close()
		m.fsw = nil
	}
}

// onChange runs one redeploy cycle. Invocations are mutually exclusive: a
// second detected change blocks until the first redeploy completes.
func (m *redeployMonitor) onChange() {
	m.redeployMu.Lock()
	defer m.redeployMu.Unlock()

	m.logger.Info("Reloading", "app", m.app.Name(), "resource", m.watcher.path)
	if err := m.app.Redeploy(); err != nil {
		m.logger.Error("Redeploy failed", "app", m.app.Name(), "error", err)
	}
}
