// ABOUTME: Lifecycle state machine with startup grace, admission tracking and bounded drain
// ABOUTME: Signal handlers only flip state; a coordinator performs the drain and cleanup

package health

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// ErrDrainTimeout is returned by Drain when in-flight work outlived the cleanup window.
var ErrDrainTimeout = errors.New("drain timed out with requests still in flight")

// State is a lifecycle state.
type State int

const (
	StateStarting State = iota
	StateReady
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Manager.
type Options struct {
	DeploymentMode string
	Version        string
	StartupGrace   time.Duration
	CleanupWindow  time.Duration

	// Checks are the dependency checks reported by Readiness.
	Checks []Checker
	// StubChecks reports every dependency check as passing without running it.
	StubChecks bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the lifecycle state. All state reads and writes go through mu,
// so health responses never observe a torn state.
type Manager struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
	inflight  int
	idle      chan struct{} // closed when inflight reaches zero during drain
	observers []func(from, to State)
	cleanups  []func(context.Context) error

	shutdownCh chan struct{}
	done       chan struct{}
	drainOnce  sync.Once
	drainErr   error
}

// NewManager creates a Manager in the Starting state.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	return &Manager{
		opts:       opts,
		logger:     logger.With("component", "lifecycle"),
		now:        now,
		state:      StateStarting,
		startedAt:  now(),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start arms the startup grace timer. The manager becomes Ready when it
// fires, unless shutdown began first or ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	if m.opts.StartupGrace <= 0 {
		m.markReady()
		return
	}

	go func() {
		timer := time.NewTimer(m.opts.StartupGrace)
		defer timer.Stop()

		select {
		case <-timer.C:
			m.markReady()
		case <-ctx.Done():
		case <-m.shutdownCh:
		}
	}()
}

func (m *Manager) markReady() {
	m.mu.Lock()
	if m.state != StateStarting {
		m.mu.Unlock()
		return
	}
	notify := m.transitionLocked(StateReady)
	m.mu.Unlock()

	notify()
	m.logger.Info("server ready")
}

// OnTransition registers fn to be called after every state change.
func (m *Manager) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnCleanup registers fn to run once during Drain, after in-flight work settles.
// Hooks run in registration order.
func (m *Manager) OnCleanup(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, fn)
}

// transitionLocked changes state and returns a func that notifies observers.
// Must be called with mu held; the returned func must be called without it.
func (m *Manager) transitionLocked(to State) func() {
	from := m.state
	m.state = to
	observers := make([]func(from, to State), len(m.observers))
	copy(observers, m.observers)

	return func() {
		for _, fn := range observers {
			fn(from, to)
		}
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginShutdown flips the manager into ShuttingDown. It returns true for the
// call that performed the transition and false for every later call.
func (m *Manager) BeginShutdown(reason string) bool {
	m.mu.Lock()
	if m.state >= StateShuttingDown {
		m.mu.Unlock()
		m.logger.Debug("shutdown already in progress", "reason", reason)
		return false
	}
	notify := m.transitionLocked(StateShuttingDown)
	close(m.shutdownCh)
	m.mu.Unlock()

	notify()
	m.logger.Info("shutdown requested", "reason", reason)
	return true
}

// ShutdownRequested is closed once BeginShutdown has succeeded.
func (m *Manager) ShutdownRequested() <-chan struct{} {
	return m.shutdownCh
}

// Done is closed once Drain has finished and the manager is Stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Admit registers a unit of in-flight work. It returns false once shutdown
// has begun. The returned release func must be called exactly once; extra
// calls are ignored.
func (m *Manager) Admit() (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state >= StateShuttingDown {
		return nil, false
	}
	m.inflight++

	var once sync.Once
	return func() {
		once.Do(m.release)
	}, true
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inflight--
	if m.inflight == 0 && m.idle != nil {
		close(m.idle)
		m.idle = nil
	}
}

// InFlight returns the number of admitted, unreleased units of work.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

// Drain waits up to the cleanup window for in-flight work, runs the cleanup
// hooks and marks the manager Stopped. Shutdown is begun if it has not been
// already. Concurrent and repeated calls wait for the first one to finish and
// return its result.
func (m *Manager) Drain(ctx context.Context) error {
	m.BeginShutdown("drain")
	m.drainOnce.Do(func() {
		m.drainErr = m.drain(ctx)
	})
	<-m.done
	return m.drainErr
}

func (m *Manager) drain(ctx context.Context) error {
	m.mu.Lock()
	var idle chan struct{}
	if m.inflight > 0 {
		m.idle = make(chan struct{})
		idle = m.idle
	}
	cleanups := make([]func(context.Context) error, len(m.cleanups))
	copy(cleanups, m.cleanups)
	m.mu.Unlock()

	var errs []error
	if idle != nil {
		m.logger.Info("waiting for in-flight requests", "count", m.InFlight())
		timer := time.NewTimer(m.opts.CleanupWindow)
		select {
		case <-idle:
		case <-timer.C:
			m.logger.Warn("cleanup window elapsed", "in_flight", m.InFlight())
			errs = append(errs, ErrDrainTimeout)
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
		timer.Stop()
	}

	for _, fn := range cleanups {
		if err := fn(ctx); err != nil {
			m.logger.Error("cleanup failed", "error", err)
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	notify := m.transitionLocked(StateStopped)
	m.mu.Unlock()
	notify()
	close(m.done)

	m.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// WatchSignals begins shutdown when any of sigs is delivered. The returned
// func stops watching.
func (m *Manager) WatchSignals(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	ctx, cancel := context.WithCancel(context.Background())
	go m.watch(ctx, ch)

	return func() {
		signal.Stop(ch)
		cancel()
	}
}

// watch must stay cheap: it only flips state.
func (m *Manager) watch(ctx context.Context, ch <-chan os.Signal) {
	for {
		select {
		case sig := <-ch:
			m.BeginShutdown(sig.String())
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}
