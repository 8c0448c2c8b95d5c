package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"audiorouter/internal/config"
	"audiorouter/internal/instance"
	"audiorouter/internal/logging"
	"audiorouter/internal/notifications"
	"audiorouter/internal/pulse"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/routing"
	"audiorouter/internal/state"
)

// State is the loop's position in its state machine.
type State string

const (
	StateStarting     State = "starting"
	StateConverging   State = "converging"
	StateIdle         State = "idle"
	StateDebouncing   State = "debouncing"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Trigger sources.
const (
	SourceStartup     = "startup"
	SourceServerEvent = "server_event"
	SourceDevice      = "device_hotplug"
	SourceRoutingFile = "routing_file"
	SourceReconnect   = "reconnect"
	SourceControl     = "control"
)

// Trigger asks the loop for a pass.
type Trigger struct {
	Source string
	Detail string
}

const triggerBuffer = 64

// Daemon coordinates the routing loop and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	server   pulse.Server
	engine   *reconcile.Engine
	store    *state.Store
	notifier notifications.Service
	guard    *instance.Guard
	loadDoc  func() (routing.DesiredState, error)

	limiter    *rate.Limiter
	newBackOff func() backoff.BackOff
	debounce   time.Duration

	triggers chan Trigger
	requests chan applyRequest

	mu        sync.RWMutex
	state     State
	desired   routing.DesiredState
	overrides map[string]override
	published []reconcile.BusState
	docErr    string
	last      *reconcile.Result
	lastErr   string
	startedAt time.Time

	connected   atomic.Bool
	udevActive  atomic.Bool
	watchActive atomic.Bool
	running     atomic.Bool

	stop     context.CancelFunc
	stopMu   sync.Mutex
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithStore persists snapshots and pass history.
func WithStore(store *state.Store) Option {
	return func(d *Daemon) { d.store = store }
}

// WithNotifier publishes bus value changes after each pass.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithGuard makes Run hold the single-instance lock.
func WithGuard(g *instance.Guard) Option {
	return func(d *Daemon) { d.guard = g }
}

// WithRoutingLoader replaces reading cfg.Paths.RoutingFile.
func WithRoutingLoader(fn func() (routing.DesiredState, error)) Option {
	return func(d *Daemon) {
		if fn != nil {
			d.loadDoc = fn
		}
	}
}

// New constructs a daemon around server.
func New(cfg *config.Config, server pulse.Server, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || server == nil {
		return nil, errors.New("daemon requires config and audio server")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		server:    server,
		engine:    reconcile.New(server, cfg.Pulse.ManagedPrefix, logger),
		notifier:  notifications.NewService(nil),
		debounce:  cfg.DebounceInterval(),
		triggers:  make(chan Trigger, triggerBuffer),
		requests:  make(chan applyRequest),
		state:     StateStopped,
		overrides: make(map[string]override),
	}
	d.loadDoc = func() (routing.DesiredState, error) {
		return routing.Load(cfg.Paths.RoutingFile, cfg.Pulse.ManagedPrefix)
	}
	d.limiter = newLimiter(cfg.Daemon.MaxPassesPerSecond)
	d.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.ReconnectInitial()
		b.MaxInterval = cfg.ReconnectMax()
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.Reset()
		return b
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Engine exposes the reconciliation engine for control operations.
func (d *Daemon) Engine() *reconcile.Engine {
	return d.engine
}

// Run acquires the instance lock, converges once, and serves triggers until
// ctx is cancelled or Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	if d.guard != nil {
		if err := d.guard.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := d.guard.Release(); err != nil {
				logging.WarnWithContext(d.logger, "failed to release instance lock", "lock_release_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "remove "+d.guard.LockPath()+" if no daemon is running"),
				)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.stopMu.Lock()
	d.stop = cancel
	d.stopMu.Unlock()
	defer cancel()

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.setState(StateStarting)
	defer d.setState(StateStopped)

	desired, err := d.loadDoc()
	if err != nil {
		return fmt.Errorf("load routing document: %w", err)
	}
	d.setDesired(desired, nil)

	d.logger.Info("audiorouter daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int("pid", os.Getpid()),
		logging.Int("buses", len(desired.Buses())),
		logging.Int("rules", len(desired.Rules())),
		logging.String("routing_file", d.cfg.Paths.RoutingFile),
	)

	d.connected.Store(d.waitForServer(runCtx))

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return d.watchServer(groupCtx) })
	if d.cfg.Daemon.UdevMonitor {
		monitor := newNetlinkMonitor(d.logger, d.Trigger, &d.udevActive)
		group.Go(func() error { return monitor.Run(groupCtx) })
	}
	if d.cfg.Daemon.WatchRoutingFile {
		watcher := newRoutingWatcher(d.cfg.Paths.RoutingFile, d.logger, d.Trigger)
		group.Go(func() error { return watcher.Run(groupCtx, &d.watchActive) })
	}
	group.Go(func() error { return d.loop(groupCtx) })

	err = group.Wait()
	d.logger.Info("audiorouter daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop asks Run to return. In-flight passes finish their current phase.
func (d *Daemon) Stop() {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()
	if d.stop != nil {
		d.stop()
	}
}

// waitForServer pings until the server answers or the startup wait elapses.
func (d *Daemon) waitForServer(ctx context.Context) bool {
	deadline := time.Now().Add(d.cfg.StartupWait())
	for {
		err := d.server.Ping(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			logging.WarnWithContext(d.logger, "audio server not reachable at startup; will keep retrying", "server_wait_timeout",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "start PipeWire (pipewire-pulse) or PulseAudio"),
				logging.String(logging.FieldImpact, "routing is applied once the server appears"),
			)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Trigger queues a pass request. It never blocks: when the queue is full a
// pass is already pending and will observe the same live state.
func (d *Daemon) Trigger(t Trigger) {
	select {
	case d.triggers <- t:
	default:
		d.logger.Debug("trigger queue full; coalescing", logging.String("source", t.Source))
	}
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	if prev != s {
		d.logger.Debug("daemon state changed",
			logging.String(logging.FieldState, string(s)),
			logging.String("previous", string(prev)),
		)
	}
}

// State returns the current loop state.
func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// restingState is Idle when subscribed, Reconnecting otherwise.
func (d *Daemon) restingState() State {
	if d.connected.Load() {
		return StateIdle
	}
	return StateReconnecting
}

func (d *Daemon) setDesired(desired routing.DesiredState, loadErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if loadErr != nil {
		d.docErr = loadErr.Error()
		return
	}
	d.desired = desired
	d.docErr = ""
	clear(d.overrides)
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running        bool
	State          State
	PID            int
	StartedAt      time.Time
	Connected      bool
	UdevMonitoring bool
	WatchingFile   bool
	RoutingFile    string
	RoutingError   string
	Buses          int
	Rules          int
	LastPass       *reconcile.Result
	LastError      string
	LockPath       string
	StatePath      string
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Status{
		Running:        d.running.Load(),
		State:          d.state,
		PID:            os.Getpid(),
		StartedAt:      d.startedAt,
		Connected:      d.connected.Load(),
		UdevMonitoring: d.udevActive.Load(),
		WatchingFile:   d.watchActive.Load(),
		RoutingFile:    d.cfg.Paths.RoutingFile,
		RoutingError:   d.docErr,
		Buses:          len(d.desired.Buses()),
		Rules:          len(d.desired.Rules()),
		LastError:      d.lastErr,
		LockPath:       d.cfg.LockPath(),
	}
	if d.store != nil {
		st.StatePath = d.store.Path()
	}
	if d.last != nil {
		last := *d.last
		st.LastPass = &last
	}
	return st
}
