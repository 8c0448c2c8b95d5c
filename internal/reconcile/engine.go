package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"audiorouter/internal/logging"
	"audiorouter/internal/pulse"
	"audiorouter/internal/routing"
)

// Engine applies desired state to one server. All server access, including
// external commands run through Do, is serialized by a single mutex.
type Engine struct {
	mu     sync.Mutex
	server pulse.Server
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an Engine. prefix identifies managed sinks.
func New(server pulse.Server, prefix string, logger *slog.Logger) *Engine {
	return &Engine{
		server: server,
		prefix: prefix,
		logger: logging.NewComponentLogger(logger, "reconcile"),
		now:    time.Now,
	}
}

// Do runs fn with exclusive access to the server.
func (e *Engine) Do(ctx context.Context, fn func(context.Context, pulse.Server) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(ctx, e.server)
}

// Apply runs one reconciliation pass. It returns an error wrapping
// pulse.ErrServerUnavailable when the connection failed, and ctx.Err() when
// ctx was cancelled between phases; Result is populated in both cases with
// whatever the completed phases did.
func (e *Engine) Apply(ctx context.Context, desired routing.DesiredState, reason string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := Result{PassID: uuid.NewString(), Reason: reason, StartedAt: e.now()}
	ctx = logging.WithPassID(ctx, result.PassID)
	p := &pass{
		engine:  e,
		desired: desired,
		result:  &result,
		// Commands ignore cancellation so a phase always completes; each one
		// is still bounded by the adapter's command timeout.
		cmdCtx: context.WithoutCancel(ctx),
		logger: logging.WithContext(ctx, e.logger),
	}

	err := p.run(ctx)
	result.Duration = e.now().Sub(result.StartedAt)
	p.logOutcome(err)
	return result, err
}

type pass struct {
	engine  *Engine
	desired routing.DesiredState
	result  *Result
	cmdCtx  context.Context
	logger  *slog.Logger
}

func (p *pass) run(ctx context.Context) error {
	phases := []struct {
		name Phase
		fn   func() error
	}{
		{PhaseMaterialize, p.materialize},
		{PhaseRoute, p.route},
		{PhaseAssign, p.assign},
	}
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := phase.fn(); err != nil {
			return fmt.Errorf("%s phase: %w", phase.name, err)
		}
	}
	buses, err := p.busStates()
	if err != nil {
		return err
	}
	p.result.Buses = buses
	return nil
}

// fail records a command failure. It returns the error unchanged when the
// connection is gone so the caller aborts the pass.
func (p *pass) fail(phase Phase, target string, err error) error {
	if pulse.IsUnavailable(err) {
		return err
	}
	p.result.Rejected = append(p.result.Rejected, CommandFailure{Phase: phase, Target: target, Error: err.Error()})
	logging.WarnWithContext(p.logger, "command rejected; continuing pass", "command_rejected",
		logging.String("phase", string(phase)),
		logging.String("target", target),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "run `audiorouter debug` to inspect server state"),
	)
	return nil
}

func (p *pass) materialize() error {
	server := p.engine.server
	live, err := server.ListMaterializedSinks(p.cmdCtx)
	if err != nil {
		return err
	}
	liveByKey := make(map[string]pulse.Sink, len(live))
	for _, sink := range live {
		liveByKey[sink.Name] = sink
	}

	for _, sink := range live {
		if p.desired.HasBus(sink.Name) {
			continue
		}
		if err := server.RemoveVirtualSink(p.cmdCtx, sink.Name); err != nil {
			if err := p.fail(PhaseMaterialize, sink.Name, err); err != nil {
				return err
			}
			continue
		}
		p.result.SinksRemoved++
		p.logger.Info("bus removed", logging.String(logging.FieldBus, sink.Name))
	}

	for _, bus := range p.desired.Buses() {
		sink, exists := liveByKey[bus.Key]
		if !exists {
			if err := p.create(bus); err != nil {
				return err
			}
			continue
		}
		if sink.Description != pulse.SinkDescription(bus.Key, bus.Name) {
			if err := p.recreate(bus, sink); err != nil {
				return err
			}
			continue
		}
		if err := p.fixDrift(bus, sink); err != nil {
			return err
		}
	}
	return nil
}

func attrsFor(bus routing.Bus) pulse.SinkAttrs {
	return pulse.SinkAttrs{Name: bus.Name, Volume: bus.Volume, Mute: bus.Mute}
}

func (p *pass) create(bus routing.Bus) error {
	if err := p.engine.server.CreateVirtualSink(p.cmdCtx, bus.Key, attrsFor(bus)); err != nil {
		return p.fail(PhaseMaterialize, bus.Key, err)
	}
	p.result.SinksCreated++
	p.logger.Info("bus created", logging.String(logging.FieldBus, bus.Key), logging.String("name", bus.Name))
	return nil
}

// recreate handles a display-name change. Null sinks cannot be renamed live,
// so the sink is removed and created again; streams that fall back to the
// default sink are reassigned in the assign phase.
func (p *pass) recreate(bus routing.Bus, sink pulse.Sink) error {
	server := p.engine.server
	if err := server.RemoveVirtualSink(p.cmdCtx, bus.Key); err != nil {
		return p.fail(PhaseMaterialize, bus.Key, err)
	}
	if err := server.CreateVirtualSink(p.cmdCtx, bus.Key, attrsFor(bus)); err != nil {
		return p.fail(PhaseMaterialize, bus.Key, err)
	}
	p.result.AttributesChanged++
	p.logger.Info("bus recreated for name change",
		logging.String(logging.FieldBus, bus.Key),
		logging.String("old_name", sink.Description),
		logging.String("name", bus.Name),
	)
	return nil
}

func (p *pass) fixDrift(bus routing.Bus, sink pulse.Sink) error {
	var attrs pulse.SinkAttrs
	if bus.Volume != nil && *bus.Volume != sink.Volume {
		attrs.Volume = bus.Volume
	}
	if bus.Mute != nil && *bus.Mute != sink.Mute {
		attrs.Mute = bus.Mute
	}
	if attrs.Volume == nil && attrs.Mute == nil {
		return nil
	}
	if err := p.engine.server.SetSinkAttributes(p.cmdCtx, bus.Key, attrs); err != nil {
		return p.fail(PhaseMaterialize, bus.Key, err)
	}
	p.result.AttributesChanged++
	p.logger.Info("bus attributes reapplied", logging.String(logging.FieldBus, bus.Key))
	return nil
}

// physicalTargets lists the devices a bus may route to.
type physicalTargets struct {
	devices     map[string]bool
	order       []string
	defaultSink string
}

func (p *pass) targets() (physicalTargets, error) {
	server := p.engine.server
	devices, err := server.ListDevices(p.cmdCtx)
	if err != nil {
		return physicalTargets{}, err
	}
	def, err := server.DefaultSink(p.cmdCtx)
	if err != nil {
		return physicalTargets{}, err
	}
	t := physicalTargets{devices: make(map[string]bool, len(devices)), defaultSink: def}
	for _, d := range devices {
		if strings.HasPrefix(d.Name, p.engine.prefix) || strings.HasSuffix(d.Name, routing.MonitorSuffix) {
			continue
		}
		if !d.Available {
			p.logger.Debug("device skipped; no available port", logging.String(logging.FieldDevice, d.Name))
			continue
		}
		t.devices[d.Name] = true
		t.order = append(t.order, d.Name)
	}
	return t, nil
}

// resolve maps a configured device to a present, available physical sink.
// "default" prefers the server default unless that is a managed bus or
// unplugged.
func (t physicalTargets) resolve(device string) (string, bool) {
	if device == routing.DefaultDevice {
		if t.devices[t.defaultSink] {
			return t.defaultSink, true
		}
		if len(t.order) > 0 {
			return t.order[0], true
		}
		return "", false
	}
	return device, t.devices[device]
}

func (p *pass) route() error {
	server := p.engine.server
	targets, err := p.targets()
	if err != nil {
		return err
	}
	sinks, err := server.ListMaterializedSinks(p.cmdCtx)
	if err != nil {
		return err
	}
	materialized := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		materialized[s.Name] = true
	}
	routes, err := server.ListRoutes(p.cmdCtx)
	if err != nil {
		return err
	}
	routesByBus := make(map[string][]pulse.Route)
	for _, r := range routes {
		routesByBus[r.Bus] = append(routesByBus[r.Bus], r)
	}

	for _, bus := range p.desired.Buses() {
		if bus.Device == "" || !materialized[bus.Key] {
			continue
		}
		target, ok := targets.resolve(bus.Device)
		if !ok || target == bus.Key {
			p.result.Unresolved = append(p.result.Unresolved, UnresolvedReference{Kind: BusWithoutDevice, Bus: bus.Key, Device: bus.Device})
			if err := p.dropStaleRoutes(bus.Key, routesByBus[bus.Key]); err != nil {
				return err
			}
			p.logger.Info("bus left unrouted; device not present",
				logging.String(logging.FieldBus, bus.Key),
				logging.String(logging.FieldDevice, bus.Device),
				logging.String(logging.FieldEventType, "bus_unrouted"),
			)
			continue
		}
		current := routesByBus[bus.Key]
		if len(current) == 1 && current[0].Device == target {
			continue
		}
		if len(current) > 0 {
			if err := server.UnrouteSink(p.cmdCtx, bus.Key); err != nil {
				if err := p.fail(PhaseRoute, bus.Key, err); err != nil {
					return err
				}
				continue
			}
		}
		if err := server.RouteSinkToDevice(p.cmdCtx, bus.Key, target); err != nil {
			if err := p.fail(PhaseRoute, bus.Key, err); err != nil {
				return err
			}
			continue
		}
		p.result.RoutesChanged++
		p.logger.Info("bus routed",
			logging.String(logging.FieldBus, bus.Key),
			logging.String(logging.FieldDevice, target),
		)
	}
	return nil
}

// dropStaleRoutes removes loopbacks left on a device that is listed but no
// longer usable. Devices that vanish take their loopbacks with them.
func (p *pass) dropStaleRoutes(key string, current []pulse.Route) error {
	if len(current) == 0 {
		return nil
	}
	if err := p.engine.server.UnrouteSink(p.cmdCtx, key); err != nil {
		return p.fail(PhaseRoute, key, err)
	}
	p.result.RoutesChanged++
	p.logger.Info("bus unrouted; device unavailable",
		logging.String(logging.FieldBus, key),
		logging.String(logging.FieldDevice, current[0].Device),
	)
	return nil
}

func (p *pass) assign() error {
	server := p.engine.server
	sinks, err := server.ListMaterializedSinks(p.cmdCtx)
	if err != nil {
		return err
	}
	materialized := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		materialized[s.Name] = true
	}

	rules := p.desired.Rules()
	usable := make([]bool, len(rules))
	for i, rule := range rules {
		// Only buses this document declares are targets; a leftover sink
		// with the same name is about to be removed.
		usable[i] = materialized[rule.Bus] && p.desired.HasBus(rule.Bus)
		if !usable[i] {
			p.result.Unresolved = append(p.result.Unresolved, UnresolvedReference{Kind: RuleWithoutBus, Bus: rule.Bus, Rule: rule.String()})
		}
	}

	streams, err := server.ListStreams(p.cmdCtx)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if stream.Internal {
			continue
		}
		target, ok := matchRule(rules, usable, stream)
		if !ok || stream.Sink == target {
			continue
		}
		if err := server.MoveStreamToSink(p.cmdCtx, stream.ID, target); err != nil {
			if err := p.fail(PhaseAssign, fmt.Sprintf("stream %d", stream.ID), err); err != nil {
				return err
			}
			continue
		}
		p.result.StreamsMoved++
		p.logger.Info("stream assigned",
			logging.Int64(logging.FieldStreamID, int64(stream.ID)),
			logging.String("app", stream.Label()),
			logging.String(logging.FieldBus, target),
		)
	}
	return nil
}

// matchRule returns the bus of the first usable rule matching stream. Rules
// whose bus is not materialized count as no match.
func matchRule(rules []routing.Rule, usable []bool, stream pulse.Stream) (string, bool) {
	id := identity(stream)
	for i, rule := range rules {
		if usable[i] && rule.Matches(id) {
			return rule.Bus, true
		}
	}
	return "", false
}

func identity(stream pulse.Stream) routing.Identity {
	return routing.Identity{App: stream.App, Binary: stream.Binary, AppID: stream.AppID, Role: stream.Role}
}

func (p *pass) busStates() ([]BusState, error) {
	return liveBusStates(p.cmdCtx, p.engine.server)
}

func liveBusStates(ctx context.Context, server pulse.Server) ([]BusState, error) {
	sinks, err := server.ListMaterializedSinks(ctx)
	if err != nil {
		return nil, err
	}
	routes, err := server.ListRoutes(ctx)
	if err != nil {
		return nil, err
	}
	routed := make(map[string]string, len(routes))
	for _, r := range routes {
		routed[r.Bus] = r.Device
	}
	states := make([]BusState, 0, len(sinks))
	for _, s := range sinks {
		states = append(states, BusState{Key: s.Name, Name: s.Description, RoutedTo: routed[s.Name], Volume: s.Volume, Mute: s.Mute})
	}
	return states, nil
}

// Buses reports the live managed buses without changing anything.
func (e *Engine) Buses(ctx context.Context) ([]BusState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return liveBusStates(ctx, e.server)
}

func (p *pass) logOutcome(err error) {
	r := p.result
	attrs := []logging.Attr{
		logging.String(logging.FieldReason, r.Reason),
		logging.Duration("duration", r.Duration),
		logging.Int("sinks_created", r.SinksCreated),
		logging.Int("sinks_removed", r.SinksRemoved),
		logging.Int("attributes_changed", r.AttributesChanged),
		logging.Int("routes_changed", r.RoutesChanged),
		logging.Int("streams_moved", r.StreamsMoved),
		logging.Int("unresolved", len(r.Unresolved)),
		logging.Int("rejected", len(r.Rejected)),
	}
	switch {
	case err == nil && r.Changes() == 0 && len(r.Rejected) == 0:
		p.logger.Debug("pass converged; nothing to do", logging.Args(attrs...)...)
	case err == nil:
		p.logger.Info("pass complete", logging.Args(attrs...)...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		p.logger.Info("pass stopped between phases", logging.Args(append(attrs, logging.Error(err))...)...)
	default:
		logging.ErrorWithContext(p.logger, "pass aborted", "pass_aborted",
			append(attrs,
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that PipeWire or PulseAudio is running"),
			)...,
		)
	}
}
