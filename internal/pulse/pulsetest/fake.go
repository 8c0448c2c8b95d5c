// Package pulsetest provides an in-memory pulse.Server for tests.
package pulsetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"audiorouter/internal/pulse"
)

// Mutating operation names recorded in Commands.
const (
	OpCreate   = "create"
	OpRemove   = "remove"
	OpSetAttrs = "set-attrs"
	OpRoute    = "route"
	OpUnroute  = "unroute"
	OpMove     = "move"
)

// Command is one mutating call the fake received.
type Command struct {
	Op     string
	Target string
	Arg    string
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Op + " " + c.Target
	}
	return c.Op + " " + c.Target + " " + c.Arg
}

// Server is a goroutine-safe fake sound server. The zero value is not usable;
// call New.
type Server struct {
	mu          sync.Mutex
	devices     []pulse.Device
	defaultSink string
	sinks       []pulse.Sink
	routes      []pulse.Route
	streams     []pulse.Stream
	commands    []Command
	failures    map[string]error
	unavailable bool
	subs        []*subscription
	subscribes  int
	nextIndex   uint32
}

var _ pulse.Server = (*Server)(nil)

// New returns an empty fake server.
func New() *Server {
	return &Server{failures: make(map[string]error), nextIndex: 100}
}

func (s *Server) index() uint32 {
	s.nextIndex++
	return s.nextIndex
}

// AddDevice plugs in a physical sink. The first device becomes the default.
func (s *Server) AddDevice(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, pulse.Device{Index: s.index(), Name: name, Description: name, Available: true})
	if s.defaultSink == "" {
		s.defaultSink = name
	}
}

// SetDeviceAvailable marks a listed device as plugged (true) or as reporting
// no available port (false). Loopbacks to it are kept, as a real server does.
func (s *Server) SetDeviceAvailable(name string, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.devices {
		if s.devices[i].Name == name {
			s.devices[i].Available = available
		}
	}
}

// RemoveDevice unplugs a physical sink and drops loopbacks pointing at it.
func (s *Server) RemoveDevice(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = slices.DeleteFunc(s.devices, func(d pulse.Device) bool { return d.Name == name })
	s.routes = slices.DeleteFunc(s.routes, func(r pulse.Route) bool { return r.Device == name })
	if s.defaultSink == name {
		s.defaultSink = ""
		if len(s.devices) > 0 {
			s.defaultSink = s.devices[0].Name
		}
	}
}

// SetDefaultSink changes the server default.
func (s *Server) SetDefaultSink(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultSink = name
}

// AddSink seeds a managed sink as if created earlier.
func (s *Server) AddSink(sink pulse.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink.Index == 0 {
		sink.Index = s.index()
	}
	s.sinks = append(s.sinks, sink)
}

// AddRoute seeds a loopback.
func (s *Server) AddRoute(bus, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, pulse.Route{Bus: bus, Device: device, ModuleID: s.index()})
}

// AddStream starts a playback stream and returns its id. An empty Sink lands
// on the default sink.
func (s *Server) AddStream(stream pulse.Stream) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream.ID == 0 {
		stream.ID = s.index()
	}
	if stream.Sink == "" {
		stream.Sink = s.defaultSink
	}
	s.streams = append(s.streams, stream)
	return stream.ID
}

// RemoveStream ends a playback stream.
func (s *Server) RemoveStream(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = slices.DeleteFunc(s.streams, func(st pulse.Stream) bool { return st.ID == id })
}

// Stream returns the current state of one stream.
func (s *Server) Stream(id uint32) (pulse.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		if st.ID == id {
			return st, true
		}
	}
	return pulse.Stream{}, false
}

// Sink returns a managed sink by name.
func (s *Server) Sink(name string) (pulse.Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.sinks {
		if sink.Name == name {
			return sink, true
		}
	}
	return pulse.Sink{}, false
}

// Routes returns a copy of the live loopbacks.
func (s *Server) Routes() []pulse.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.routes)
}

// Commands returns the mutating calls received so far.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.commands)
}

// ResetCommands clears the command log.
func (s *Server) ResetCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

// FailOn makes the next and every later op against target fail with err.
// A nil err clears the failure.
func (s *Server) FailOn(op, target string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op+":"+target)
		return
	}
	s.failures[op+":"+target] = err
}

// SetUnavailable simulates the server going away (or coming back).
func (s *Server) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// SubscribeCalls reports how many times Subscribe succeeded.
func (s *Server) SubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes
}

func (s *Server) check(operation string) error {
	if s.unavailable {
		return pulse.Wrap(pulse.ErrServerUnavailable, operation, "connection refused", nil)
	}
	return nil
}

// record logs a mutating command and returns the injected failure, if any.
func (s *Server) record(op, target, arg string) error {
	if err := s.check(op); err != nil {
		return err
	}
	s.commands = append(s.commands, Command{Op: op, Target: target, Arg: arg})
	if err, ok := s.failures[op+":"+target]; ok {
		return err
	}
	return nil
}

func (s *Server) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check("info")
}

func (s *Server) DefaultSink(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get-default-sink"); err != nil {
		return "", err
	}
	return s.defaultSink, nil
}

func (s *Server) ListDevices(context.Context) ([]pulse.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list devices"); err != nil {
		return nil, err
	}
	return slices.Clone(s.devices), nil
}

func (s *Server) ListMaterializedSinks(context.Context) ([]pulse.Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list sinks"); err != nil {
		return nil, err
	}
	return slices.Clone(s.sinks), nil
}

func (s *Server) ListStreams(context.Context) ([]pulse.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list streams"); err != nil {
		return nil, err
	}
	return slices.Clone(s.streams), nil
}

func (s *Server) ListRoutes(context.Context) ([]pulse.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list routes"); err != nil {
		return nil, err
	}
	return slices.Clone(s.routes), nil
}

func (s *Server) sinkIndex(key string) int {
	return slices.IndexFunc(s.sinks, func(sink pulse.Sink) bool { return sink.Name == key })
}

func (s *Server) hasDevice(name string) bool {
	return slices.ContainsFunc(s.devices, func(d pulse.Device) bool { return d.Name == name })
}

func (s *Server) CreateVirtualSink(_ context.Context, key string, attrs pulse.SinkAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpCreate, key, attrs.Name); err != nil {
		return err
	}
	if s.sinkIndex(key) >= 0 || s.hasDevice(key) {
		return pulse.Wrap(pulse.ErrCommandRejected, "create sink "+key, "name already exists", nil)
	}
	sink := pulse.Sink{Index: s.index(), Name: key, Description: pulse.SinkDescription(key, attrs.Name), ModuleID: s.index(), Volume: 100}
	if attrs.Volume != nil {
		sink.Volume = *attrs.Volume
	}
	if attrs.Mute != nil {
		sink.Mute = *attrs.Mute
	}
	s.sinks = append(s.sinks, sink)
	return nil
}

func (s *Server) RemoveVirtualSink(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpRemove, key, ""); err != nil {
		return err
	}
	idx := s.sinkIndex(key)
	if idx < 0 {
		return pulse.Wrap(pulse.ErrCommandRejected, "remove sink "+key, "no such sink", nil)
	}
	s.sinks = slices.Delete(s.sinks, idx, idx+1)
	s.routes = slices.DeleteFunc(s.routes, func(r pulse.Route) bool { return r.Bus == key })
	for i := range s.streams {
		if s.streams[i].Sink == key {
			s.streams[i].Sink = s.defaultSink
		}
	}
	return nil
}

func (s *Server) SetSinkAttributes(_ context.Context, key string, attrs pulse.SinkAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arg := ""
	if attrs.Volume != nil {
		arg += fmt.Sprintf("volume=%d", *attrs.Volume)
	}
	if attrs.Mute != nil {
		if arg != "" {
			arg += " "
		}
		arg += fmt.Sprintf("mute=%t", *attrs.Mute)
	}
	if err := s.record(OpSetAttrs, key, arg); err != nil {
		return err
	}
	idx := s.sinkIndex(key)
	if idx < 0 {
		return pulse.Wrap(pulse.ErrCommandRejected, "set attributes "+key, "no such sink", nil)
	}
	if attrs.Volume != nil {
		s.sinks[idx].Volume = *attrs.Volume
	}
	if attrs.Mute != nil {
		s.sinks[idx].Mute = *attrs.Mute
	}
	return nil
}

func (s *Server) RouteSinkToDevice(_ context.Context, key, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpRoute, key, device); err != nil {
		return err
	}
	if s.sinkIndex(key) < 0 || !s.hasDevice(device) {
		return pulse.Wrap(pulse.ErrCommandRejected, "route "+key, "no such source or sink", nil)
	}
	s.routes = append(s.routes, pulse.Route{Bus: key, Device: device, ModuleID: s.index()})
	return nil
}

func (s *Server) UnrouteSink(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUnroute, key, ""); err != nil {
		return err
	}
	s.routes = slices.DeleteFunc(s.routes, func(r pulse.Route) bool { return r.Bus == key })
	return nil
}

func (s *Server) MoveStreamToSink(_ context.Context, streamID uint32, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpMove, fmt.Sprint(streamID), key); err != nil {
		return err
	}
	if s.sinkIndex(key) < 0 && !s.hasDevice(key) {
		return pulse.Wrap(pulse.ErrCommandRejected, "move stream", "no such sink", nil)
	}
	for i := range s.streams {
		if s.streams[i].ID == streamID {
			s.streams[i].Sink = key
			return nil
		}
	}
	return pulse.Wrap(pulse.ErrCommandRejected, "move stream", "no such sink input", nil)
}

// Subscribe opens a fake event stream fed by Emit.
func (s *Server) Subscribe(context.Context) (pulse.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("subscribe"); err != nil {
		return nil, err
	}
	sub := &subscription{events: make(chan pulse.ChangeEvent, 64)}
	s.subs = append(s.subs, sub)
	s.subscribes++
	return sub, nil
}

// Emit delivers an event to every open subscription.
func (s *Server) Emit(event pulse.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		sub.send(event)
	}
}

// DropSubscriptions ends every open subscription as a lost connection would.
func (s *Server) DropSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.end(pulse.Wrap(pulse.ErrServerUnavailable, "subscribe", "connection terminated", nil))
	}
}

type subscription struct {
	mu     sync.Mutex
	events chan pulse.ChangeEvent
	closed bool
	err    error
}

func (s *subscription) Events() <-chan pulse.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

func (s *subscription) send(event pulse.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

func (s *subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}
