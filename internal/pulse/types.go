package pulse

import (
	"context"
	"fmt"
)

// Device is a physical output sink.
type Device struct {
	Index       uint32
	Name        string
	Description string
	Available   bool
}

// Sink is a materialized virtual sink owned by audiorouter.
type Sink struct {
	Index       uint32
	Name        string
	Description string
	ModuleID    uint32
	Volume      int
	Mute        bool
}

// Stream is a live application playback stream (a sink input).
type Stream struct {
	ID     uint32
	Sink   string
	App    string
	Binary string
	AppID  string
	Role   string
	// Internal streams belong to loopback modules and are never reassigned.
	Internal bool
}

// Label returns the most descriptive identity the stream reports.
func (s Stream) Label() string {
	switch {
	case s.App != "":
		return s.App
	case s.Binary != "":
		return s.Binary
	case s.AppID != "":
		return s.AppID
	default:
		return fmt.Sprintf("#%d", s.ID)
	}
}

// Route links a bus monitor to a playback device through a loopback module.
type Route struct {
	Bus      string
	Device   string
	ModuleID uint32
}

// SinkAttrs are the mutable attributes of a virtual sink. Nil pointers leave
// the live value untouched.
type SinkAttrs struct {
	Name   string
	Volume *int
	Mute   *bool
}

// EventKind classifies a change notification.
type EventKind string

const (
	DeviceAdded         EventKind = "device_added"
	DeviceRemoved       EventKind = "device_removed"
	StreamAdded         EventKind = "stream_added"
	StreamRemoved       EventKind = "stream_removed"
	SinkPropertyChanged EventKind = "sink_changed"
	ServerChanged       EventKind = "server_changed"
	ModuleRemoved       EventKind = "module_removed"
)

// ChangeEvent is one notification from the server's subscription stream.
type ChangeEvent struct {
	Kind     EventKind
	Facility string
	Index    uint32
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s#%d", e.Kind, e.Facility, e.Index)
}

// Subscription delivers change events until the connection drops or Close is
// called. Events is closed when the stream ends; Err then reports why (nil
// after Close).
type Subscription interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// Server is the capability surface the engine and daemon need.
type Server interface {
	Ping(ctx context.Context) error
	DefaultSink(ctx context.Context) (string, error)
	ListDevices(ctx context.Context) ([]Device, error)
	ListMaterializedSinks(ctx context.Context) ([]Sink, error)
	ListStreams(ctx context.Context) ([]Stream, error)
	ListRoutes(ctx context.Context) ([]Route, error)

	CreateVirtualSink(ctx context.Context, key string, attrs SinkAttrs) error
	RemoveVirtualSink(ctx context.Context, key string) error
	SetSinkAttributes(ctx context.Context, key string, attrs SinkAttrs) error
	RouteSinkToDevice(ctx context.Context, key, device string) error
	UnrouteSink(ctx context.Context, key string) error
	MoveStreamToSink(ctx context.Context, streamID uint32, key string) error

	Subscribe(ctx context.Context) (Subscription, error)
}
