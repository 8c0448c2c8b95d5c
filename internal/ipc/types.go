package ipc

import (
	"time"

	"audiorouter/internal/daemon"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/state"
)

// ServiceName is the RPC receiver name.
const ServiceName = "AudioRouter"

// StatusRequest asks for daemon status.
type StatusRequest struct{}

// StatusResponse reports daemon state.
type StatusResponse struct {
	Running        bool              `json:"running"`
	State          string            `json:"state"`
	PID            int               `json:"pid"`
	StartedAt      time.Time         `json:"started_at"`
	Connected      bool              `json:"connected"`
	UdevMonitoring bool              `json:"udev_monitoring"`
	WatchingFile   bool              `json:"watching_file"`
	RoutingFile    string            `json:"routing_file"`
	RoutingError   string            `json:"routing_error,omitempty"`
	Buses          int               `json:"buses"`
	Rules          int               `json:"rules"`
	LastPass       *reconcile.Result `json:"last_pass,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	LockPath       string            `json:"lock_path"`
	StatePath      string            `json:"state_path,omitempty"`
}

// ApplyRequest asks for an immediate pass.
type ApplyRequest struct{}

// ApplyResponse carries the pass result. Error is set when the pass aborted.
type ApplyResponse struct {
	Result reconcile.Result `json:"result"`
	Error  string           `json:"error,omitempty"`
}

// BusesRequest asks for live bus state.
type BusesRequest struct{}

// BusesResponse lists managed buses.
type BusesResponse struct {
	Buses []reconcile.BusState `json:"buses"`
}

// StreamsRequest asks for live streams.
type StreamsRequest struct{}

// StreamsResponse lists streams with their matching rule.
type StreamsResponse struct {
	Streams []daemon.StreamInfo `json:"streams"`
}

// MoveStreamRequest moves one stream to a sink.
type MoveStreamRequest struct {
	StreamID uint32 `json:"stream_id"`
	Sink     string `json:"sink"`
}

// MoveStreamResponse acknowledges a move.
type MoveStreamResponse struct {
	Moved bool `json:"moved"`
}

// SetVolumeRequest sets a bus volume in percent.
type SetVolumeRequest struct {
	Bus    string `json:"bus"`
	Volume int    `json:"volume"`
}

// SetVolumeResponse acknowledges a volume change.
type SetVolumeResponse struct {
	Applied bool `json:"applied"`
}

// SetMuteRequest sets a bus mute flag.
type SetMuteRequest struct {
	Bus  string `json:"bus"`
	Mute bool   `json:"mute"`
}

// SetMuteResponse acknowledges a mute change.
type SetMuteResponse struct {
	Applied bool `json:"applied"`
}

// HistoryRequest asks for recent passes.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryResponse lists passes, newest first.
type HistoryResponse struct {
	Passes []state.PassRecord `json:"passes"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}
