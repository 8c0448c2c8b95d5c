package daemon

import (
	"context"
	"errors"
	"fmt"

	"audiorouter/internal/logging"
	"audiorouter/internal/pulse"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/routing"
	"audiorouter/internal/state"
)

var (
	// ErrUnknownBus reports a bus key absent from the routing document.
	ErrUnknownBus = errors.New("unknown bus")
	// ErrUnknownStream reports a stream id the server does not list.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrInvalidValue reports an out-of-range control value.
	ErrInvalidValue = errors.New("invalid value")
)

// StreamInfo describes a live stream and the rule that claims it.
type StreamInfo struct {
	ID          uint32 `json:"id"`
	Label       string `json:"label"`
	App         string `json:"app,omitempty"`
	Binary      string `json:"binary,omitempty"`
	AppID       string `json:"app_id,omitempty"`
	Role        string `json:"role,omitempty"`
	Sink        string `json:"sink"`
	MatchedRule string `json:"matched_rule,omitempty"`
	TargetBus   string `json:"target_bus,omitempty"`
	Internal    bool   `json:"internal,omitempty"`
}

// Buses reports the live state of every managed bus.
func (d *Daemon) Buses(ctx context.Context) ([]reconcile.BusState, error) {
	return d.engine.Buses(ctx)
}

// Streams lists live streams annotated with the first rule that matches.
func (d *Daemon) Streams(ctx context.Context) ([]StreamInfo, error) {
	var streams []pulse.Stream
	err := d.engine.Do(ctx, func(ctx context.Context, server pulse.Server) error {
		var err error
		streams, err = server.ListStreams(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	desired := d.effectiveDesired()
	out := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		info := StreamInfo{
			ID:       s.ID,
			Label:    s.Label(),
			App:      s.App,
			Binary:   s.Binary,
			AppID:    s.AppID,
			Role:     s.Role,
			Sink:     s.Sink,
			Internal: s.Internal,
		}
		if !s.Internal {
			id := routing.Identity{App: s.App, Binary: s.Binary, AppID: s.AppID, Role: s.Role}
			for _, r := range desired.Rules() {
				if desired.HasBus(r.Bus) && r.Matches(id) {
					info.MatchedRule = r.String()
					info.TargetBus = r.Bus
					break
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// MoveStream reassigns one stream. Streams claimed by a rule are moved back
// on the next pass; the move sticks only for unmatched streams.
func (d *Daemon) MoveStream(ctx context.Context, streamID uint32, sink string) error {
	err := d.engine.Do(ctx, func(ctx context.Context, server pulse.Server) error {
		streams, err := server.ListStreams(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, s := range streams {
			if s.ID == streamID {
				found = true
				if s.Internal {
					return fmt.Errorf("%w: stream %d belongs to a loopback", ErrInvalidValue, streamID)
				}
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrUnknownStream, streamID)
		}
		return server.MoveStreamToSink(ctx, streamID, sink)
	})
	if err != nil {
		return err
	}
	d.logger.Info("stream moved by request",
		logging.String(logging.FieldEventType, "stream_moved_manual"),
		logging.Int64(logging.FieldStreamID, int64(streamID)),
		logging.String("sink", sink),
	)
	return nil
}

// SetVolume changes a bus volume now and keeps it through later passes until
// the routing document reloads.
func (d *Daemon) SetVolume(ctx context.Context, key string, volume int) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: volume %d outside 0-100", ErrInvalidValue, volume)
	}
	return d.setBusAttrs(ctx, key, pulse.SinkAttrs{Volume: &volume})
}

// SetMute changes a bus mute flag with the same lifetime as SetVolume.
func (d *Daemon) SetMute(ctx context.Context, key string, mute bool) error {
	return d.setBusAttrs(ctx, key, pulse.SinkAttrs{Mute: &mute})
}

func (d *Daemon) setBusAttrs(ctx context.Context, key string, attrs pulse.SinkAttrs) error {
	d.mu.Lock()
	known := d.desired.HasBus(key)
	d.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownBus, key)
	}

	err := d.engine.Do(ctx, func(ctx context.Context, server pulse.Server) error {
		return server.SetSinkAttributes(ctx, key, attrs)
	})
	if err != nil {
		return err
	}

	// A reload may have dropped the bus while the command ran.
	d.mu.Lock()
	if d.desired.HasBus(key) {
		o := d.overrides[key]
		if attrs.Volume != nil {
			o.volume = attrs.Volume
		}
		if attrs.Mute != nil {
			o.mute = attrs.Mute
		}
		d.overrides[key] = o
	}
	d.mu.Unlock()
	d.logger.Info("bus attributes set by request",
		logging.String(logging.FieldEventType, "bus_attributes_manual"),
		logging.String(logging.FieldBus, key),
	)
	if perr := d.notifier.PublishBus(context.WithoutCancel(ctx), key, attrs.Volume, attrs.Mute); perr != nil {
		logging.WarnWithContext(d.logger, "companion update failed", "companion_publish_failed",
			logging.Error(perr),
			logging.String(logging.FieldBus, key),
			logging.String(logging.FieldErrorHint, "check companion.url and that Companion is running"),
			logging.String(logging.FieldImpact, "control surface may show a stale value"),
		)
	}
	return nil
}

// History returns recent passes, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]state.PassRecord, error) {
	if d.store == nil {
		return nil, errors.New("state store not configured")
	}
	return d.store.RecentPasses(ctx, limit)
}
