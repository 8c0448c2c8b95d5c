package daemon

import (
	"context"
	"time"

	"audiorouter/internal/logging"
	"audiorouter/internal/pulse"
)

// watchServer keeps a change subscription open for the daemon's lifetime,
// resubscribing with exponential backoff after the connection drops.
func (d *Daemon) watchServer(ctx context.Context) error {
	bo := d.newBackOff()
	first := true
	for {
		sub, err := d.server.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.markDisconnected()
			wait := bo.NextBackOff()
			if wait < 0 {
				wait = d.cfg.ReconnectMax()
			}
			d.logger.Debug("subscribe failed; retrying",
				logging.Error(err),
				logging.Duration("retry_in", wait),
			)
			if !sleepCtx(ctx, wait) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		wasConnected := d.connected.Swap(true)
		if !first || !wasConnected {
			// A restarted server has new indexes for everything.
			d.logger.Info("subscribed to audio server after reconnect",
				logging.String(logging.FieldEventType, "server_reconnected"),
			)
			d.Trigger(Trigger{Source: SourceReconnect})
		} else {
			d.logger.Debug("subscribed to audio server")
		}
		first = false
		if d.State() == StateReconnecting {
			d.setState(StateIdle)
		}

		err = d.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.markDisconnected()
		logging.WarnWithContext(d.logger, "lost audio server subscription", "server_disconnected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the audio server restarted or crashed; reconnecting"),
			logging.String(logging.FieldImpact, "new streams are not routed until the connection returns"),
		)
	}
}

func (d *Daemon) consume(ctx context.Context, sub pulse.Subscription) error {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return pulse.Wrap(pulse.ErrServerUnavailable, "subscribe", "event stream ended", nil)
			}
			d.Trigger(Trigger{Source: SourceServerEvent, Detail: event.String()})
		}
	}
}

func (d *Daemon) markDisconnected() {
	d.connected.Store(false)
	switch d.State() {
	case StateIdle, StateDebouncing:
		d.setState(StateReconnecting)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
