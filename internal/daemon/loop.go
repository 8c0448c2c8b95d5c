package daemon

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"audiorouter/internal/logging"
	"audiorouter/internal/pulse"
	"audiorouter/internal/reconcile"
	"audiorouter/internal/routing"
)

type applyReply struct {
	result reconcile.Result
	err    error
}

type applyRequest struct {
	reason string
	reply  chan applyReply
}

// override pins a bus value until the routing file next reloads.
type override struct {
	volume *int
	mute   *bool
}

// loop owns every pass. Triggers restart the debounce window; when it
// elapses the pending sources collapse into one pass.
func (d *Daemon) loop(ctx context.Context) error {
	d.converge(ctx, SourceStartup)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = make(map[string]int)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case t := <-d.triggers:
			pending[t.Source]++
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			timerC = timer.C
			d.setState(StateDebouncing)

		case <-timerC:
			timerC = nil
			if err := d.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Debug("rate limiter wait failed", logging.Error(err))
			}
			reason := reasonFor(pending)
			if pending[SourceRoutingFile] > 0 {
				d.reload()
			}
			clear(pending)
			d.converge(ctx, reason)

		case req := <-d.requests:
			// The requested pass observes everything a pending debounce
			// would have, so it absorbs the window.
			if timer != nil {
				timer.Stop()
			}
			timerC = nil
			if pending[SourceRoutingFile] > 0 {
				d.reload()
			}
			clear(pending)
			result, err := d.converge(ctx, req.reason)
			req.reply <- applyReply{result: result, err: err}
		}
	}
}

func reasonFor(pending map[string]int) string {
	if len(pending) == 0 {
		return SourceControl
	}
	return strings.Join(slices.Sorted(maps.Keys(pending)), "+")
}

// reload rereads the routing document. An invalid document leaves the last
// valid state in effect.
func (d *Daemon) reload() {
	desired, err := d.loadDoc()
	if err != nil {
		d.setDesired(routing.DesiredState{}, err)
		logging.WarnWithContext(d.logger, "routing document rejected; keeping previous configuration", "routing_reload_failed",
			logging.Error(err),
			logging.String("routing_file", d.cfg.Paths.RoutingFile),
			logging.String(logging.FieldErrorHint, "fix the file and save it again, or run audiorouter config validate"),
			logging.String(logging.FieldImpact, "routing continues with the last valid configuration"),
		)
		return
	}
	d.setDesired(desired, nil)
	d.logger.Info("routing document reloaded",
		logging.String(logging.FieldEventType, "routing_reloaded"),
		logging.Int("buses", len(desired.Buses())),
		logging.Int("rules", len(desired.Rules())),
	)
}

// effectiveDesired layers runtime overrides over the loaded document.
func (d *Daemon) effectiveDesired() routing.DesiredState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.overrides) == 0 {
		return d.desired
	}
	buses := d.desired.Buses()
	for i := range buses {
		o, ok := d.overrides[buses[i].Key]
		if !ok {
			continue
		}
		if o.volume != nil {
			v := *o.volume
			buses[i].Volume = &v
		}
		if o.mute != nil {
			m := *o.mute
			buses[i].Mute = &m
		}
	}
	merged, err := routing.New(buses, d.desired.Rules(), d.cfg.Pulse.ManagedPrefix)
	if err != nil {
		return d.desired
	}
	return merged
}

// RequestApply runs a pass on the loop goroutine and waits for its result.
func (d *Daemon) RequestApply(ctx context.Context) (reconcile.Result, error) {
	if !d.running.Load() {
		return reconcile.Result{}, errors.New("daemon is not running")
	}
	req := applyRequest{reason: SourceControl, reply: make(chan applyReply, 1)}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return reconcile.Result{}, ctx.Err()
	}
	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return reconcile.Result{}, ctx.Err()
	}
}

func (d *Daemon) converge(ctx context.Context, reason string) (reconcile.Result, error) {
	d.setState(StateConverging)
	result, err := d.engine.Apply(ctx, d.effectiveDesired(), reason)

	d.mu.Lock()
	d.last = &result
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil && pulse.IsUnavailable(err) {
		d.connected.Store(false)
	}
	d.setState(d.restingState())

	if errors.Is(err, context.Canceled) {
		return result, err
	}
	d.afterPass(ctx, result, err)
	return result, err
}

// afterPass persists the pass and publishes bus changes. Failures here
// never affect routing.
func (d *Daemon) afterPass(ctx context.Context, result reconcile.Result, passErr error) {
	bg := context.WithoutCancel(ctx)
	if d.store != nil {
		if err := d.store.RecordPass(bg, result, passErr); err != nil {
			logging.WarnWithContext(d.logger, "failed to record pass history", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldPassID, result.PassID),
				logging.String(logging.FieldErrorHint, "check state_dir permissions"),
				logging.String(logging.FieldImpact, "audiorouter history will be incomplete"),
			)
		}
	}
	if passErr != nil {
		return
	}

	previous := d.previousSnapshot(bg)
	if err := d.notifier.PublishChanges(bg, previous, result.Buses); err != nil {
		logging.WarnWithContext(d.logger, "companion update failed", "companion_publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check companion.url and that Companion is running"),
			logging.String(logging.FieldImpact, "control surface may show stale bus values"),
		)
	}
	d.mu.Lock()
	d.published = result.Buses
	d.mu.Unlock()
	if d.store != nil {
		if err := d.store.SaveAppliedSnapshot(bg, result.Buses); err != nil {
			logging.WarnWithContext(d.logger, "failed to save bus snapshot", "snapshot_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check state_dir permissions"),
			)
		}
	}
}

// previousSnapshot returns the buses published after the last successful
// pass, falling back to the stored snapshot from a previous run.
func (d *Daemon) previousSnapshot(ctx context.Context) []reconcile.BusState {
	d.mu.RLock()
	published := d.published
	d.mu.RUnlock()
	if published != nil || d.store == nil {
		return published
	}
	stored, err := d.store.LoadSnapshot(ctx)
	if err != nil {
		d.logger.Debug("snapshot unavailable", logging.Error(err))
		return nil
	}
	return stored
}
