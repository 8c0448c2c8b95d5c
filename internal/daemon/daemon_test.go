package daemon_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"audiorouter/internal/config"
	"audiorouter/internal/daemon"
	"audiorouter/internal/instance"
	"audiorouter/internal/logging"
	"audiorouter/internal/notifications"
	"audiorouter/internal/pulse"
	"audiorouter/internal/pulse/pulsetest"
	"audiorouter/internal/routing"
	"audiorouter/internal/state"
	"audiorouter/internal/testsupport"
)

const speakers = "alsa_output.pci-0000_00_1f.3.analog-stereo"

const musicDoc = `
[[buses]]
key = "vsink.music"
device = "default"
volume = 50

[[rules]]
app = "Firefox"
bus = "vsink.music"
`

type harness struct {
	cfg    *config.Config
	srv    *pulsetest.Server
	store  *state.Store
	daemon *daemon.Daemon
	done   chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, doc string, opts ...daemon.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithRoutingDocument(doc))
	cfg.Daemon.WatchRoutingFile = false
	srv := pulsetest.New()
	srv.AddDevice(speakers)
	store := testsupport.MustOpenStore(t, cfg)
	opts = append([]daemon.Option{daemon.WithStore(store)}, opts...)
	d, err := daemon.New(cfg, srv, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return &harness{cfg: cfg, srv: srv, store: store, daemon: d}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.daemon.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	waitFor(t, "initial pass", func() bool { return len(h.passes(t)) >= 1 })
	waitFor(t, "subscription", func() bool { return h.srv.SubscribeCalls() >= 1 })
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("daemon did not stop")
	}
}

func (h *harness) passes(t *testing.T) []state.PassRecord {
	t.Helper()
	records, err := h.store.RecentPasses(context.Background(), 100)
	if err != nil {
		t.Fatalf("RecentPasses: %v", err)
	}
	return records
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunConvergesAtStartup(t *testing.T) {
	h := newHarness(t, musicDoc)
	id := h.srv.AddStream(pulse.Stream{App: "Firefox"})
	h.start(t)

	sink, ok := h.srv.Sink("vsink.music")
	if !ok {
		t.Fatal("expected vsink.music to be created")
	}
	if sink.Volume != 50 {
		t.Fatalf("expected volume 50, got %d", sink.Volume)
	}
	stream, _ := h.srv.Stream(id)
	if stream.Sink != "vsink.music" {
		t.Fatalf("expected Firefox on vsink.music, got %q", stream.Sink)
	}
	routes := h.srv.Routes()
	if len(routes) != 1 || routes[0].Device != speakers {
		t.Fatalf("expected one route to speakers, got %+v", routes)
	}
	if got := h.passes(t)[0].Reason; got != daemon.SourceStartup {
		t.Fatalf("expected startup reason, got %q", got)
	}
	waitFor(t, "idle state", func() bool { return h.daemon.State() == daemon.StateIdle })
}

func TestEventBurstTriggersOnePass(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)

	id := h.srv.AddStream(pulse.Stream{App: "Firefox"})
	for i := 0; i < 3; i++ {
		h.srv.Emit(pulse.ChangeEvent{Kind: pulse.StreamAdded, Facility: "sink-input", Index: id})
	}

	waitFor(t, "event pass", func() bool { return len(h.passes(t)) >= 2 })
	time.Sleep(150 * time.Millisecond)

	records := h.passes(t)
	if len(records) != 2 {
		t.Fatalf("expected exactly 2 passes (startup + one debounced), got %d", len(records))
	}
	if records[0].Reason != daemon.SourceServerEvent {
		t.Fatalf("expected server_event reason, got %q", records[0].Reason)
	}
	if stream, _ := h.srv.Stream(id); stream.Sink != "vsink.music" {
		t.Fatalf("expected new stream assigned, got %q", stream.Sink)
	}
}

func TestReconnectTriggersPass(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)

	h.srv.DropSubscriptions()
	waitFor(t, "resubscribe", func() bool { return h.srv.SubscribeCalls() >= 2 })
	waitFor(t, "reconnect pass", func() bool {
		for _, r := range h.passes(t) {
			if strings.Contains(r.Reason, daemon.SourceReconnect) {
				return true
			}
		}
		return false
	})
	waitFor(t, "connected", func() bool { return h.daemon.Status().Connected })
}

func TestUnavailableServerRetriesSubscription(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.srv.SetUnavailable(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.daemon.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "failed startup pass", func() bool {
		records := h.passes(t)
		return len(records) >= 1 && records[len(records)-1].Failed()
	})
	if h.daemon.State() != daemon.StateReconnecting {
		t.Fatalf("expected reconnecting state, got %s", h.daemon.State())
	}

	h.srv.SetUnavailable(false)
	waitFor(t, "bus created after server returns", func() bool {
		_, ok := h.srv.Sink("vsink.music")
		return ok
	})
}

func TestInvalidReloadKeepsLastValidState(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)

	testsupport.WriteFile(t, h.cfg.Paths.RoutingFile, `
[[buses]]
key = "vsink.music"

[[buses]]
key = "vsink.music"
`)
	h.daemon.Trigger(daemon.Trigger{Source: daemon.SourceRoutingFile})
	waitFor(t, "reload pass", func() bool { return len(h.passes(t)) >= 2 })

	status := h.daemon.Status()
	if status.RoutingError == "" {
		t.Fatal("expected routing error in status")
	}
	if status.Buses != 1 || status.Rules != 1 {
		t.Fatalf("expected previous document kept, got %d buses %d rules", status.Buses, status.Rules)
	}
	if _, ok := h.srv.Sink("vsink.music"); !ok {
		t.Fatal("expected bus to survive invalid reload")
	}
}

func TestValidReloadRemovesBus(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)

	testsupport.WriteFile(t, h.cfg.Paths.RoutingFile, `
[[buses]]
key = "vsink.voice-chat"
device = "default"
`)
	h.daemon.Trigger(daemon.Trigger{Source: daemon.SourceRoutingFile})
	waitFor(t, "voice chat bus", func() bool {
		_, ok := h.srv.Sink("vsink.voice-chat")
		return ok
	})
	if _, ok := h.srv.Sink("vsink.music"); ok {
		t.Fatal("expected vsink.music removed after reload")
	}
	if h.daemon.Status().RoutingError != "" {
		t.Fatal("expected routing error cleared")
	}
}

func TestStartupRejectsInvalidDocument(t *testing.T) {
	h := newHarness(t, `
[[buses]]
key = "music"
`)
	err := h.daemon.Run(context.Background())
	if !errors.Is(err, routing.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
	if len(h.srv.Commands()) != 0 {
		t.Fatalf("expected no commands, got %v", h.srv.Commands())
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithRoutingDocument(musicDoc))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	holder := instance.New(cfg.LockPath(), cfg.PIDPath())
	if err := holder.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer holder.Release()

	d, err := daemon.New(cfg, pulsetest.New(), logging.NewNop(),
		daemon.WithGuard(instance.New(cfg.LockPath(), cfg.PIDPath())))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, instance.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSetVolumeOverrideLastsUntilReload(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)
	ctx := context.Background()

	if err := h.daemon.SetVolume(ctx, "vsink.music", 80); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if _, err := h.daemon.RequestApply(ctx); err != nil {
		t.Fatalf("RequestApply: %v", err)
	}
	if sink, _ := h.srv.Sink("vsink.music"); sink.Volume != 80 {
		t.Fatalf("expected override to survive a pass, got %d", sink.Volume)
	}

	h.daemon.Trigger(daemon.Trigger{Source: daemon.SourceRoutingFile})
	waitFor(t, "volume restored", func() bool {
		sink, _ := h.srv.Sink("vsink.music")
		return sink.Volume == 50
	})
}

func TestRejectedVolumeIsNotKept(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)
	ctx := context.Background()

	h.srv.FailOn(pulsetest.OpSetAttrs, "vsink.music", pulse.Wrap(pulse.ErrCommandRejected, "set-sink-volume", "failure: invalid argument", nil))
	if err := h.daemon.SetVolume(ctx, "vsink.music", 80); !errors.Is(err, pulse.ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected, got %v", err)
	}
	h.srv.FailOn(pulsetest.OpSetAttrs, "vsink.music", nil)

	if _, err := h.daemon.RequestApply(ctx); err != nil {
		t.Fatalf("RequestApply: %v", err)
	}
	if sink, _ := h.srv.Sink("vsink.music"); sink.Volume != 50 {
		t.Fatalf("rejected volume applied by a later pass: %d", sink.Volume)
	}
}

func TestControlValidation(t *testing.T) {
	h := newHarness(t, musicDoc)
	h.start(t)
	ctx := context.Background()

	if err := h.daemon.SetVolume(ctx, "vsink.music", 101); !errors.Is(err, daemon.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := h.daemon.SetMute(ctx, "vsink.nope", true); !errors.Is(err, daemon.ErrUnknownBus) {
		t.Fatalf("expected ErrUnknownBus, got %v", err)
	}
	if err := h.daemon.MoveStream(ctx, 9999, "vsink.music"); !errors.Is(err, daemon.ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream, got %v", err)
	}
}

func TestManualMoveSticksOnlyForUnmatchedStreams(t *testing.T) {
	h := newHarness(t, musicDoc)
	firefox := h.srv.AddStream(pulse.Stream{App: "Firefox"})
	mpv := h.srv.AddStream(pulse.Stream{App: "mpv"})
	h.start(t)
	ctx := context.Background()

	for _, id := range []uint32{firefox, mpv} {
		if err := h.daemon.MoveStream(ctx, id, speakers); err != nil {
			t.Fatalf("MoveStream %d: %v", id, err)
		}
	}
	if err := h.daemon.MoveStream(ctx, mpv, "vsink.music"); err != nil {
		t.Fatalf("MoveStream: %v", err)
	}
	if _, err := h.daemon.RequestApply(ctx); err != nil {
		t.Fatalf("RequestApply: %v", err)
	}

	if s, _ := h.srv.Stream(firefox); s.Sink != "vsink.music" {
		t.Fatalf("expected matched stream moved back, got %q", s.Sink)
	}
	if s, _ := h.srv.Stream(mpv); s.Sink != "vsink.music" {
		t.Fatalf("expected unmatched stream to stay where it was moved, got %q", s.Sink)
	}

	streams, err := h.daemon.Streams(ctx)
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	for _, s := range streams {
		switch s.ID {
		case firefox:
			if s.TargetBus != "vsink.music" || s.MatchedRule == "" {
				t.Fatalf("expected Firefox annotated with its rule, got %+v", s)
			}
		case mpv:
			if s.TargetBus != "" {
				t.Fatalf("expected mpv unmatched, got %+v", s)
			}
		}
	}
}

func TestPassPublishesToCompanion(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.Path+"?"+r.URL.RawQuery)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithCompanion(srv.URL))
	h := newHarness(t, musicDoc, daemon.WithNotifier(notifications.NewService(cfg)))
	h.start(t)

	waitFor(t, "companion request", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range requests {
			if r == "/api/custom-variable/musicVol/value?value=50" {
				return true
			}
		}
		return false
	})

	snapshot, err := h.store.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].Key != "vsink.music" {
		t.Fatalf("expected snapshot of vsink.music, got %+v", snapshot)
	}
}
