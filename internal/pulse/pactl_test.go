package pulse_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"audiorouter/internal/pulse"
)

type fakeExecutor struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
	lines   []string
	block   bool
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	call := binary + " " + strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, call)
	block := f.block
	out, err := f.outputs[call], f.errs[call]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(out), err
}

func (f *fakeExecutor) Stream(ctx context.Context, binary string, args []string, onLine func(string)) error {
	f.mu.Lock()
	lines := append([]string(nil), f.lines...)
	f.mu.Unlock()
	for _, line := range lines {
		onLine(line)
	}
	return &pulse.CommandError{Stderr: "Connection failure: Connection terminated", Err: errors.New("exit status 1")}
}

func (f *fakeExecutor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

const sinksJSON = `[
 {"index": 1, "name": "alsa_output.usb", "description": "USB DAC", "owner_module": 7, "mute": false,
  "volume": {"front-left": {"value": 65536, "value_percent": "100%"}, "front-right": {"value": 65536, "value_percent": "100%"}},
  "ports": [{"name": "analog-output", "availability": "available"}]},
 {"index": 2, "name": "alsa_output.hdmi", "description": "HDMI", "owner_module": "8", "mute": false,
  "volume": {"mono": {"value": 0, "value_percent": "0%"}},
  "ports": [{"name": "hdmi-output-0", "availability": "not available"}]},
 {"index": 5, "name": "vsink.music", "description": "Music", "owner_module": 31, "mute": true,
  "volume": {"front-left": {"value": 52429, "value_percent": "80%"}, "front-right": {"value": 52429, "value_percent": "80%"}}}
]`

const modulesJSON = `[
 {"index": 31, "name": "module-null-sink", "argument": "sink_name=vsink.music sink_properties='device.description=\"Music\"'"},
 {"index": 32, "name": "module-loopback", "argument": "source=vsink.music.monitor sink=alsa_output.usb latency_msec=30 sink_dont_move=true"},
 {"index": 33, "name": "module-loopback", "argument": "source=alsa_input.mic sink=alsa_output.usb"}
]`

const sinkInputsJSON = `[
 {"index": 40, "sink": 1, "owner_module": null, "properties": {"application.name": "Spotify", "application.process.binary": "spotify", "media.role": "music"}},
 {"index": 41, "sink": 1, "owner_module": "32", "properties": {"media.name": "loopback"}},
 {"index": 42, "sink": 5, "owner_module": "", "properties": {"application.name": "Firefox", "pipewire.access.portal.app_id": "org.mozilla.firefox"}}
]`

func newClient(exec *fakeExecutor) *pulse.Pactl {
	return pulse.New(
		pulse.WithExecutor(exec),
		pulse.WithFlatpakMode(pulse.FlatpakNever),
		pulse.WithTimeout(time.Second),
	)
}

func seed(exec *fakeExecutor) {
	exec.outputs["pactl --format=json list sinks"] = sinksJSON
	exec.outputs["pactl --format=json list modules"] = modulesJSON
	exec.outputs["pactl --format=json list sink-inputs"] = sinkInputsJSON
}

func TestListDevicesAndSinksSplitByPrefix(t *testing.T) {
	exec := newFakeExecutor()
	seed(exec)
	client := newClient(exec)

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	if !devices[0].Available || devices[1].Available {
		t.Fatalf("unexpected availability %+v", devices)
	}

	sinks, err := client.ListMaterializedSinks(context.Background())
	if err != nil {
		t.Fatalf("ListMaterializedSinks: %v", err)
	}
	if len(sinks) != 1 || sinks[0].Name != "vsink.music" {
		t.Fatalf("unexpected sinks %+v", sinks)
	}
	if sinks[0].Volume != 80 || !sinks[0].Mute || sinks[0].ModuleID != 31 {
		t.Fatalf("unexpected sink attributes %+v", sinks[0])
	}
}

func TestListStreamsResolvesSinkAndFlagsLoopbacks(t *testing.T) {
	exec := newFakeExecutor()
	seed(exec)
	streams, err := newClient(exec).ListStreams(context.Background())
	if err != nil {
		t.Fatalf("ListStreams: %v", err)
	}
	if len(streams) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(streams))
	}
	if streams[0].Sink != "alsa_output.usb" || streams[0].Binary != "spotify" || streams[0].Role != "music" || streams[0].Internal {
		t.Fatalf("unexpected first stream %+v", streams[0])
	}
	if !streams[1].Internal {
		t.Fatalf("expected loopback-owned stream flagged internal: %+v", streams[1])
	}
	if streams[2].Sink != "vsink.music" || streams[2].AppID != "org.mozilla.firefox" {
		t.Fatalf("unexpected third stream %+v", streams[2])
	}
}

func TestListRoutesOnlyManagedMonitors(t *testing.T) {
	exec := newFakeExecutor()
	seed(exec)
	routes, err := newClient(exec).ListRoutes(context.Background())
	if err != nil {
		t.Fatalf("ListRoutes: %v", err)
	}
	if len(routes) != 1 {
		t.Fatalf("expected 1 route, got %+v", routes)
	}
	want := pulse.Route{Bus: "vsink.music", Device: "alsa_output.usb", ModuleID: 32}
	if routes[0] != want {
		t.Fatalf("got %+v want %+v", routes[0], want)
	}
}

func TestCreateVirtualSinkCommands(t *testing.T) {
	exec := newFakeExecutor()
	client := newClient(exec)
	vol := 70
	if err := client.CreateVirtualSink(context.Background(), "vsink.chat", pulse.SinkAttrs{Name: `Voice "Chat"`, Volume: &vol}); err != nil {
		t.Fatalf("CreateVirtualSink: %v", err)
	}
	calls := exec.Calls()
	want := []string{
		`pactl load-module module-null-sink sink_name=vsink.chat sink_properties='device.description="Voice Chat"'`,
		"pactl set-source-properties vsink.chat.monitor node.hidden=true node.passive=true",
		"pactl set-sink-volume vsink.chat 70%",
	}
	if strings.Join(calls, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected calls:\n%s", strings.Join(calls, "\n"))
	}
}

func TestSinkDescription(t *testing.T) {
	cases := map[string]string{
		"Bob's Mix":      "Bobs Mix",
		` "Voice" Chat `: "Voice Chat",
		"":               "vsink.mix",
		`"'"`:            "vsink.mix",
	}
	for name, want := range cases {
		if got := pulse.SinkDescription("vsink.mix", name); got != want {
			t.Errorf("SinkDescription(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestRemoveVirtualSinkUnloadsLoopbackThenSink(t *testing.T) {
	exec := newFakeExecutor()
	seed(exec)
	if err := newClient(exec).RemoveVirtualSink(context.Background(), "vsink.music"); err != nil {
		t.Fatalf("RemoveVirtualSink: %v", err)
	}
	var unloads []string
	for _, call := range exec.Calls() {
		if strings.HasPrefix(call, "pactl unload-module") {
			unloads = append(unloads, call)
		}
	}
	if len(unloads) != 2 || unloads[0] != "pactl unload-module 32" || unloads[1] != "pactl unload-module 31" {
		t.Fatalf("unexpected unloads %v", unloads)
	}
}

func TestRouteSinkToDeviceUsesLoopback(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["pactl load-module module-loopback source=vsink.music.monitor sink=alsa_output.usb latency_msec=30 sink_dont_move=true"] = "57\n"
	if err := newClient(exec).RouteSinkToDevice(context.Background(), "vsink.music", "alsa_output.usb"); err != nil {
		t.Fatalf("RouteSinkToDevice: %v", err)
	}
	calls := exec.Calls()
	if len(calls) != 3 || !strings.Contains(calls[1], "loopback-57") {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestFlatpakSpawnWrapsCommands(t *testing.T) {
	exec := newFakeExecutor()
	client := pulse.New(pulse.WithExecutor(exec), pulse.WithFlatpakMode(pulse.FlatpakAlways))
	if err := client.MoveStreamToSink(context.Background(), 42, "vsink.music"); err != nil {
		t.Fatalf("MoveStreamToSink: %v", err)
	}
	if got := exec.Calls()[0]; got != "flatpak-spawn --host pactl move-sink-input 42 vsink.music" {
		t.Fatalf("unexpected call %q", got)
	}
}

func TestFlatpakAutoDetectsEnvironment(t *testing.T) {
	t.Setenv("FLATPAK_ID", "io.github.audiorouter")
	if !pulse.New().UsesFlatpakSpawn() {
		t.Fatal("expected flatpak-spawn inside Flatpak")
	}
}

func TestErrorClassification(t *testing.T) {
	exec := newFakeExecutor()
	exec.errs["pactl move-sink-input 9 vsink.music"] = &pulse.CommandError{Stderr: "Failure: No such entity", Err: errors.New("exit status 1")}
	exec.errs["pactl get-default-sink"] = &pulse.CommandError{Stderr: "Connection failure: Connection refused", Err: errors.New("exit status 1")}
	client := newClient(exec)

	err := client.MoveStreamToSink(context.Background(), 9, "vsink.music")
	if !errors.Is(err, pulse.ErrCommandRejected) || pulse.IsUnavailable(err) {
		t.Fatalf("expected command rejected, got %v", err)
	}
	_, err = client.DefaultSink(context.Background())
	if !pulse.IsUnavailable(err) {
		t.Fatalf("expected server unavailable, got %v", err)
	}
}

func TestCommandTimeoutIsRejection(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = true
	client := pulse.New(pulse.WithExecutor(exec), pulse.WithFlatpakMode(pulse.FlatpakNever), pulse.WithTimeout(20*time.Millisecond))
	err := client.MoveStreamToSink(context.Background(), 1, "vsink.music")
	if !errors.Is(err, pulse.ErrCommandRejected) {
		t.Fatalf("expected timeout to be a rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout message, got %v", err)
	}
}

func TestCancelledContextIsNotClassified(t *testing.T) {
	exec := newFakeExecutor()
	exec.block = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newClient(exec).MoveStreamToSink(ctx, 1, "vsink.music")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSubscribeDeliversEventsThenReportsLoss(t *testing.T) {
	exec := newFakeExecutor()
	exec.lines = []string{
		"Event 'new' on sink-input #42",
		"Event 'change' on client #7",
		"Event 'remove' on sink #3",
	}
	sub, err := newClient(exec).Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var got []pulse.ChangeEvent
	for event := range sub.Events() {
		got = append(got, event)
	}
	if len(got) != 2 || got[0].Kind != pulse.StreamAdded || got[0].Index != 42 || got[1].Kind != pulse.DeviceRemoved {
		t.Fatalf("unexpected events %+v", got)
	}
	if !pulse.IsUnavailable(sub.Err()) {
		t.Fatalf("expected unavailable after stream end, got %v", sub.Err())
	}
}

func TestParseEvent(t *testing.T) {
	cases := map[string]pulse.EventKind{
		"Event 'new' on sink #12":         pulse.DeviceAdded,
		"Event 'new' on card #2":          pulse.DeviceAdded,
		"Event 'change' on sink #12":      pulse.SinkPropertyChanged,
		"Event 'remove' on sink-input #4": pulse.StreamRemoved,
		"Event 'change' on server #-1":    "",
		"Event 'change' on server #0":     pulse.ServerChanged,
		"Event 'change' on sink-input #4": "",
		"garbage":                         "",
	}
	for line, want := range cases {
		event, ok := pulse.ParseEvent(line)
		if want == "" {
			if ok {
				t.Fatalf("%q: expected ignored, got %+v", line, event)
			}
			continue
		}
		if !ok || event.Kind != want {
			t.Fatalf("%q: got %+v ok=%v want %s", line, event, ok, want)
		}
	}
}

func TestDebugSnapshotMarksFailedSections(t *testing.T) {
	exec := newFakeExecutor()
	exec.outputs["pactl info"] = "Server Name: PulseAudio (on PipeWire 1.2.0)"
	exec.errs["pactl list sink-inputs"] = errors.New("boom")
	snapshot := newClient(exec).DebugSnapshot(context.Background())
	if !strings.Contains(snapshot, "## info\nServer Name") {
		t.Fatalf("missing info section:\n%s", snapshot)
	}
	if !strings.Contains(snapshot, "## sink_inputs\n(no output)") {
		t.Fatalf("expected failed section placeholder:\n%s", snapshot)
	}
}
