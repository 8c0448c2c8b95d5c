package pulse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBinary          = "pactl"
	defaultTimeout         = 5 * time.Second
	defaultManagedPrefix   = "vsink."
	defaultLoopbackLatency = 30
	flatpakSpawnBinary     = "flatpak-spawn"
)

// FlatpakMode selects when pactl is forwarded to the host.
type FlatpakMode string

const (
	FlatpakAuto   FlatpakMode = "auto"
	FlatpakAlways FlatpakMode = "always"
	FlatpakNever  FlatpakMode = "never"
)

// Option configures the client.
type Option func(*Pactl)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(p *Pactl) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithBinary overrides the pactl executable.
func WithBinary(binary string) Option {
	return func(p *Pactl) {
		if b := strings.TrimSpace(binary); b != "" {
			p.binary = b
		}
	}
}

// WithTimeout bounds every individual command.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pactl) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithManagedPrefix sets the sink-name prefix that marks audiorouter buses.
func WithManagedPrefix(prefix string) Option {
	return func(p *Pactl) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLoopbackLatency sets latency_msec for routing loopbacks.
func WithLoopbackLatency(ms int) Option {
	return func(p *Pactl) {
		if ms > 0 {
			p.latencyMS = ms
		}
	}
}

// WithFlatpakMode controls flatpak-spawn forwarding.
func WithFlatpakMode(mode FlatpakMode) Option {
	return func(p *Pactl) {
		p.flatpak = mode
	}
}

// Pactl implements Server on top of the pactl command-line client.
type Pactl struct {
	binary    string
	timeout   time.Duration
	prefix    string
	latencyMS int
	flatpak   FlatpakMode
	exec      Executor
}

var _ Server = (*Pactl)(nil)

// New constructs a pactl-backed Server.
func New(opts ...Option) *Pactl {
	p := &Pactl{
		binary:    defaultBinary,
		timeout:   defaultTimeout,
		prefix:    defaultManagedPrefix,
		latencyMS: defaultLoopbackLatency,
		flatpak:   FlatpakAuto,
		exec:      commandExecutor{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ManagedPrefix returns the prefix that identifies managed buses.
func (p *Pactl) ManagedPrefix() string { return p.prefix }

// InFlatpak reports whether the process runs inside a Flatpak sandbox.
func InFlatpak() bool {
	if strings.TrimSpace(os.Getenv("FLATPAK_ID")) != "" {
		return true
	}
	_, err := os.Stat("/.flatpak-info")
	return err == nil
}

// UsesFlatpakSpawn reports whether commands are forwarded to the host.
func (p *Pactl) UsesFlatpakSpawn() bool {
	switch p.flatpak {
	case FlatpakAlways:
		return true
	case FlatpakNever:
		return false
	default:
		return InFlatpak()
	}
}

func (p *Pactl) command(args ...string) (string, []string) {
	if p.UsesFlatpakSpawn() {
		return flatpakSpawnBinary, append([]string{"--host", p.binary}, args...)
	}
	return p.binary, args
}

// run executes one pactl command under the per-command timeout.
func (p *Pactl) run(ctx context.Context, operation string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	binary, argv := p.command(args...)
	out, err := p.exec.Run(runCtx, binary, argv)
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, Wrap(ErrCommandRejected, operation, fmt.Sprintf("timed out after %s", p.timeout), err)
	}
	return nil, classify(operation, err)
}

func (p *Pactl) managed(name string) bool {
	return strings.HasPrefix(name, p.prefix)
}

// Ping verifies the server answers.
func (p *Pactl) Ping(ctx context.Context) error {
	if _, err := p.run(ctx, "info", "info"); err != nil {
		if errors.Is(err, ErrCommandRejected) {
			// pactl info only fails when it cannot talk to the server.
			return Wrap(ErrServerUnavailable, "info", "", err)
		}
		return err
	}
	return nil
}

// DefaultSink returns the server's default sink name.
func (p *Pactl) DefaultSink(ctx context.Context) (string, error) {
	out, err := p.run(ctx, "get-default-sink", "get-default-sink")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *Pactl) listJSON(ctx context.Context, kind string, dst any) error {
	out, err := p.run(ctx, "list "+kind, "--format=json", "list", kind)
	if err != nil {
		return err
	}
	if err := decodeJSON(out, dst); err != nil {
		return Wrap(ErrCommandRejected, "list "+kind, "decode output", err)
	}
	return nil
}

func (p *Pactl) sinks(ctx context.Context) ([]sinkJSON, error) {
	var sinks []sinkJSON
	if err := p.listJSON(ctx, "sinks", &sinks); err != nil {
		return nil, err
	}
	return sinks, nil
}

func (p *Pactl) modules(ctx context.Context) ([]moduleJSON, error) {
	var modules []moduleJSON
	if err := p.listJSON(ctx, "modules", &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// ListDevices returns every non-managed sink.
func (p *Pactl) ListDevices(ctx context.Context) ([]Device, error) {
	sinks, err := p.sinks(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(sinks))
	for _, s := range sinks {
		if p.managed(s.Name) {
			continue
		}
		devices = append(devices, Device{
			Index:       s.Index,
			Name:        s.Name,
			Description: s.Description,
			Available:   s.available(),
		})
	}
	return devices, nil
}

// ListMaterializedSinks returns every managed sink.
func (p *Pactl) ListMaterializedSinks(ctx context.Context) ([]Sink, error) {
	sinks, err := p.sinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if !p.managed(s.Name) {
			continue
		}
		out = append(out, Sink{
			Index:       s.Index,
			Name:        s.Name,
			Description: s.Description,
			ModuleID:    s.OwnerModule.id(),
			Volume:      s.volumePercent(),
			Mute:        s.Mute,
		})
	}
	return out, nil
}

// ListStreams returns playback streams with their current sink resolved to a
// name. Streams owned by loopback modules are flagged Internal.
func (p *Pactl) ListStreams(ctx context.Context) ([]Stream, error) {
	var inputs []sinkInputJSON
	if err := p.listJSON(ctx, "sink-inputs", &inputs); err != nil {
		return nil, err
	}
	sinks, err := p.sinks(ctx)
	if err != nil {
		return nil, err
	}
	modules, err := p.modules(ctx)
	if err != nil {
		return nil, err
	}
	sinkNames := make(map[uint32]string, len(sinks))
	for _, s := range sinks {
		sinkNames[s.Index] = s.Name
	}
	loopbacks := make(map[uint32]bool)
	for _, m := range modules {
		if m.Name == "module-loopback" {
			loopbacks[m.Index] = true
		}
	}

	streams := make([]Stream, 0, len(inputs))
	for _, in := range inputs {
		props := in.Properties
		var sink string
		if in.Sink.valid() {
			sink = sinkNames[in.Sink.id()]
		}
		streams = append(streams, Stream{
			ID:       in.Index,
			Sink:     sink,
			App:      props["application.name"],
			Binary:   props["application.process.binary"],
			AppID:    props["pipewire.access.portal.app_id"],
			Role:     props["media.role"],
			Internal: in.OwnerModule.valid() && loopbacks[in.OwnerModule.id()],
		})
	}
	return streams, nil
}

// ListRoutes returns loopbacks whose source is a managed bus monitor.
func (p *Pactl) ListRoutes(ctx context.Context) ([]Route, error) {
	modules, err := p.modules(ctx)
	if err != nil {
		return nil, err
	}
	var routes []Route
	for _, m := range modules {
		if m.Name != "module-loopback" {
			continue
		}
		args := parseModuleArgs(m.Argument)
		source := args["source"]
		if !strings.HasSuffix(source, monitorSuffix) {
			continue
		}
		bus := strings.TrimSuffix(source, monitorSuffix)
		if !p.managed(bus) {
			continue
		}
		routes = append(routes, Route{Bus: bus, Device: args["sink"], ModuleID: m.Index})
	}
	return routes, nil
}

const monitorSuffix = ".monitor"

var descriptionQuotes = strings.NewReplacer(`"`, "", `'`, "")

// SinkDescription is the device.description a virtual sink named key ends up
// with for the display name. Quotes are dropped because the value is nested
// inside quoted module arguments; an empty name falls back to key.
func SinkDescription(key, name string) string {
	description := strings.TrimSpace(descriptionQuotes.Replace(name))
	if description == "" {
		return key
	}
	return description
}

// CreateVirtualSink loads a null sink named key, hides its monitor source, and
// applies any volume or mute in attrs.
func (p *Pactl) CreateVirtualSink(ctx context.Context, key string, attrs SinkAttrs) error {
	description := SinkDescription(key, attrs.Name)
	if _, err := p.run(ctx, "create sink "+key,
		"load-module", "module-null-sink",
		"sink_name="+key,
		fmt.Sprintf(`sink_properties='device.description="%s"'`, description),
	); err != nil {
		return err
	}
	// Hidden monitors keep buses out of recording pickers; older servers reject
	// these properties, which is harmless.
	_, _ = p.run(ctx, "hide monitor "+key, "set-source-properties", key+monitorSuffix, "node.hidden=true", "node.passive=true")
	return p.SetSinkAttributes(ctx, key, SinkAttrs{Volume: attrs.Volume, Mute: attrs.Mute})
}

// RemoveVirtualSink unloads the loopbacks and the null sink module behind key.
func (p *Pactl) RemoveVirtualSink(ctx context.Context, key string) error {
	if err := p.UnrouteSink(ctx, key); err != nil {
		return err
	}
	modules, err := p.modules(ctx)
	if err != nil {
		return err
	}
	for _, m := range modules {
		if m.Name != "module-null-sink" || parseModuleArgs(m.Argument)["sink_name"] != key {
			continue
		}
		_, err := p.run(ctx, "remove sink "+key, "unload-module", strconv.FormatUint(uint64(m.Index), 10))
		return err
	}
	return Wrap(ErrCommandRejected, "remove sink "+key, "no null-sink module owns this sink", nil)
}

// SetSinkAttributes applies volume and mute in place. Display names cannot be
// changed on a live null sink; callers recreate the sink instead.
func (p *Pactl) SetSinkAttributes(ctx context.Context, key string, attrs SinkAttrs) error {
	var errs []error
	if attrs.Volume != nil {
		if _, err := p.run(ctx, "set volume "+key, "set-sink-volume", key, fmt.Sprintf("%d%%", *attrs.Volume)); err != nil {
			errs = append(errs, err)
		}
	}
	if attrs.Mute != nil {
		flag := "0"
		if *attrs.Mute {
			flag = "1"
		}
		if _, err := p.run(ctx, "set mute "+key, "set-sink-mute", key, flag); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RouteSinkToDevice plays key's monitor through device with a loopback.
func (p *Pactl) RouteSinkToDevice(ctx context.Context, key, device string) error {
	out, err := p.run(ctx, "route "+key,
		"load-module", "module-loopback",
		"source="+key+monitorSuffix,
		"sink="+device,
		fmt.Sprintf("latency_msec=%d", p.latencyMS),
		"sink_dont_move=true",
	)
	if err != nil {
		return err
	}
	if id := strings.TrimSpace(string(out)); id != "" {
		node := "loopback-" + id
		_, _ = p.run(ctx, "hide loopback", "set-sink-properties", node, "node.hidden=true", "node.passive=true")
		_, _ = p.run(ctx, "hide loopback", "set-source-properties", node, "node.hidden=true", "node.passive=true")
	}
	return nil
}

// UnrouteSink unloads every loopback reading key's monitor.
func (p *Pactl) UnrouteSink(ctx context.Context, key string) error {
	routes, err := p.ListRoutes(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range routes {
		if r.Bus != key {
			continue
		}
		if _, err := p.run(ctx, "unroute "+key, "unload-module", strconv.FormatUint(uint64(r.ModuleID), 10)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MoveStreamToSink reassigns a sink input.
func (p *Pactl) MoveStreamToSink(ctx context.Context, streamID uint32, key string) error {
	_, err := p.run(ctx, fmt.Sprintf("move stream %d", streamID), "move-sink-input", strconv.FormatUint(uint64(streamID), 10), key)
	return err
}

// DebugSnapshot renders raw server state for bug reports. Sections that fail
// are shown as "(no output)".
func (p *Pactl) DebugSnapshot(ctx context.Context) string {
	sections := []struct {
		title string
		args  []string
	}{
		{"info", []string{"info"}},
		{"default_sink", []string{"get-default-sink"}},
		{"sinks_short", []string{"list", "short", "sinks"}},
		{"sources_short", []string{"list", "short", "sources"}},
		{"modules_short", []string{"list", "short", "modules"}},
		{"sink_inputs", []string{"list", "sink-inputs"}},
	}
	var b strings.Builder
	for _, section := range sections {
		b.WriteString("## ")
		b.WriteString(section.title)
		b.WriteByte('\n')
		out, err := p.run(ctx, section.title, section.args...)
		text := strings.TrimSpace(string(out))
		if err != nil || text == "" {
			text = "(no output)"
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return b.String()
}
