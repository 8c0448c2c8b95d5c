package routing_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audiorouter/internal/routing"
)

const prefix = "vsink."

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOMLDocument(t *testing.T) {
	path := writeFile(t, t.TempDir(), "routing.toml", `
[[buses]]
key = "vsink.browser"
device = "alsa_output.usb"
volume = 80

[[buses]]
key = "vsink.voice-chat"
name = "Voice"
mute = true

[[rules]]
match = "chrome"
field = "app"
bus = "vsink.browser"

[[rules]]
binary = "discord"
role = "phone"
bus = "vsink.voice-chat"
`)
	state, err := routing.Load(path, prefix)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	buses := state.Buses()
	if len(buses) != 2 {
		t.Fatalf("expected 2 buses, got %d", len(buses))
	}
	if buses[0].Name != "Browser" {
		t.Fatalf("expected derived name Browser, got %q", buses[0].Name)
	}
	if buses[0].Volume == nil || *buses[0].Volume != 80 {
		t.Fatalf("expected volume 80, got %v", buses[0].Volume)
	}
	if buses[0].Mute != nil {
		t.Fatal("expected mute unmanaged for browser bus")
	}
	if buses[1].Name != "Voice" || buses[1].Mute == nil || !*buses[1].Mute {
		t.Fatalf("unexpected voice bus %+v", buses[1])
	}
	rules := state.Rules()
	if len(rules) != 2 || len(rules[1].Criteria) != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}
}

func TestLoadYAMLAndJSONCProduceSameState(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "routing.yaml", `
buses:
  - key: vsink.music
    device: default
rules:
  - match: spotify
    bus: vsink.music
`)
	jsonPath := writeFile(t, dir, "routing.jsonc", `{
  // music bus
  "buses": [{"key": "vsink.music", "device": "default"}],
  "rules": [{"match": "spotify", "bus": "vsink.music"},],
}`)
	fromYAML, err := routing.Load(yamlPath, prefix)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	fromJSON, err := routing.Load(jsonPath, prefix)
	if err != nil {
		t.Fatalf("jsonc: %v", err)
	}
	if fromYAML.Buses()[0].Device != fromJSON.Buses()[0].Device {
		t.Fatalf("device mismatch")
	}
	if fromYAML.Rules()[0].String() != fromJSON.Rules()[0].String() {
		t.Fatalf("rule mismatch: %s vs %s", fromYAML.Rules()[0], fromJSON.Rules()[0])
	}
	if got := fromYAML.Rules()[0].Criteria[0].Field; got != routing.FieldAny {
		t.Fatalf("expected default field any, got %q", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	state, err := routing.Load(filepath.Join(t.TempDir(), "absent.toml"), prefix)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !state.Empty() {
		t.Fatal("expected empty state")
	}
}

func TestValidationRejectsWholeDocument(t *testing.T) {
	cases := map[string]string{
		"duplicate key": `
[[buses]]
key = "vsink.a"
[[buses]]
key = "vsink.a"`,
		"missing prefix": `
[[buses]]
key = "music"`,
		"volume range": `
[[buses]]
key = "vsink.a"
volume = 150`,
		"self route": `
[[buses]]
key = "vsink.a"
device = "vsink.a"`,
		"bus to bus": `
[[buses]]
key = "vsink.a"
device = "vsink.b"`,
		"monitor device": `
[[buses]]
key = "vsink.a"
device = "alsa_output.pci.monitor"`,
		"empty pattern": `
[[rules]]
bus = "vsink.a"`,
		"unknown field": `
[[rules]]
match = "x"
field = "title"
bus = "vsink.a"`,
		"bad glob": `
[[rules]]
match = "[chrome"
bus = "vsink.a"`,
		"unknown key": `
[[buses]]
key = "vsink.a"
colour = "red"`,
	}
	for name, body := range cases {
		path := writeFile(t, t.TempDir(), "routing.toml", body)
		_, err := routing.Load(path, prefix)
		if !errors.Is(err, routing.ErrConfigInvalid) {
			t.Fatalf("%s: expected ErrConfigInvalid, got %v", name, err)
		}
	}
}

func TestRuleTargetingUndeclaredBusIsValid(t *testing.T) {
	state, err := routing.Parse("toml", []byte(`
[[rules]]
match = "chrome"
bus = "vsink.nowhere"
`), prefix)
	if err != nil {
		t.Fatalf("dangling rule should load: %v", err)
	}
	if state.HasBus("vsink.nowhere") {
		t.Fatal("rule must not declare a bus")
	}
}

func TestCriterionMatching(t *testing.T) {
	id := routing.Identity{App: "Google Chrome", Binary: "chrome", AppID: "com.google.Chrome", Role: "music"}
	cases := []struct {
		criterion routing.Criterion
		want      bool
	}{
		{routing.Criterion{Field: routing.FieldApp, Pattern: "chrome"}, true},
		{routing.Criterion{Field: routing.FieldApp, Pattern: "CHROME"}, true},
		{routing.Criterion{Field: routing.FieldBinary, Pattern: "firefox"}, false},
		{routing.Criterion{Field: routing.FieldAny, Pattern: "com.google"}, true},
		{routing.Criterion{Field: routing.FieldAny, Pattern: "*"}, true},
		{routing.Criterion{Field: routing.FieldAppID, Pattern: "com.*.chrome"}, true},
		{routing.Criterion{Field: routing.FieldApp, Pattern: "chrome*"}, false},
		{routing.Criterion{Field: routing.FieldRole, Pattern: "music"}, true},
		{routing.Criterion{Field: routing.FieldAny, Pattern: "music"}, false},
	}
	for _, tc := range cases {
		if got := tc.criterion.Matches(id); got != tc.want {
			t.Fatalf("%+v: got %v want %v", tc.criterion, got, tc.want)
		}
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	vol := 40
	state, err := routing.New([]routing.Bus{{Key: "vsink.a", Volume: &vol}}, nil, prefix)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vol = 99
	buses := state.Buses()
	*buses[0].Volume = 10
	buses[0].Key = "changed"
	again, _ := state.Bus("vsink.a")
	if *again.Volume != 40 {
		t.Fatalf("state mutated through accessor: %d", *again.Volume)
	}
}

func TestLoadLegacySplitFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, routing.LegacyBusesFile, `[
  {"name": "vsink.browser", "label": "Browser"},
  {"name": "vsink.game", "label": "Game", "route_to": "alsa_output.hdmi"}
]`)
	writeFile(t, dir, routing.LegacyRulesFile, `[
  {"match": {"app": "firefox", "binary": "firefox"}, "target_bus": "vsink.browser"}
]`)
	state, ok, err := routing.LoadLegacy(dir, prefix)
	if err != nil || !ok {
		t.Fatalf("LoadLegacy: ok=%v err=%v", ok, err)
	}
	buses := state.Buses()
	if buses[0].Device != routing.DefaultDevice {
		t.Fatalf("expected default device, got %q", buses[0].Device)
	}
	if buses[1].Device != "alsa_output.hdmi" {
		t.Fatalf("unexpected device %q", buses[1].Device)
	}
	rule := state.Rules()[0]
	if len(rule.Criteria) != 2 || rule.Criteria[0].Field != routing.FieldApp || rule.Criteria[1].Field != routing.FieldBinary {
		t.Fatalf("unexpected criteria %+v", rule.Criteria)
	}
}

func TestLoadLegacyCombinedFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, routing.LegacyCombinedFile, `{"buses": [{"name": "vsink.music"}], "rules": [], "mic_routes": []}`)
	state, ok, err := routing.LoadLegacy(dir, prefix)
	if err != nil || !ok {
		t.Fatalf("LoadLegacy: ok=%v err=%v", ok, err)
	}
	if !state.HasBus("vsink.music") {
		t.Fatal("expected music bus")
	}

	_, ok, err = routing.LoadLegacy(t.TempDir(), prefix)
	if err != nil || ok {
		t.Fatalf("expected nothing found, ok=%v err=%v", ok, err)
	}
}

func TestMarshalRoundTripsThroughLoad(t *testing.T) {
	mute := true
	state, err := routing.New(
		[]routing.Bus{{Key: "vsink.chat", Device: "default", Mute: &mute}},
		[]routing.Rule{{Bus: "vsink.chat", Criteria: []routing.Criterion{{Field: routing.FieldBinary, Pattern: "discord"}}}},
		prefix,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := routing.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := writeFile(t, t.TempDir(), "routing.toml", string(data))
	loaded, err := routing.Load(path, prefix)
	if err != nil {
		t.Fatalf("Load: %v\n%s", err, data)
	}
	if loaded.Rules()[0].String() != state.Rules()[0].String() {
		t.Fatalf("rule changed: %s", loaded.Rules()[0])
	}
}

func TestNames(t *testing.T) {
	if got := routing.DisplayName("vsink.voice-chat", prefix); got != "Voice Chat" {
		t.Fatalf("DisplayName: %q", got)
	}
	if got := routing.VariableName("vsink.voice_chat-main", prefix); got != "voiceChatMain" {
		t.Fatalf("VariableName: %q", got)
	}
	if got := routing.VariableName("vsink.Music", prefix); !strings.EqualFold(got, "music") {
		t.Fatalf("VariableName: %q", got)
	}
}
