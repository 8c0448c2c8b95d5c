package routing

import (
	"path"
	"slices"
	"strings"
)

// DefaultDevice routes a bus to the server's default physical sink.
const DefaultDevice = "default"

// MonitorSuffix names the monitor source every sink exposes.
const MonitorSuffix = ".monitor"

// MatchField selects which stream property a criterion inspects.
type MatchField string

const (
	FieldAny    MatchField = "any"
	FieldApp    MatchField = "app"
	FieldBinary MatchField = "binary"
	FieldAppID  MatchField = "app_id"
	FieldRole   MatchField = "role"
)

// Valid reports whether f is a known match field.
func (f MatchField) Valid() bool {
	switch f {
	case FieldAny, FieldApp, FieldBinary, FieldAppID, FieldRole:
		return true
	}
	return false
}

// Bus is a virtual sink owned by audiorouter.
type Bus struct {
	Key    string
	Name   string
	Device string
	// Volume in percent; nil leaves the live volume alone.
	Volume *int
	// Mute; nil leaves the live mute flag alone.
	Mute *bool
}

func (b Bus) clone() Bus {
	out := b
	if b.Volume != nil {
		v := *b.Volume
		out.Volume = &v
	}
	if b.Mute != nil {
		m := *b.Mute
		out.Mute = &m
	}
	return out
}

// Criterion is one pattern tested against one stream property.
type Criterion struct {
	Field   MatchField
	Pattern string
}

// Rule assigns streams matching every criterion to Bus.
type Rule struct {
	Criteria []Criterion
	Bus      string
}

// Identity is the application identity a stream reports.
type Identity struct {
	App    string
	Binary string
	AppID  string
	Role   string
}

func (id Identity) field(f MatchField) []string {
	switch f {
	case FieldApp:
		return []string{id.App}
	case FieldBinary:
		return []string{id.Binary}
	case FieldAppID:
		return []string{id.AppID}
	case FieldRole:
		return []string{id.Role}
	default:
		return []string{id.App, id.Binary, id.AppID}
	}
}

// Matches reports whether every criterion of r matches id.
func (r Rule) Matches(id Identity) bool {
	if len(r.Criteria) == 0 {
		return false
	}
	for _, c := range r.Criteria {
		if !c.Matches(id) {
			return false
		}
	}
	return true
}

// Matches applies the pattern to the selected field(s). Patterns containing
// glob metacharacters are globs over the whole value; anything else is a
// substring test. Both are case-insensitive.
func (c Criterion) Matches(id Identity) bool {
	pattern := strings.ToLower(strings.TrimSpace(c.Pattern))
	if pattern == "" {
		return false
	}
	glob := isGlob(pattern)
	for _, value := range id.field(c.Field) {
		value = strings.ToLower(value)
		if glob {
			if ok, err := path.Match(pattern, value); err == nil && ok {
				return true
			}
			continue
		}
		if value != "" && strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

// String renders the rule for status tables and logs.
func (r Rule) String() string {
	parts := make([]string, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		parts = append(parts, string(c.Field)+"="+c.Pattern)
	}
	return strings.Join(parts, ",") + " -> " + r.Bus
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// DesiredState is an immutable snapshot of one validated routing document.
// Accessors return copies.
type DesiredState struct {
	buses []Bus
	rules []Rule
}

// Buses returns the buses in document order.
func (d DesiredState) Buses() []Bus {
	out := make([]Bus, len(d.buses))
	for i, b := range d.buses {
		out[i] = b.clone()
	}
	return out
}

// Rules returns the rules in evaluation order.
func (d DesiredState) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		out[i] = Rule{Criteria: slices.Clone(r.Criteria), Bus: r.Bus}
	}
	return out
}

// Bus looks up a bus by key.
func (d DesiredState) Bus(key string) (Bus, bool) {
	for _, b := range d.buses {
		if b.Key == key {
			return b.clone(), true
		}
	}
	return Bus{}, false
}

// HasBus reports whether key is declared.
func (d DesiredState) HasBus(key string) bool {
	_, ok := d.Bus(key)
	return ok
}

// Empty reports whether the document declares nothing.
func (d DesiredState) Empty() bool {
	return len(d.buses) == 0 && len(d.rules) == 0
}

// New validates buses and rules and freezes them into a DesiredState.
func New(buses []Bus, rules []Rule, managedPrefix string) (DesiredState, error) {
	state := DesiredState{
		buses: make([]Bus, 0, len(buses)),
		rules: make([]Rule, 0, len(rules)),
	}
	for _, b := range buses {
		b.Key = strings.TrimSpace(b.Key)
		b.Device = strings.TrimSpace(b.Device)
		b.Name = strings.TrimSpace(b.Name)
		if b.Name == "" {
			b.Name = DisplayName(b.Key, managedPrefix)
		}
		state.buses = append(state.buses, b.clone())
	}
	for _, r := range rules {
		criteria := make([]Criterion, 0, len(r.Criteria))
		for _, c := range r.Criteria {
			if c.Field == "" {
				c.Field = FieldAny
			}
			c.Pattern = strings.TrimSpace(c.Pattern)
			criteria = append(criteria, c)
		}
		state.rules = append(state.rules, Rule{Criteria: criteria, Bus: strings.TrimSpace(r.Bus)})
	}
	if err := validate(state, managedPrefix); err != nil {
		return DesiredState{}, err
	}
	return state, nil
}
