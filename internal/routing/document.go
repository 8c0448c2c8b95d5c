package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape shared by every format.
type document struct {
	Buses []busDoc  `toml:"buses" yaml:"buses" json:"buses"`
	Rules []ruleDoc `toml:"rules" yaml:"rules" json:"rules"`
}

type busDoc struct {
	Key    string `toml:"key" yaml:"key" json:"key"`
	Name   string `toml:"name,omitempty" yaml:"name,omitempty" json:"name,omitempty"`
	Device string `toml:"device,omitempty" yaml:"device,omitempty" json:"device,omitempty"`
	Volume *int   `toml:"volume,omitempty" yaml:"volume,omitempty" json:"volume,omitempty"`
	Mute   *bool  `toml:"mute,omitempty" yaml:"mute,omitempty" json:"mute,omitempty"`
}

// ruleDoc accepts either match+field or any of the per-field keys; every
// pattern present must match.
type ruleDoc struct {
	Match  string `toml:"match,omitempty" yaml:"match,omitempty" json:"match,omitempty"`
	Field  string `toml:"field,omitempty" yaml:"field,omitempty" json:"field,omitempty"`
	App    string `toml:"app,omitempty" yaml:"app,omitempty" json:"app,omitempty"`
	Binary string `toml:"binary,omitempty" yaml:"binary,omitempty" json:"binary,omitempty"`
	AppID  string `toml:"app_id,omitempty" yaml:"app_id,omitempty" json:"app_id,omitempty"`
	Role   string `toml:"role,omitempty" yaml:"role,omitempty" json:"role,omitempty"`
	Bus    string `toml:"bus" yaml:"bus" json:"bus"`
}

func (r ruleDoc) rule() Rule {
	var criteria []Criterion
	if strings.TrimSpace(r.Match) != "" {
		field := MatchField(strings.ToLower(strings.TrimSpace(r.Field)))
		if field == "" {
			field = FieldAny
		}
		criteria = append(criteria, Criterion{Field: field, Pattern: r.Match})
	}
	for _, c := range []Criterion{
		{Field: FieldApp, Pattern: r.App},
		{Field: FieldBinary, Pattern: r.Binary},
		{Field: FieldAppID, Pattern: r.AppID},
		{Field: FieldRole, Pattern: r.Role},
	} {
		if strings.TrimSpace(c.Pattern) != "" {
			criteria = append(criteria, c)
		}
	}
	return Rule{Criteria: criteria, Bus: r.Bus}
}

func (d document) desired(managedPrefix string) (DesiredState, error) {
	buses := make([]Bus, 0, len(d.Buses))
	for _, b := range d.Buses {
		buses = append(buses, Bus{Key: b.Key, Name: b.Name, Device: b.Device, Volume: b.Volume, Mute: b.Mute})
	}
	rules := make([]Rule, 0, len(d.Rules))
	for _, r := range d.Rules {
		rules = append(rules, r.rule())
	}
	return New(buses, rules, managedPrefix)
}

// Load reads and validates a routing document. The format follows the file
// extension: .toml, .yaml/.yml, or .json/.jsonc. A missing file yields an
// empty DesiredState.
func Load(path, managedPrefix string) (DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(nil, nil, managedPrefix)
		}
		return DesiredState{}, fmt.Errorf("read routing document: %w", err)
	}
	doc, err := decode(filepath.Ext(path), data)
	if err != nil {
		return DesiredState{}, err
	}
	state, err := doc.desired(managedPrefix)
	if err != nil {
		return DesiredState{}, fmt.Errorf("%s: %w", path, err)
	}
	return state, nil
}

// Parse decodes a document of the given format ("toml", "yaml" or "json").
func Parse(format string, data []byte, managedPrefix string) (DesiredState, error) {
	doc, err := decode("."+strings.TrimPrefix(strings.ToLower(format), "."), data)
	if err != nil {
		return DesiredState{}, err
	}
	return doc.desired(managedPrefix)
}

func decode(ext string, data []byte) (document, error) {
	var doc document
	switch strings.ToLower(ext) {
	case ".toml", "":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return document{}, fmt.Errorf("%w: parse toml: %v", ErrConfigInvalid, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return document{}, fmt.Errorf("%w: parse yaml: %v", ErrConfigInvalid, err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return document{}, fmt.Errorf("%w: parse json: %v", ErrConfigInvalid, err)
		}
	default:
		return document{}, fmt.Errorf("%w: unsupported routing document extension %q", ErrConfigInvalid, ext)
	}
	return doc, nil
}

// Marshal renders state as a TOML routing document.
func Marshal(state DesiredState) ([]byte, error) {
	var doc document
	for _, b := range state.buses {
		doc.Buses = append(doc.Buses, busDoc{Key: b.Key, Name: b.Name, Device: b.Device, Volume: b.Volume, Mute: b.Mute})
	}
	for _, r := range state.rules {
		rd := ruleDoc{Bus: r.Bus}
		if len(r.Criteria) == 1 {
			rd.Match = r.Criteria[0].Pattern
			rd.Field = string(r.Criteria[0].Field)
		} else {
			for _, c := range r.Criteria {
				switch c.Field {
				case FieldApp:
					rd.App = c.Pattern
				case FieldBinary:
					rd.Binary = c.Pattern
				case FieldAppID:
					rd.AppID = c.Pattern
				case FieldRole:
					rd.Role = c.Pattern
				default:
					rd.Match = c.Pattern
				}
			}
		}
		doc.Rules = append(doc.Rules, rd)
	}
	return toml.Marshal(doc)
}
