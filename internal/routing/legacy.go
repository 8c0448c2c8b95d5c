package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Legacy file names, relative to the old configuration directory.
const (
	LegacyBusesFile    = "vsinks.json"
	LegacyRulesFile    = "routing-rules.json"
	LegacyCombinedFile = "config.json"
)

type legacyBus struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	RouteTo string `json:"route_to"`
	Volume  *int   `json:"volume"`
	Mute    *bool  `json:"mute"`
}

type legacyRule struct {
	Match     map[string]string `json:"match"`
	TargetBus string            `json:"target_bus"`
}

type legacyCombined struct {
	Buses []legacyBus  `json:"buses"`
	Rules []legacyRule `json:"rules"`
}

// LoadLegacy reads the split vsinks.json and routing-rules.json pair from dir,
// falling back to the combined config.json. Buses without route_to play
// through the default device. ok is false when dir holds none of the files.
func LoadLegacy(dir, managedPrefix string) (state DesiredState, ok bool, err error) {
	var combined legacyCombined

	busesFound, err := readLegacyJSON(filepath.Join(dir, LegacyBusesFile), &combined.Buses)
	if err != nil {
		return DesiredState{}, false, err
	}
	rulesFound, err := readLegacyJSON(filepath.Join(dir, LegacyRulesFile), &combined.Rules)
	if err != nil {
		return DesiredState{}, false, err
	}
	if !busesFound && !rulesFound {
		found, err := readLegacyJSON(filepath.Join(dir, LegacyCombinedFile), &combined)
		if err != nil || !found {
			return DesiredState{}, false, err
		}
	}

	buses := make([]Bus, 0, len(combined.Buses))
	for _, b := range combined.Buses {
		device := strings.TrimSpace(b.RouteTo)
		if device == "" {
			device = DefaultDevice
		}
		buses = append(buses, Bus{Key: b.Name, Name: b.Label, Device: device, Volume: b.Volume, Mute: b.Mute})
	}
	rules := make([]Rule, 0, len(combined.Rules))
	for _, r := range combined.Rules {
		rule := Rule{Bus: r.TargetBus}
		// Fixed order keeps criteria deterministic regardless of map iteration.
		for _, field := range []MatchField{FieldApp, FieldBinary, FieldAppID, FieldRole} {
			if pattern, present := r.Match[string(field)]; present && strings.TrimSpace(pattern) != "" {
				rule.Criteria = append(rule.Criteria, Criterion{Field: field, Pattern: pattern})
			}
		}
		for key := range r.Match {
			if !MatchField(key).Valid() || MatchField(key) == FieldAny {
				return DesiredState{}, false, invalid("%s: unknown match field %q", LegacyRulesFile, key)
			}
		}
		rules = append(rules, rule)
	}

	state, err = New(buses, rules, managedPrefix)
	if err != nil {
		return DesiredState{}, false, fmt.Errorf("%s: %w", dir, err)
	}
	return state, true, nil
}

func readLegacyJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), dst); err != nil {
		return false, fmt.Errorf("%w: parse %s: %v", ErrConfigInvalid, path, err)
	}
	return true, nil
}
