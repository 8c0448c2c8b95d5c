package routing

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrConfigInvalid marks a routing document that cannot be applied.
var ErrConfigInvalid = errors.New("routing config invalid")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func validate(state DesiredState, managedPrefix string) error {
	seen := make(map[string]int, len(state.buses))
	for i, b := range state.buses {
		label := fmt.Sprintf("buses[%d]", i)
		if b.Key == "" {
			return invalid("%s: key is required", label)
		}
		if strings.ContainsAny(b.Key, " \t\n=") {
			return invalid("%s: key %q must not contain whitespace or '='", label, b.Key)
		}
		if managedPrefix != "" && !strings.HasPrefix(b.Key, managedPrefix) {
			return invalid("%s: key %q must start with %q", label, b.Key, managedPrefix)
		}
		if strings.HasSuffix(b.Key, MonitorSuffix) {
			return invalid("%s: key %q must not end with %s", label, b.Key, MonitorSuffix)
		}
		if prev, dup := seen[b.Key]; dup {
			return invalid("%s: duplicate key %q (also buses[%d])", label, b.Key, prev)
		}
		seen[b.Key] = i
		if b.Volume != nil && (*b.Volume < 0 || *b.Volume > 100) {
			return invalid("%s: volume %d outside 0-100", label, *b.Volume)
		}
		switch {
		case b.Device == b.Key:
			return invalid("%s: bus %q cannot route to itself", label, b.Key)
		case strings.HasSuffix(b.Device, MonitorSuffix):
			return invalid("%s: device %q is a monitor source", label, b.Device)
		case managedPrefix != "" && strings.HasPrefix(b.Device, managedPrefix):
			return invalid("%s: device %q is a managed bus", label, b.Device)
		}
	}

	for i, r := range state.rules {
		label := fmt.Sprintf("rules[%d]", i)
		if r.Bus == "" {
			return invalid("%s: target bus is required", label)
		}
		if len(r.Criteria) == 0 {
			return invalid("%s: at least one match pattern is required", label)
		}
		for _, c := range r.Criteria {
			if !c.Field.Valid() {
				return invalid("%s: unknown match field %q", label, c.Field)
			}
			if c.Pattern == "" {
				return invalid("%s: empty %s pattern", label, c.Field)
			}
			if isGlob(c.Pattern) {
				if _, err := path.Match(strings.ToLower(c.Pattern), ""); err != nil {
					return invalid("%s: bad glob %q: %v", label, c.Pattern, err)
				}
			}
		}
	}
	return nil
}
