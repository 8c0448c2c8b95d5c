package pulse

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// invalidIndex is PA_INVALID_INDEX.
const invalidIndex = math.MaxUint32

// flexIndex decodes the index fields pactl emits as numbers, numeric strings,
// empty strings or null depending on version.
type flexIndex int64

func (f *flexIndex) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch text {
	case "", "null", "n/a":
		*f = -1
		return nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		*f = -1
		return nil
	}
	*f = flexIndex(v)
	return nil
}

func (f flexIndex) valid() bool {
	return f >= 0 && f != invalidIndex
}

func (f flexIndex) id() uint32 {
	if !f.valid() {
		return 0
	}
	return uint32(f)
}

type channelVolume struct {
	Value        int64  `json:"value"`
	ValuePercent string `json:"value_percent"`
}

type portJSON struct {
	Name         string `json:"name"`
	Availability string `json:"availability"`
}

type sinkJSON struct {
	Index       uint32                   `json:"index"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	OwnerModule flexIndex                `json:"owner_module"`
	Mute        bool                     `json:"mute"`
	Volume      map[string]channelVolume `json:"volume"`
	Ports       []portJSON               `json:"ports"`
}

// available is false only when every port reports it is unplugged.
func (s sinkJSON) available() bool {
	if len(s.Ports) == 0 {
		return true
	}
	for _, port := range s.Ports {
		if port.Availability != "not available" {
			return true
		}
	}
	return false
}

// volumePercent averages the channel volumes.
func (s sinkJSON) volumePercent() int {
	if len(s.Volume) == 0 {
		return 0
	}
	total := 0.0
	for _, ch := range s.Volume {
		if pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(ch.ValuePercent), "%"), 64); err == nil {
			total += pct
			continue
		}
		total += float64(ch.Value) * 100 / 65536
	}
	return int(math.Round(total / float64(len(s.Volume))))
}

type sinkInputJSON struct {
	Index       uint32            `json:"index"`
	Sink        flexIndex         `json:"sink"`
	OwnerModule flexIndex         `json:"owner_module"`
	Properties  map[string]string `json:"properties"`
}

type moduleJSON struct {
	Index    uint32 `json:"index"`
	Name     string `json:"name"`
	Argument string `json:"argument"`
}

func decodeJSON(data []byte, dst any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		trimmed = []byte("[]")
	}
	return json.Unmarshal(trimmed, dst)
}

// parseModuleArgs splits a module argument string ("source=x sink='y z'")
// into a map. Quoted values keep their inner spaces.
func parseModuleArgs(argument string) map[string]string {
	args := make(map[string]string)
	var token strings.Builder
	var quote rune
	flush := func() {
		key, value, ok := strings.Cut(token.String(), "=")
		if ok && key != "" {
			args[key] = value
		}
		token.Reset()
	}
	for _, r := range argument {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			token.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			token.WriteRune(r)
		}
	}
	flush()
	return args
}
