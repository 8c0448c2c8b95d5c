package reconcile

import (
	"fmt"
	"time"
)

// Phase names a reconciliation phase.
type Phase string

const (
	PhaseMaterialize Phase = "materialize"
	PhaseRoute       Phase = "route"
	PhaseAssign      Phase = "assign"
)

// ReferenceKind classifies an unresolved reference.
type ReferenceKind string

const (
	// BusWithoutDevice: the bus's target device is not present.
	BusWithoutDevice ReferenceKind = "bus_without_device"
	// RuleWithoutBus: the rule's target bus is not materialized.
	RuleWithoutBus ReferenceKind = "rule_without_bus"
)

// UnresolvedReference is reported, never raised.
type UnresolvedReference struct {
	Kind   ReferenceKind `json:"kind"`
	Bus    string        `json:"bus"`
	Device string        `json:"device,omitempty"`
	Rule   string        `json:"rule,omitempty"`
}

func (u UnresolvedReference) String() string {
	switch u.Kind {
	case BusWithoutDevice:
		return fmt.Sprintf("bus %s: device %q not present", u.Bus, u.Device)
	case RuleWithoutBus:
		return fmt.Sprintf("rule %s: bus not materialized", u.Rule)
	default:
		return string(u.Kind)
	}
}

// CommandFailure records one rejected command.
type CommandFailure struct {
	Phase  Phase  `json:"phase"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// BusState is the live view of a managed bus after a pass.
type BusState struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	RoutedTo string `json:"routed_to,omitempty"`
	Volume   int    `json:"volume"`
	Mute     bool   `json:"mute"`
}

// Result summarizes one pass.
type Result struct {
	PassID            string                `json:"pass_id"`
	Reason            string                `json:"reason"`
	StartedAt         time.Time             `json:"started_at"`
	Duration          time.Duration         `json:"duration"`
	SinksCreated      int                   `json:"sinks_created"`
	SinksRemoved      int                   `json:"sinks_removed"`
	AttributesChanged int                   `json:"attributes_changed"`
	RoutesChanged     int                   `json:"routes_changed"`
	StreamsMoved      int                   `json:"streams_moved"`
	Unresolved        []UnresolvedReference `json:"unresolved,omitempty"`
	Rejected          []CommandFailure      `json:"rejected,omitempty"`
	Buses             []BusState            `json:"buses,omitempty"`
}

// Changes counts the successful mutations the pass made.
func (r Result) Changes() int {
	return r.SinksCreated + r.SinksRemoved + r.AttributesChanged + r.RoutesChanged + r.StreamsMoved
}

// Summary renders the counters on one line.
func (r Result) Summary() string {
	return fmt.Sprintf("created=%d removed=%d attrs=%d routes=%d moved=%d unresolved=%d rejected=%d",
		r.SinksCreated, r.SinksRemoved, r.AttributesChanged, r.RoutesChanged, r.StreamsMoved,
		len(r.Unresolved), len(r.Rejected))
}
