// Package transient supervises the plant through startup, emergencies,
// grid disturbances and shutdown. It owns the system state and arbitrates
// between candidate command sets each step: the highest-priority active
// candidate is applied whole and the rest are discarded.
package transient

import (
	"encoding/json"
	"fmt"

	"github.com/san-kum/kppsim/internal/dynamo"
)

type Kind int

const (
	Offline Kind = iota
	Starting
	Operational
	Emergency
	Shutdown
	Fault
)

var kindNames = [...]string{"offline", "starting", "operational", "emergency", "shutdown", "fault"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type Phase int

const (
	Initialization Phase = iota
	FirstInjection
	Acceleration
	Synchronization
)

var phaseNames = [...]string{"initialization", "first_injection", "acceleration", "synchronization"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Level is the emergency escalation level, 1 to MaxLevel.
type Level int

const MaxLevel Level = 3

// SystemState is a tagged value: Phase is meaningful only while Starting,
// Level only in Emergency.
type SystemState struct {
	Kind  Kind
	Phase Phase
	Level Level
}

func (s SystemState) String() string {
	switch s.Kind {
	case Starting:
		return fmt.Sprintf("%s/%s", s.Kind, s.Phase)
	case Emergency:
		return fmt.Sprintf("%s/%d", s.Kind, s.Level)
	}
	return s.Kind.String()
}

func (s SystemState) MarshalJSON() ([]byte, error) {
	v := struct {
		Kind  Kind   `json:"kind"`
		Phase *Phase `json:"phase,omitempty"`
		Level Level  `json:"level,omitempty"`
	}{Kind: s.Kind}
	switch s.Kind {
	case Starting:
		v.Phase = &s.Phase
	case Emergency:
		v.Level = s.Level
	}
	return json.Marshal(v)
}

var kindEdges = [6][6]bool{
	Offline:     {Starting: true, Emergency: true},
	Starting:    {Starting: true, Operational: true, Emergency: true, Shutdown: true, Fault: true},
	Operational: {Emergency: true, Shutdown: true},
	Emergency:   {Emergency: true, Shutdown: true},
	Shutdown:    {Offline: true, Emergency: true},
	Fault:       {Emergency: true},
}

// CanTransition reports whether from → to is a legal state change. Within
// Starting the phase may only advance by one; within Emergency the level
// may only rise.
func CanTransition(from, to SystemState) bool {
	if !kindEdges[from.Kind][to.Kind] {
		return false
	}
	switch {
	case from.Kind == Starting && to.Kind == Starting:
		return to.Phase == from.Phase+1
	case from.Kind == Emergency && to.Kind == Emergency:
		return to.Level > from.Level && to.Level <= MaxLevel
	case to.Kind == Starting:
		return to.Phase == Initialization
	case to.Kind == Operational:
		return from.Phase == Synchronization
	case to.Kind == Emergency:
		return to.Level >= 1 && to.Level <= MaxLevel
	}
	return true
}

func (s *SystemState) transition(to SystemState) error {
	if !CanTransition(*s, to) {
		return fmt.Errorf("%w: system %s -> %s", dynamo.ErrInvalidTransition, s, to)
	}
	*s = to
	return nil
}
