// Package compensation implements the per-room offset compensation control
// loop: reading a trusted external sensor, deriving a correction relative to
// the actuator's own biased sensor, and issuing corrected setpoints so the
// room - not the actuator's internal probe - reaches the desired temperature.
//
// All decision logic in this package is pure and time-injected; the only
// goroutine lives in Coordinator.Run.
package compensation

import "time"

// ReadingSource tags where a temperature reading came from.
type ReadingSource string

const (
	SourceExternal ReadingSource = "external"
	SourceActuator ReadingSource = "actuator"
)

// Reading is a single temperature sample.
type Reading struct {
	Value  float64       `json:"value"`
	At     time.Time     `json:"at"`
	Source ReadingSource `json:"source"`
}

// Activity is the actuator's reported HVAC activity.
type Activity int

const (
	ActivityUnknown Activity = iota
	ActivityIdle
	ActivityHeating
	ActivityCooling
)

// String returns a human-readable name for the activity.
func (a Activity) String() string {
	switch a {
	case ActivityIdle:
		return "idle"
	case ActivityHeating:
		return "heating"
	case ActivityCooling:
		return "cooling"
	default:
		return "unknown"
	}
}

// ParseActivity maps a wire value to an Activity. Unrecognized values map to
// ActivityUnknown, which downgrades the backoff policy to time-only gating.
func ParseActivity(s string) Activity {
	switch s {
	case "idle", "off":
		return ActivityIdle
	case "heating", "heat":
		return ActivityHeating
	case "cooling", "cool":
		return ActivityCooling
	default:
		return ActivityUnknown
	}
}

// Active reports whether the actuator is in the middle of a heating or
// cooling run.
func (a Activity) Active() bool {
	return a == ActivityHeating || a == ActivityCooling
}

// ContactState is the window contact sensor state.
type ContactState int

const (
	ContactUnknown ContactState = iota
	ContactClosed
	ContactOpen
)

// String returns a human-readable name for the contact state.
func (c ContactState) String() string {
	switch c {
	case ContactClosed:
		return "closed"
	case ContactOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ContactReading is a window contact sample with its arrival time, used for
// staleness checks.
type ContactReading struct {
	State ContactState
	At    time.Time
}

// WindowMode selects which window-open signals a room evaluates.
type WindowMode int

const (
	WindowModeNone WindowMode = iota
	WindowModeContact
	WindowModeTempDrop
	WindowModeBoth
)

// String returns the configuration name of the mode.
func (m WindowMode) String() string {
	switch m {
	case WindowModeContact:
		return "contact"
	case WindowModeTempDrop:
		return "temp_drop"
	case WindowModeBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseWindowMode maps a configuration value to a WindowMode.
func ParseWindowMode(s string) WindowMode {
	switch s {
	case "contact":
		return WindowModeContact
	case "temp_drop":
		return WindowModeTempDrop
	case "both":
		return WindowModeBoth
	default:
		return WindowModeNone
	}
}

// RoomConfig is the immutable per-room configuration. It is replaced
// wholesale on reconfiguration, never partially mutated.
type RoomConfig struct {
	Name string

	// Compensation gating
	Tolerance    float64
	Backoff      time.Duration
	BatterySaver bool

	// Window detection
	WindowMode         WindowMode
	DropThreshold      float64
	WindowOverride     bool
	WindowOpenSetpoint *float64 // optional setpoint commanded while open

	// Predictive pre-heat
	PreheatEnabled bool
	BufferFraction float64
	MinPreheat     time.Duration
	MaxPreheat     time.Duration

	// Actuator's declared supported setpoint range
	SetpointMin float64
	SetpointMax float64

	// Periodic re-evaluation interval
	TickInterval time.Duration
}
