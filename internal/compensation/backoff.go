package compensation

import "time"

// BackoffState is the battery-saving write-gate state.
type BackoffState int

const (
	// BackoffIdle means no pending need to update.
	BackoffIdle BackoffState = iota
	// BackoffEligible means an update is due but has not been sent yet.
	BackoffEligible
	// BackoffCoolingDown means an update was sent and the minimum interval
	// has not elapsed yet.
	BackoffCoolingDown
)

// String returns a human-readable name for the state.
func (s BackoffState) String() string {
	switch s {
	case BackoffIdle:
		return "idle"
	case BackoffEligible:
		return "eligible"
	case BackoffCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// BackoffPolicy decides whether a computed offset update may be applied now,
// limiting actuator writes to save battery. It is not safe for concurrent
// use; each room coordinator owns one instance.
type BackoffPolicy struct {
	tolerance    float64
	interval     time.Duration
	saverEnabled bool

	state       BackoffState
	everApplied bool
	lastOffset  float64
	lastApplied time.Time
}

// NewBackoffPolicy creates a policy with the room's tolerance and minimum
// interval. With saverEnabled false the interval and activity gates are
// skipped and only the tolerance gate remains.
func NewBackoffPolicy(tolerance float64, interval time.Duration, saverEnabled bool) *BackoffPolicy {
	return &BackoffPolicy{
		tolerance:    tolerance,
		interval:     interval,
		saverEnabled: saverEnabled,
		state:        BackoffIdle,
	}
}

// SetSaverEnabled toggles the battery-saver gates at runtime. With saver off
// a pending cooldown ends on the next evaluation.
func (p *BackoffPolicy) SetSaverEnabled(enabled bool) { p.saverEnabled = enabled }

// SaverEnabled reports whether the interval and activity gates are active.
func (p *BackoffPolicy) SaverEnabled() bool { return p.saverEnabled }

// Evaluate advances the state machine for the current tick and reports
// whether a write may proceed. Forced updates bypass every gate, including
// the HVAC-activity veto.
func (p *BackoffPolicy) Evaluate(now time.Time, offset float64, activity Activity, force bool) bool {
	if force {
		return true
	}

	if p.state == BackoffCoolingDown {
		if !p.saverEnabled {
			p.state = BackoffIdle
		} else if now.Sub(p.lastApplied) >= p.interval {
			// An update mid-run is deferred even past the interval. An
			// unknown activity signal degrades to time-only gating.
			if !activity.Active() {
				p.state = BackoffIdle
			}
		}
	}

	if p.state == BackoffIdle {
		delta := offset - p.lastOffset
		if delta < 0 {
			delta = -delta
		}
		if !p.everApplied || delta >= p.tolerance {
			p.state = BackoffEligible
		}
	}

	return p.state == BackoffEligible
}

// RecordApplied transitions to cooling-down after a successful write,
// recording the applied offset and timestamp. A failed write must not call
// this; the state then stays eligible and the next tick retries.
func (p *BackoffPolicy) RecordApplied(now time.Time, offset float64) {
	p.state = BackoffCoolingDown
	p.everApplied = true
	p.lastOffset = offset
	p.lastApplied = now
}

// State returns the current gate state.
func (p *BackoffPolicy) State() BackoffState { return p.state }

// LastApplied returns the timestamp and offset of the last successful write.
func (p *BackoffPolicy) LastApplied() (time.Time, float64) {
	return p.lastApplied, p.lastOffset
}
