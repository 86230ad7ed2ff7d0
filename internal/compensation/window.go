package compensation

import "time"

const (
	// A contact signal older than this is treated as unknown, not closed.
	contactFreshFor = 5 * time.Minute

	// Lookback window for temperature-drop detection.
	dropLookback = 10 * time.Minute
)

// WindowVerdict is the outcome of a window-guard evaluation.
type WindowVerdict struct {
	Open       bool
	ByContact  bool
	ByTempDrop bool
	// Veto is Open with the operator override not set; only a true Veto
	// blocks setpoint writes.
	Veto bool
}

// WindowGuard evaluates window-open state from a contact sensor, a
// temperature-drop heuristic, or both (OR semantics). It is a pure
// evaluator; the coordinator owns the rolling history it reads.
type WindowGuard struct {
	mode          WindowMode
	dropThreshold float64
	override      bool
}

// NewWindowGuard creates a guard for the given detection mode. The override
// flag disables the veto without disabling signal computation.
func NewWindowGuard(mode WindowMode, dropThreshold float64, override bool) *WindowGuard {
	return &WindowGuard{mode: mode, dropThreshold: dropThreshold, override: override}
}

// SetOverride toggles the operator override at runtime.
func (g *WindowGuard) SetOverride(override bool) { g.override = override }

// Override reports whether the veto is currently overridden.
func (g *WindowGuard) Override() bool { return g.override }

// DropLookback is the history window the guard needs to see.
func DropLookback() time.Duration { return dropLookback }

// Evaluate combines the enabled signals for the current tick.
func (g *WindowGuard) Evaluate(now time.Time, contact ContactReading, hist *History, activity Activity) WindowVerdict {
	var v WindowVerdict

	if g.mode == WindowModeContact || g.mode == WindowModeBoth {
		v.ByContact = contactOpen(now, contact)
	}
	if g.mode == WindowModeTempDrop || g.mode == WindowModeBoth {
		v.ByTempDrop = g.tempDropOpen(now, hist, activity)
	}

	v.Open = v.ByContact || v.ByTempDrop
	v.Veto = v.Open && !g.override
	return v
}

// contactOpen trusts the contact sensor only while fresh. Stale or unknown
// readings never count as open - and never count as closed either.
func contactOpen(now time.Time, contact ContactReading) bool {
	if contact.State != ContactOpen {
		return false
	}
	if contact.At.IsZero() || now.Sub(contact.At) > contactFreshFor {
		return false
	}
	return true
}

// tempDropOpen flags a window when the external temperature has fallen by at
// least the configured threshold within the lookback window while the
// actuator is actively heating. A drop while idle is normal cooling and is
// not flagged.
func (g *WindowGuard) tempDropOpen(now time.Time, hist *History, activity Activity) bool {
	if activity != ActivityHeating {
		return false
	}
	if hist == nil {
		return false
	}
	drop, _, ok := hist.Drop(now)
	if !ok {
		return false
	}
	return drop >= g.dropThreshold
}
