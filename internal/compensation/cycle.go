package compensation

import "time"

// HeatingCycle is one contiguous interval during which the actuator was
// actively heating, used to derive the room's heating rate.
type HeatingCycle struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	StartTemp float64   `json:"start_temp"`
	EndTemp   float64   `json:"end_temp"`
}

// Duration returns the cycle length.
func (c HeatingCycle) Duration() time.Duration { return c.End.Sub(c.Start) }

// Delta returns the temperature rise over the cycle.
func (c HeatingCycle) Delta() float64 { return c.EndTemp - c.StartTemp }

// Rate returns the heating rate in degrees per minute, or 0 for a
// zero-duration cycle.
func (c HeatingCycle) Rate() float64 {
	minutes := c.Duration().Minutes()
	if minutes <= 0 {
		return 0
	}
	return c.Delta() / minutes
}

// CycleTracker turns the stream of (activity, temperature) observations into
// closed heating cycles. It is a pure state-transition function over the
// previous and current activity, invoked by the coordinator on every update.
type CycleTracker struct {
	open      bool
	startAt   time.Time
	startTemp float64
}

// Observe feeds one observation. When the actuator leaves an active-heating
// run, the completed cycle is returned with closed=true.
func (t *CycleTracker) Observe(now time.Time, activity Activity, externalTemp float64) (cycle HeatingCycle, closed bool) {
	heating := activity == ActivityHeating

	switch {
	case heating && !t.open:
		t.open = true
		t.startAt = now
		t.startTemp = externalTemp
	case !heating && t.open:
		t.open = false
		cycle = HeatingCycle{
			Start:     t.startAt,
			End:       now,
			StartTemp: t.startTemp,
			EndTemp:   externalTemp,
		}
		if cycle.End.After(cycle.Start) {
			closed = true
		}
	}
	return cycle, closed
}

// Open reports whether a heating run is currently being tracked.
func (t *CycleTracker) Open() bool { return t.open }

// Reset abandons any open cycle.
func (t *CycleTracker) Reset() { t.open = false }
