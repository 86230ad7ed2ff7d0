package compensation

import (
	"context"
	"time"
)

// SensorSource is the host-environment view of a room's sensors. Readings
// are the most recent known values; ok is false when nothing has been heard
// yet. Implemented by the MQTT service, and by fakes in tests.
type SensorSource interface {
	ExternalTemperature(room string) (Reading, bool)
	ActuatorTemperature(room string) (Reading, bool)
	HVACActivity(room string) (Activity, bool)
	WindowContact(room string) (ContactReading, bool)
}

// Actuator is the command sink for a room's actuator. WriteSetpoint blocks
// until the write outcome is known or the context expires; a timed-out write
// is a failure.
type Actuator interface {
	// DesiredSetpoint is the setpoint the actuator currently believes it
	// should hold, used for initial sync and external-change detection.
	DesiredSetpoint(room string) (float64, bool)
	WriteSetpoint(ctx context.Context, room string, value float64) error
}

// Journal records compensation history for auditing. Implementations must
// not block the control loop for long; failures are logged, never fatal.
type Journal interface {
	CompensationApplied(room string, offset, target float64, forced, clamped bool)
	WriteFailed(room string, target float64, err error)
	CycleRecorded(room string, cycle HeatingCycle, accepted bool)
	LearningReset(room string)
	PreheatArmed(room string, targetTime time.Time, targetTemp float64)
}

// Observer receives control-loop measurements (backs the metrics surface).
type Observer interface {
	WriteApplied(room string)
	WriteFailed(room string)
	Veto(room, reason string)
	CycleSkipped(room string)
	ObserveOffset(room string, offset float64)
	ObserveRate(room string, rate float64)
}

// StateStore persists learner state and snapshots across restarts.
type StateStore interface {
	SaveLearner(room string, s LearnerState) error
	LoadLearner(room string) (LearnerState, bool, error)
	SaveSnapshot(room string, s Snapshot) error
}

// ApplyHook is an optional script hook consulted before every setpoint
// write. It may adjust the target or veto the write entirely. It runs on the
// room's goroutine.
type ApplyHook func(room string, desired, offset, target float64) (adjusted float64, allow bool, err error)

// Deps bundles a coordinator's collaborators. Journal, Observer, Store and
// Hook are optional; Now defaults to time.Now.
type Deps struct {
	Sensors  SensorSource
	Actuator Actuator
	Journal  Journal
	Observer Observer
	Store    StateStore
	Hook     ApplyHook

	WriteTimeout time.Duration
	Now          func() time.Time
}
