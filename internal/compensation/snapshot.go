package compensation

import "time"

// PreheatPlan is an armed predictive warm-up.
type PreheatPlan struct {
	TargetTime time.Time `json:"target_time"`
	TargetTemp float64   `json:"target_temp"`
}

// Snapshot is the read-only per-room state exposed to diagnostic surfaces.
// It is copied out of the coordinator; mutating it has no effect.
type Snapshot struct {
	Room        string    `json:"room"`
	Evaluated   time.Time `json:"evaluated"`
	DesiredTemp float64   `json:"desired_temp"`

	CompensationEnabled bool `json:"compensation_enabled"`
	BatterySaver        bool `json:"battery_saver"`

	Offset            float64   `json:"offset"`
	CompensatedTarget float64   `json:"compensated_target"`
	Clamped           bool      `json:"clamped"`
	LastApplied       time.Time `json:"last_applied,omitzero"`

	Activity     string `json:"hvac_activity"`
	BackoffState string `json:"backoff_state"`

	WindowOpen       bool `json:"window_open"`
	WindowByContact  bool `json:"window_by_contact"`
	WindowByTempDrop bool `json:"window_by_temp_drop"`
	WindowOverride   bool `json:"window_override"`

	LearnedRate    float64 `json:"learned_rate"`
	RateAvailable  bool    `json:"rate_available"`
	AcceptedCycles int     `json:"accepted_cycles"`

	PreheatLeadMinutes   float64      `json:"preheat_lead_minutes"`
	PreheatLowConfidence bool         `json:"preheat_low_confidence"`
	Preheat              *PreheatPlan `json:"preheat,omitempty"`

	ConsecutiveWriteFailures int  `json:"consecutive_write_failures"`
	WriteFailureAlert        bool `json:"write_failure_alert"`
}
