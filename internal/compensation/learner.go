package compensation

const (
	// Cycles shorter or flatter than this are noise (a door opened, the
	// boiler short-cycled) and never feed the estimate.
	minCycleMinutes = 2.0
	minCycleDelta   = 0.2

	// Plausibility band for a single cycle's rate, degC per minute.
	minPlausibleRate = 0.01
	maxPlausibleRate = 1.0

	// Recency buffer of accepted cycles.
	maxAcceptedCycles = 10
	// Accepted cycles required before an estimate exists.
	minCyclesForEstimate = 3
	// Rejected cycles retained for diagnostics.
	maxOutlierCycles = 20
)

// LearnerState is the serializable state of a HeatingRateLearner, persisted
// so learned rates survive restarts.
type LearnerState struct {
	Accepted []HeatingCycle `json:"accepted"`
	Outliers []HeatingCycle `json:"outliers,omitempty"`
}

// HeatingRateLearner maintains a robust estimate of a room's heating rate
// from completed heating cycles. Owned by a single room coordinator; not
// safe for concurrent use.
type HeatingRateLearner struct {
	accepted []HeatingCycle
	outliers []HeatingCycle
}

// Record feeds a closed cycle. Outliers are rejected from the estimate but
// retained for diagnostics. Returns whether the cycle was accepted.
func (l *HeatingRateLearner) Record(c HeatingCycle) bool {
	if !l.plausible(c) {
		l.outliers = append(l.outliers, c)
		if len(l.outliers) > maxOutlierCycles {
			l.outliers = l.outliers[len(l.outliers)-maxOutlierCycles:]
		}
		return false
	}

	l.accepted = append(l.accepted, c)
	if len(l.accepted) > maxAcceptedCycles {
		l.accepted = l.accepted[len(l.accepted)-maxAcceptedCycles:]
	}
	return true
}

func (l *HeatingRateLearner) plausible(c HeatingCycle) bool {
	minutes := c.Duration().Minutes()
	if minutes < minCycleMinutes {
		return false
	}
	delta := c.Delta()
	if delta < 0 {
		delta = -delta
	}
	if delta < minCycleDelta {
		return false
	}
	rate := c.Rate()
	return rate >= minPlausibleRate && rate <= maxPlausibleRate
}

// Rate returns the current estimate in degrees per minute. ok is false until
// enough cycles have been accepted; callers must treat that as "no
// prediction available", never as zero.
func (l *HeatingRateLearner) Rate() (rate float64, ok bool) {
	if len(l.accepted) < minCyclesForEstimate {
		return 0, false
	}

	// Weighted average favoring recency: weight 1 + 0.1*i with i counting
	// from the oldest retained cycle.
	var sum, weights float64
	for i, c := range l.accepted {
		w := 1 + 0.1*float64(i)
		sum += c.Rate() * w
		weights += w
	}
	return sum / weights, true
}

// AcceptedCount returns the number of cycles feeding the estimate.
func (l *HeatingRateLearner) AcceptedCount() int { return len(l.accepted) }

// Outliers returns a copy of the rejected cycles kept for diagnostics.
func (l *HeatingRateLearner) Outliers() []HeatingCycle {
	out := make([]HeatingCycle, len(l.outliers))
	copy(out, l.outliers)
	return out
}

// Reset clears all cycles and returns the learner to the insufficient-data
// state.
func (l *HeatingRateLearner) Reset() {
	l.accepted = nil
	l.outliers = nil
}

// State exports the learner for persistence.
func (l *HeatingRateLearner) State() LearnerState {
	s := LearnerState{
		Accepted: make([]HeatingCycle, len(l.accepted)),
		Outliers: make([]HeatingCycle, len(l.outliers)),
	}
	copy(s.Accepted, l.accepted)
	copy(s.Outliers, l.outliers)
	return s
}

// Restore replaces the learner's state, re-applying the recency bounds.
func (l *HeatingRateLearner) Restore(s LearnerState) {
	l.accepted = append([]HeatingCycle(nil), s.Accepted...)
	l.outliers = append([]HeatingCycle(nil), s.Outliers...)
	if len(l.accepted) > maxAcceptedCycles {
		l.accepted = l.accepted[len(l.accepted)-maxAcceptedCycles:]
	}
	if len(l.outliers) > maxOutlierCycles {
		l.outliers = l.outliers[len(l.outliers)-maxOutlierCycles:]
	}
}
