package compensation

import "time"

// DefaultHeatingRate is the conservative fallback rate used when no learned
// estimate exists yet, degC per minute.
const DefaultHeatingRate = 0.1

// Prediction is a required pre-heat lead time with confidence and clamping
// flags.
type Prediction struct {
	Lead time.Duration
	// LowConfidence marks a prediction built on the fallback rate instead
	// of a learned one.
	LowConfidence bool
	// ClampedMin / ClampedMax report that the raw estimate was pulled into
	// the configured range. ClampedMax means the system may legitimately be
	// unable to reach the target in time.
	ClampedMin bool
	ClampedMax bool
}

// PredictPreheat computes how long before a target time heating must start
// to reach targetTemp. Deterministic and side-effect-free; the coordinator
// translates the lead into a scheduled start moment.
func PredictPreheat(current, targetTemp, rate float64, haveRate bool, bufferFraction float64, minLead, maxLead time.Duration) Prediction {
	if targetTemp <= current {
		return Prediction{}
	}

	var p Prediction
	if !haveRate || rate <= 0 {
		rate = DefaultHeatingRate
		p.LowConfidence = true
	}

	baseMinutes := (targetTemp - current) / rate
	buffered := baseMinutes * (1 + bufferFraction)
	lead := time.Duration(buffered * float64(time.Minute))

	if lead < minLead {
		lead = minLead
		p.ClampedMin = true
	} else if lead > maxLead {
		lead = maxLead
		p.ClampedMax = true
	}
	p.Lead = lead
	return p
}
