package compensation

import (
	"fmt"
	"math"
)

// Physical plausibility bounds for any temperature reading. A value outside
// this band is a sensor fault, not weather.
const (
	saneTempMin = -10.0
	saneTempMax = 50.0
)

// maxOffset caps the correction so a runaway sensor cannot push the actuator
// to an extreme target.
const maxOffset = 5.0

// ComputeOffset derives the correction offset between the trusted external
// sensor and the actuator's own sensor. The result is capped to +/-maxOffset.
func ComputeOffset(external, actuator Reading) (float64, error) {
	if err := validateReading(external); err != nil {
		return 0, err
	}
	if err := validateReading(actuator); err != nil {
		return 0, err
	}

	offset := external.Value - actuator.Value
	if offset > maxOffset {
		offset = maxOffset
	} else if offset < -maxOffset {
		offset = -maxOffset
	}
	return offset, nil
}

// CompensateTarget applies an offset to the desired temperature and clamps
// the result to the actuator's supported range. The clamped flag tells the
// caller the actuator cannot fully express the correction; the clamped value
// is still usable.
func CompensateTarget(desired, offset, setpointMin, setpointMax float64) (target float64, clamped bool) {
	target = desired + offset
	if target < setpointMin {
		return setpointMin, true
	}
	if target > setpointMax {
		return setpointMax, true
	}
	return target, false
}

func validateReading(r Reading) error {
	if r.At.IsZero() {
		return fmt.Errorf("%w: %s reading absent", ErrInvalidReading, r.Source)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: %s reading not finite", ErrInvalidReading, r.Source)
	}
	if r.Value < saneTempMin || r.Value > saneTempMax {
		return fmt.Errorf("%w: %s reading %.1f outside %.0f..%.0f", ErrInvalidReading, r.Source, r.Value, saneTempMin, saneTempMax)
	}
	return nil
}
