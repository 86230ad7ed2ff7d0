package compensation

import (
	"errors"
	"math"
	"testing"
	"time"
)

func reading(value float64, source ReadingSource) Reading {
	return Reading{Value: value, At: time.Now(), Source: source}
}

func TestComputeOffset(t *testing.T) {
	tests := []struct {
		name     string
		external float64
		actuator float64
		want     float64
	}{
		{name: "actuator_reads_high", external: 20.0, actuator: 22.5, want: -2.5},
		{name: "actuator_reads_low", external: 21.0, actuator: 19.5, want: 1.5},
		{name: "no_bias", external: 20.0, actuator: 20.0, want: 0},
		{name: "capped_positive", external: 30.0, actuator: 15.0, want: 5.0},
		{name: "capped_negative", external: 10.0, actuator: 25.0, want: -5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeOffset(reading(tt.external, SourceExternal), reading(tt.actuator, SourceActuator))
			if err != nil {
				t.Fatalf("ComputeOffset() error = %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeOffset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComputeOffset_InvalidReadings(t *testing.T) {
	valid := reading(20.0, SourceActuator)

	tests := []struct {
		name     string
		external Reading
	}{
		{name: "absent", external: Reading{Source: SourceExternal}},
		{name: "nan", external: reading(math.NaN(), SourceExternal)},
		{name: "inf", external: reading(math.Inf(1), SourceExternal)},
		{name: "below_sane", external: reading(-15.0, SourceExternal)},
		{name: "above_sane", external: reading(55.0, SourceExternal)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeOffset(tt.external, valid)
			if !errors.Is(err, ErrInvalidReading) {
				t.Errorf("ComputeOffset() error = %v, want ErrInvalidReading", err)
			}
		})
	}

	// Bad actuator reading must fail too
	_, err := ComputeOffset(valid, Reading{Source: SourceActuator})
	if !errors.Is(err, ErrInvalidReading) {
		t.Errorf("ComputeOffset() with absent actuator reading error = %v, want ErrInvalidReading", err)
	}
}

func TestCompensateTarget(t *testing.T) {
	tests := []struct {
		name        string
		desired     float64
		offset      float64
		wantTarget  float64
		wantClamped bool
	}{
		{name: "plain", desired: 21.0, offset: -2.5, wantTarget: 18.5},
		{name: "positive_offset", desired: 20.0, offset: 1.5, wantTarget: 21.5},
		{name: "clamped_low", desired: 6.0, offset: -4.0, wantTarget: 5.0, wantClamped: true},
		{name: "clamped_high", desired: 28.0, offset: 4.0, wantTarget: 30.0, wantClamped: true},
		{name: "at_boundary", desired: 10.0, offset: -5.0, wantTarget: 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, clamped := CompensateTarget(tt.desired, tt.offset, 5.0, 30.0)
			if math.Abs(target-tt.wantTarget) > 1e-9 {
				t.Errorf("CompensateTarget() target = %v, want %v", target, tt.wantTarget)
			}
			if clamped != tt.wantClamped {
				t.Errorf("CompensateTarget() clamped = %v, want %v", clamped, tt.wantClamped)
			}
		})
	}
}
