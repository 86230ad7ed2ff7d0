package compensation

import (
	"math"
	"testing"
	"time"
)

func TestPredictPreheat_LearnedRate(t *testing.T) {
	// 18 -> 21 at 0.084 degC/min: 35.71 min, +10% buffer = 39.29 min
	p := PredictPreheat(18.0, 21.0, 0.084, true, 0.10, 15*time.Minute, 120*time.Minute)

	wantMinutes := (21.0 - 18.0) / 0.084 * 1.10
	if math.Abs(p.Lead.Minutes()-wantMinutes) > 0.01 {
		t.Errorf("Lead = %v min, want %.2f min", p.Lead.Minutes(), wantMinutes)
	}
	if p.LowConfidence {
		t.Error("LowConfidence = true with a learned rate, want false")
	}
	if p.ClampedMin || p.ClampedMax {
		t.Errorf("clamp flags = (%v, %v), want none", p.ClampedMin, p.ClampedMax)
	}
}

func TestPredictPreheat_FallbackRate(t *testing.T) {
	p := PredictPreheat(18.0, 21.0, 0, false, 0.10, 15*time.Minute, 120*time.Minute)

	// (3 / 0.1) * 1.1 = 33 minutes at the fallback rate
	if math.Abs(p.Lead.Minutes()-33.0) > 0.01 {
		t.Errorf("Lead = %v min, want 33 min", p.Lead.Minutes())
	}
	if !p.LowConfidence {
		t.Error("LowConfidence = false without a learned rate, want true")
	}
}

func TestPredictPreheat_TargetNotAboveCurrent(t *testing.T) {
	for _, target := range []float64{20.0, 19.5} {
		p := PredictPreheat(20.0, target, 0.1, true, 0.10, 15*time.Minute, 120*time.Minute)
		if p.Lead != 0 {
			t.Errorf("Lead = %v for target %.1f at current 20.0, want 0", p.Lead, target)
		}
	}
}

func TestPredictPreheat_Clamping(t *testing.T) {
	// Tiny rise: raw lead below the minimum
	p := PredictPreheat(20.8, 21.0, 0.1, true, 0, 15*time.Minute, 120*time.Minute)
	if p.Lead != 15*time.Minute || !p.ClampedMin {
		t.Errorf("small rise: Lead = %v, ClampedMin = %v, want 15m clamped", p.Lead, p.ClampedMin)
	}

	// Huge rise with a slow rate: raw lead beyond the maximum
	p = PredictPreheat(12.0, 22.0, 0.02, true, 0.10, 15*time.Minute, 120*time.Minute)
	if p.Lead != 120*time.Minute || !p.ClampedMax {
		t.Errorf("large rise: Lead = %v, ClampedMax = %v, want 120m clamped", p.Lead, p.ClampedMax)
	}
}

func TestCycleTracker_Transitions(t *testing.T) {
	tr := &CycleTracker{}
	base := time.Now()

	// idle -> heating opens a cycle
	if _, closed := tr.Observe(base, ActivityHeating, 18.0); closed {
		t.Error("opening a cycle should not close one")
	}
	if !tr.Open() {
		t.Error("Open() = false during a heating run")
	}

	// heating -> heating keeps it open
	if _, closed := tr.Observe(base.Add(10*time.Minute), ActivityHeating, 18.8); closed {
		t.Error("continued heating should not close the cycle")
	}

	// heating -> idle closes it
	cycle, closed := tr.Observe(base.Add(30*time.Minute), ActivityIdle, 20.4)
	if !closed {
		t.Fatal("leaving the heating run should close the cycle")
	}
	if cycle.Start != base || cycle.StartTemp != 18.0 {
		t.Errorf("cycle start = (%v, %v), want (%v, 18.0)", cycle.Start, cycle.StartTemp, base)
	}
	if cycle.EndTemp != 20.4 {
		t.Errorf("cycle EndTemp = %v, want 20.4", cycle.EndTemp)
	}
	if math.Abs(cycle.Rate()-0.08) > 1e-9 {
		t.Errorf("cycle Rate() = %v, want 0.08", cycle.Rate())
	}

	// idle -> idle is a no-op
	if _, closed := tr.Observe(base.Add(time.Hour), ActivityIdle, 20.0); closed {
		t.Error("idle observation should not close a cycle")
	}
}

func TestCycleTracker_ZeroDurationCycleDiscarded(t *testing.T) {
	tr := &CycleTracker{}
	now := time.Now()

	tr.Observe(now, ActivityHeating, 18.0)
	if _, closed := tr.Observe(now, ActivityIdle, 18.0); closed {
		t.Error("a zero-duration cycle should be discarded")
	}
}

func TestCycleTracker_ResetAbandonsOpenCycle(t *testing.T) {
	tr := &CycleTracker{}
	base := time.Now()

	tr.Observe(base, ActivityHeating, 18.0)
	tr.Reset()

	if tr.Open() {
		t.Error("Open() = true after reset")
	}
	if _, closed := tr.Observe(base.Add(30*time.Minute), ActivityIdle, 20.0); closed {
		t.Error("abandoned cycle should not close")
	}
}
