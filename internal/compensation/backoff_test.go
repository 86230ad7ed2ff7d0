package compensation

import (
	"testing"
	"time"
)

func TestBackoffPolicy_FirstWriteAlwaysEligible(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	if !p.Evaluate(now, 0.05, ActivityIdle, false) {
		t.Error("first update should be eligible even below tolerance")
	}
	if p.State() != BackoffEligible {
		t.Errorf("State() = %v, want eligible", p.State())
	}
}

func TestBackoffPolicy_ToleranceGate(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityIdle, false)
	p.RecordApplied(now, -2.0)

	later := now.Add(20 * time.Minute)

	// Change below tolerance stays idle
	if p.Evaluate(later, -2.2, ActivityIdle, false) {
		t.Error("offset change below tolerance should not be eligible")
	}
	if p.State() != BackoffIdle {
		t.Errorf("State() = %v, want idle", p.State())
	}

	// Change at tolerance becomes eligible
	if !p.Evaluate(later, -2.3, ActivityIdle, false) {
		t.Error("offset change at tolerance should be eligible")
	}
}

func TestBackoffPolicy_CoolingDownHoldsWrites(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityIdle, false)
	p.RecordApplied(now, -2.0)

	// Large change inside the interval is still held
	if p.Evaluate(now.Add(5*time.Minute), -4.0, ActivityIdle, false) {
		t.Error("write inside cooldown interval should be held")
	}
	if p.State() != BackoffCoolingDown {
		t.Errorf("State() = %v, want cooling_down", p.State())
	}

	// Once the interval elapses the same change is eligible
	if !p.Evaluate(now.Add(16*time.Minute), -4.0, ActivityIdle, false) {
		t.Error("write after cooldown interval should be eligible")
	}
}

func TestBackoffPolicy_ActivityDefersPastInterval(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityHeating, false)
	p.RecordApplied(now, -2.0)

	later := now.Add(20 * time.Minute)

	// Mid-run: deferred even past the interval
	if p.Evaluate(later, -4.0, ActivityHeating, false) {
		t.Error("update during active heating run should be deferred")
	}

	// Run ends: eligible
	if !p.Evaluate(later.Add(time.Minute), -4.0, ActivityIdle, false) {
		t.Error("update after heating run ends should be eligible")
	}
}

func TestBackoffPolicy_UnknownActivityDegradesToTimeOnly(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityUnknown, false)
	p.RecordApplied(now, -2.0)

	if !p.Evaluate(now.Add(16*time.Minute), -4.0, ActivityUnknown, false) {
		t.Error("unknown activity should gate on time only")
	}
}

func TestBackoffPolicy_ForceBypassesAllGates(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityHeating, false)
	p.RecordApplied(now, -2.0)

	// Inside cooldown, mid-run, below tolerance: forced still proceeds
	if !p.Evaluate(now.Add(time.Minute), -2.05, ActivityHeating, true) {
		t.Error("forced update should bypass every gate")
	}
}

func TestBackoffPolicy_SaverDisabledSkipsIntervalAndActivity(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, false)
	now := time.Now()

	p.Evaluate(now, -2.0, ActivityHeating, false)
	p.RecordApplied(now, -2.0)

	// Immediately after a write, during a heating run: only the tolerance
	// gate applies
	if !p.Evaluate(now.Add(time.Second), -4.0, ActivityHeating, false) {
		t.Error("with saver disabled a tolerance-exceeding update should be immediate")
	}
	if p.Evaluate(now.Add(2*time.Second), -2.1, ActivityIdle, false) {
		t.Error("tolerance gate should still hold with saver disabled")
	}
}

func TestBackoffPolicy_FailedWriteStaysEligible(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	if !p.Evaluate(now, -2.0, ActivityIdle, false) {
		t.Fatal("first update should be eligible")
	}
	// Write failed: RecordApplied not called. Next tick must retry.
	if !p.Evaluate(now.Add(30*time.Second), -2.0, ActivityIdle, false) {
		t.Error("after a failed write the next evaluation should still allow the write")
	}
	if p.State() != BackoffEligible {
		t.Errorf("State() = %v, want eligible", p.State())
	}
}

func TestBackoffPolicy_LastApplied(t *testing.T) {
	p := NewBackoffPolicy(0.3, 15*time.Minute, true)
	now := time.Now()

	p.RecordApplied(now, -1.5)
	at, offset := p.LastApplied()
	if !at.Equal(now) || offset != -1.5 {
		t.Errorf("LastApplied() = (%v, %v), want (%v, -1.5)", at, offset, now)
	}
}
