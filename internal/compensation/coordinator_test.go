package compensation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSensors struct {
	mu           sync.Mutex
	external     Reading
	haveExternal bool
	actuator     Reading
	haveActuator bool
	activity     Activity
	haveActivity bool
	contact      ContactReading
	haveContact  bool
}

func (f *fakeSensors) setExternal(at time.Time, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external = Reading{Value: v, At: at, Source: SourceExternal}
	f.haveExternal = true
}

func (f *fakeSensors) setActuatorTemp(at time.Time, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actuator = Reading{Value: v, At: at, Source: SourceActuator}
	f.haveActuator = true
}

func (f *fakeSensors) setActivity(a Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = a
	f.haveActivity = true
}

func (f *fakeSensors) setContact(at time.Time, state ContactState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contact = ContactReading{State: state, At: at}
	f.haveContact = true
}

func (f *fakeSensors) ExternalTemperature(string) (Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.external, f.haveExternal
}

func (f *fakeSensors) ActuatorTemperature(string) (Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actuator, f.haveActuator
}

func (f *fakeSensors) HVACActivity(string) (Activity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activity, f.haveActivity
}

func (f *fakeSensors) WindowContact(string) (ContactReading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contact, f.haveContact
}

type fakeActuator struct {
	mu         sync.Mutex
	target     float64
	haveTarget bool
	failWith   error
	writes     []float64
}

func (f *fakeActuator) setTarget(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = v
	f.haveTarget = true
}

func (f *fakeActuator) DesiredSetpoint(string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target, f.haveTarget
}

func (f *fakeActuator) WriteSetpoint(_ context.Context, _ string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.writes = append(f.writes, value)
	f.target = value
	f.haveTarget = true
	return nil
}

func (f *fakeActuator) writeLog() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.writes))
	copy(out, f.writes)
	return out
}

// testClock is a settable time source for deterministic evaluation.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		Name:         "living_room",
		Tolerance:    0.3,
		Backoff:      15 * time.Minute,
		BatterySaver: true,
		SetpointMin:  5.0,
		SetpointMax:  30.0,
	}
}

func newTestCoordinator(t *testing.T, cfg RoomConfig) (*Coordinator, *fakeSensors, *fakeActuator, *testClock) {
	t.Helper()
	sensors := &fakeSensors{}
	actuator := &fakeActuator{}
	clock := &testClock{now: time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)}

	c := NewCoordinator(cfg, Deps{
		Sensors:  sensors,
		Actuator: actuator,
		Now:      clock.Now,
	})
	return c, sensors, actuator, clock
}

// runQueued executes one queued request on the current goroutine, standing in
// for the room loop.
func runQueued(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case w := <-c.queue:
		w(context.Background())
	default:
		t.Fatal("no queued work to run")
	}
}

func TestCoordinator_AppliesCompensatedSetpoint(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	// External says 20.0, the actuator's probe says 22.5: the room is
	// colder than the actuator believes, so it must aim lower.
	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	writes := actuator.writeLog()
	if len(writes) != 1 {
		t.Fatalf("writes = %v, want exactly one", writes)
	}
	if writes[0] != 18.5 {
		t.Errorf("written setpoint = %v, want 18.5 (21.0 desired with -2.5 offset)", writes[0])
	}

	snap := c.Snapshot()
	if snap.DesiredTemp != 21.0 {
		t.Errorf("snapshot DesiredTemp = %v, want 21.0 adopted from actuator", snap.DesiredTemp)
	}
	if snap.Offset != -2.5 {
		t.Errorf("snapshot Offset = %v, want -2.5", snap.Offset)
	}
	if snap.CompensatedTarget != 18.5 {
		t.Errorf("snapshot CompensatedTarget = %v, want 18.5", snap.CompensatedTarget)
	}
	if snap.BackoffState != "cooling_down" {
		t.Errorf("snapshot BackoffState = %q, want cooling_down", snap.BackoffState)
	}
}

func TestCoordinator_SmallOffsetChangeHeldByTolerance(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	// Past the backoff interval but the offset barely moved
	clock.Advance(20 * time.Minute)
	sensors.setExternal(clock.Now(), 20.1)
	sensors.setActuatorTemp(clock.Now(), 22.5)
	c.evaluate(context.Background(), false)

	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Errorf("writes = %v, want only the initial one", writes)
	}
}

func TestCoordinator_ForceBypassesToleranceAndBackoff(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	// Immediately after, inside cooldown, with an unchanged offset
	clock.Advance(10 * time.Second)
	sensors.setExternal(clock.Now(), 20.1)
	c.evaluate(context.Background(), true)

	writes := actuator.writeLog()
	if len(writes) != 2 {
		t.Fatalf("writes = %v, want forced second write", writes)
	}
	if writes[1] != 18.6 {
		t.Errorf("forced write = %v, want 18.6", writes[1])
	}
}

func TestCoordinator_WindowVetoBlocksEvenForced(t *testing.T) {
	cfg := testRoomConfig()
	cfg.WindowMode = WindowModeContact
	c, sensors, actuator, clock := newTestCoordinator(t, cfg)
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	sensors.setContact(now, ContactOpen)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)
	c.evaluate(context.Background(), true)

	if writes := actuator.writeLog(); len(writes) != 0 {
		t.Errorf("writes = %v, want none during window veto", writes)
	}

	snap := c.Snapshot()
	if !snap.WindowOpen || !snap.WindowByContact {
		t.Errorf("snapshot window flags = %+v, want open by contact", snap)
	}

	// Window closes: compensation resumes
	sensors.setContact(clock.Now(), ContactClosed)
	c.evaluate(context.Background(), false)
	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Errorf("writes after close = %v, want one", writes)
	}
}

func TestCoordinator_WindowOpenCommandsMinimalSetpoint(t *testing.T) {
	open := 5.0
	cfg := testRoomConfig()
	cfg.WindowMode = WindowModeContact
	cfg.WindowOpenSetpoint = &open
	c, sensors, actuator, clock := newTestCoordinator(t, cfg)
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)
	sensors.setContact(now, ContactOpen)

	c.evaluate(context.Background(), false)

	writes := actuator.writeLog()
	if len(writes) != 1 || writes[0] != 5.0 {
		t.Fatalf("writes = %v, want single minimal-setpoint command 5.0", writes)
	}

	// Still open on the next tick: command not repeated
	clock.Advance(30 * time.Second)
	c.evaluate(context.Background(), false)
	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Errorf("writes = %v, want no repeat while open", writes)
	}
}

func TestCoordinator_InvalidReadingSkipsCycle(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 99.0) // sensor fault
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	if writes := actuator.writeLog(); len(writes) != 0 {
		t.Errorf("writes = %v, want none on invalid reading", writes)
	}

	// Sensor recovers
	sensors.setExternal(clock.Now(), 20.0)
	c.evaluate(context.Background(), false)
	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Errorf("writes after recovery = %v, want one", writes)
	}
}

func TestCoordinator_WriteFailureRetriesNextTick(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)
	actuator.failWith = errors.New("radio unreachable")

	for i := 0; i < 3; i++ {
		c.evaluate(context.Background(), false)
		clock.Advance(30 * time.Second)
	}

	snap := c.Snapshot()
	if snap.ConsecutiveWriteFailures != 3 {
		t.Errorf("ConsecutiveWriteFailures = %d, want 3", snap.ConsecutiveWriteFailures)
	}
	if !snap.WriteFailureAlert {
		t.Error("WriteFailureAlert = false after 3 consecutive failures, want true")
	}

	// Transport recovers: the very next evaluation writes without waiting
	// for the backoff interval
	actuator.failWith = nil
	c.evaluate(context.Background(), false)

	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Fatalf("writes = %v, want one after recovery", writes)
	}
	snap = c.Snapshot()
	if snap.ConsecutiveWriteFailures != 0 || snap.WriteFailureAlert {
		t.Errorf("failure state after recovery = (%d, %v), want cleared", snap.ConsecutiveWriteFailures, snap.WriteFailureAlert)
	}
}

func TestCoordinator_AdoptsExternalTargetChange(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	// Someone turns the dial on the device well after our write
	clock.Advance(2 * time.Minute)
	actuator.setTarget(23.0)
	c.evaluate(context.Background(), false)

	if snap := c.Snapshot(); snap.DesiredTemp != 23.0 {
		t.Errorf("DesiredTemp = %v, want 23.0 adopted from device", snap.DesiredTemp)
	}
}

func TestCoordinator_IgnoresTargetEchoWithinCooldown(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	// The device reports a lagging target right after our write
	clock.Advance(10 * time.Second)
	actuator.setTarget(21.0)
	c.evaluate(context.Background(), false)

	if snap := c.Snapshot(); snap.DesiredTemp != 21.0 {
		t.Errorf("DesiredTemp = %v, want original 21.0", snap.DesiredTemp)
	}
}

func TestCoordinator_PreheatFiresForcedWarmup(t *testing.T) {
	cfg := testRoomConfig()
	cfg.PreheatEnabled = true
	cfg.BufferFraction = 0.10
	cfg.MinPreheat = 15 * time.Minute
	cfg.MaxPreheat = 120 * time.Minute
	c, sensors, actuator, clock := newTestCoordinator(t, cfg)
	now := clock.Now()

	// No sensor bias: the warm-up write equals the preheat target
	sensors.setExternal(now, 18.0)
	sensors.setActuatorTemp(now, 18.0)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(18.0)

	c.evaluate(context.Background(), false)

	// At the fallback rate 18 -> 21 takes 33 buffered minutes; a deadline
	// 30 minutes out means the start moment has already passed
	c.preheat = &PreheatPlan{TargetTime: clock.Now().Add(30 * time.Minute), TargetTemp: 21.0}
	clock.Advance(30 * time.Second)
	c.evaluate(context.Background(), false)

	writes := actuator.writeLog()
	if len(writes) != 1 || writes[0] != 21.0 {
		t.Fatalf("writes = %v, want forced warm-up write of 21.0", writes)
	}
	if c.preheat != nil {
		t.Error("preheat should disarm after firing")
	}
	if snap := c.Snapshot(); snap.DesiredTemp != 21.0 {
		t.Errorf("DesiredTemp = %v, want 21.0 after warm-up", snap.DesiredTemp)
	}
}

func TestCoordinator_PreheatNotDueYetWaits(t *testing.T) {
	cfg := testRoomConfig()
	cfg.PreheatEnabled = true
	cfg.BufferFraction = 0.10
	cfg.MinPreheat = 15 * time.Minute
	cfg.MaxPreheat = 120 * time.Minute
	c, sensors, actuator, clock := newTestCoordinator(t, cfg)
	now := clock.Now()

	sensors.setExternal(now, 18.0)
	sensors.setActuatorTemp(now, 18.0)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(18.0)

	c.evaluate(context.Background(), false)

	// Deadline 3 hours out: start is far in the future
	c.preheat = &PreheatPlan{TargetTime: clock.Now().Add(3 * time.Hour), TargetTemp: 21.0}
	clock.Advance(30 * time.Second)
	c.evaluate(context.Background(), false)

	if writes := actuator.writeLog(); len(writes) != 0 {
		t.Errorf("writes = %v, want none before the start moment", writes)
	}
	if c.preheat == nil {
		t.Error("preheat should stay armed until it fires")
	}
}

func TestCoordinator_LearnsFromClosedCycles(t *testing.T) {
	c, sensors, _, clock := newTestCoordinator(t, testRoomConfig())

	// Three plausible heating cycles at 0.08 degC/min
	for i := 0; i < 3; i++ {
		start := clock.Now()
		sensors.setExternal(start, 18.0)
		sensors.setActuatorTemp(start, 18.0)
		sensors.setActivity(ActivityHeating)
		c.evaluate(context.Background(), false)

		clock.Advance(30 * time.Minute)
		sensors.setExternal(clock.Now(), 20.4)
		sensors.setActuatorTemp(clock.Now(), 20.4)
		sensors.setActivity(ActivityIdle)
		c.evaluate(context.Background(), false)

		clock.Advance(time.Hour)
	}

	snap := c.Snapshot()
	if snap.AcceptedCycles != 3 {
		t.Fatalf("AcceptedCycles = %d, want 3", snap.AcceptedCycles)
	}
	if !snap.RateAvailable {
		t.Fatal("RateAvailable = false after 3 cycles, want true")
	}
	if snap.LearnedRate < 0.079 || snap.LearnedRate > 0.081 {
		t.Errorf("LearnedRate = %v, want about 0.08", snap.LearnedRate)
	}
}

func TestCoordinator_QueueOperations(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	// Rejected preheat: target time in the past
	err := c.SetPreheat(now.Add(-time.Hour), 21.0)
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("SetPreheat(past) error = %v, want ErrInvalidSchedule", err)
	}

	// Accepted preheat
	if err := c.SetPreheat(now.Add(4*time.Hour), 22.0); err != nil {
		t.Errorf("SetPreheat(future) error = %v, want nil", err)
	}
	if snap := c.Snapshot(); snap.Preheat == nil || snap.Preheat.TargetTemp != 22.0 {
		t.Errorf("snapshot Preheat = %+v, want armed at 22.0", c.Snapshot().Preheat)
	}

	// Reset disarms the pending warm-up along with the learned state
	if err := c.ResetLearning(); err != nil {
		t.Errorf("ResetLearning() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().Preheat != nil {
		if time.Now().After(deadline) {
			t.Fatal("preheat still armed after reset")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestManager_RoutingAndLookup(t *testing.T) {
	m := NewManager()
	c1, _, _, _ := newTestCoordinator(t, RoomConfig{Name: "living_room", Tolerance: 0.3, SetpointMin: 5, SetpointMax: 30})
	c2, _, _, _ := newTestCoordinator(t, RoomConfig{Name: "bedroom", Tolerance: 0.3, SetpointMin: 5, SetpointMax: 30})
	m.Add(c1)
	m.Add(c2)

	if got := m.Rooms(); len(got) != 2 || got[0] != "living_room" || got[1] != "bedroom" {
		t.Errorf("Rooms() = %v, want configuration order", got)
	}

	if _, err := m.Get("living_room"); err != nil {
		t.Errorf("Get(living_room) error = %v", err)
	}
	if _, err := m.Get("garage"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("Get(garage) error = %v, want ErrUnknownRoom", err)
	}
	if err := m.ForceCompensation("garage"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("ForceCompensation(garage) error = %v, want ErrUnknownRoom", err)
	}
	if err := m.Evaluate("garage"); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("Evaluate(garage) error = %v, want ErrUnknownRoom", err)
	}
	if err := m.Evaluate(""); err != nil {
		t.Errorf("Evaluate(all) error = %v", err)
	}

	// Updates for unconfigured rooms are dropped without panicking
	m.Notify("garage", Reading{Source: SourceExternal})

	snaps := m.Snapshots()
	if len(snaps) != 2 || snaps[0].Room != "living_room" || snaps[1].Room != "bedroom" {
		t.Errorf("Snapshots() rooms = %v, want configuration order", snaps)
	}
}

func TestCoordinator_PreheatRetriesAfterWriteFailure(t *testing.T) {
	cfg := testRoomConfig()
	cfg.PreheatEnabled = true
	cfg.BufferFraction = 0.10
	cfg.MinPreheat = 15 * time.Minute
	cfg.MaxPreheat = 120 * time.Minute
	c, sensors, actuator, clock := newTestCoordinator(t, cfg)
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)
	if writes := actuator.writeLog(); len(writes) != 1 || writes[0] != 18.5 {
		t.Fatalf("writes = %v, want initial 18.5", writes)
	}

	// A due warm-up fires into a dead transport; the plan must survive the
	// failed write
	c.preheat = &PreheatPlan{TargetTime: clock.Now().Add(30 * time.Minute), TargetTemp: 23.0}
	actuator.failWith = errors.New("radio unreachable")
	for i := 0; i < 3; i++ {
		clock.Advance(30 * time.Second)
		c.evaluate(context.Background(), false)
	}
	if c.preheat == nil {
		t.Fatal("preheat disarmed while the warm-up write keeps failing")
	}

	// Transport recovers: the next tick retries the warm-up and disarms
	actuator.failWith = nil
	clock.Advance(30 * time.Second)
	c.evaluate(context.Background(), false)

	writes := actuator.writeLog()
	if len(writes) != 2 || writes[1] != 20.5 {
		t.Fatalf("writes = %v, want warm-up retry of 20.5 (23.0 with -2.5 offset)", writes)
	}
	if c.preheat != nil {
		t.Error("preheat should disarm once the warm-up write lands")
	}
	if snap := c.Snapshot(); snap.DesiredTemp != 23.0 {
		t.Errorf("DesiredTemp = %v, want 23.0", snap.DesiredTemp)
	}
}

func TestCoordinator_DisableCompensationPausesWrites(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	if err := c.SetCompensationEnabled(false); err != nil {
		t.Fatalf("SetCompensationEnabled(false) error = %v", err)
	}
	runQueued(t, c)

	c.evaluate(context.Background(), false)
	c.evaluate(context.Background(), true)

	if writes := actuator.writeLog(); len(writes) != 0 {
		t.Errorf("writes = %v, want none while paused", writes)
	}
	if snap := c.Snapshot(); snap.CompensationEnabled {
		t.Error("snapshot CompensationEnabled = true, want false while paused")
	}

	// Re-enabling evaluates immediately and the held write goes out
	if err := c.SetCompensationEnabled(true); err != nil {
		t.Fatalf("SetCompensationEnabled(true) error = %v", err)
	}
	runQueued(t, c)

	writes := actuator.writeLog()
	if len(writes) != 1 || writes[0] != 18.5 {
		t.Fatalf("writes = %v, want 18.5 after resume", writes)
	}
	if snap := c.Snapshot(); !snap.CompensationEnabled {
		t.Error("snapshot CompensationEnabled = false after resume, want true")
	}
}

func TestCoordinator_BatterySaverToggleReleasesCooldown(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	sensors.setExternal(now, 20.0)
	sensors.setActuatorTemp(now, 22.5)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	// Offset moves past the tolerance inside the cooldown: held with the
	// saver on
	clock.Advance(time.Minute)
	sensors.setExternal(clock.Now(), 19.0)
	c.evaluate(context.Background(), false)
	if writes := actuator.writeLog(); len(writes) != 1 {
		t.Fatalf("writes = %v, want cooldown to hold the second write", writes)
	}

	if err := c.SetBatterySaver(false); err != nil {
		t.Fatalf("SetBatterySaver(false) error = %v", err)
	}
	runQueued(t, c)
	if snap := c.Snapshot(); snap.BatterySaver {
		t.Error("snapshot BatterySaver = true after disable, want false")
	}

	// Without the saver only the tolerance gate remains
	c.evaluate(context.Background(), false)
	writes := actuator.writeLog()
	if len(writes) != 2 || writes[1] != 17.5 {
		t.Fatalf("writes = %v, want immediate 17.5 with the saver off", writes)
	}
}

func TestCoordinator_SkippedWriteLeavesNoPendingState(t *testing.T) {
	c, sensors, actuator, clock := newTestCoordinator(t, testRoomConfig())
	now := clock.Now()

	// No sensor bias and the actuator already at the desired temperature:
	// nothing to write, and nothing left pending either
	sensors.setExternal(now, 21.0)
	sensors.setActuatorTemp(now, 21.0)
	sensors.setActivity(ActivityIdle)
	actuator.setTarget(21.0)

	c.evaluate(context.Background(), false)

	if writes := actuator.writeLog(); len(writes) != 0 {
		t.Fatalf("writes = %v, want none when already at target", writes)
	}
	if snap := c.Snapshot(); snap.BackoffState != "cooling_down" {
		t.Errorf("BackoffState = %q, want cooling_down after a skipped write", snap.BackoffState)
	}

	// A real offset shift later still gets through against the recorded
	// baseline
	clock.Advance(16 * time.Minute)
	sensors.setExternal(clock.Now(), 20.5)
	sensors.setActuatorTemp(clock.Now(), 21.0)
	c.evaluate(context.Background(), false)

	writes := actuator.writeLog()
	if len(writes) != 1 || writes[0] != 20.5 {
		t.Fatalf("writes = %v, want 20.5 once the offset moves", writes)
	}
}
