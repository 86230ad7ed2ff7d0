package compensation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// After our own write, the actuator's reported target may lag while
	// the command propagates; external-change detection waits this long.
	externalChangeCooldown = 90 * time.Second
	// The actuator rounds to 0.5 degree steps; anything above this is a
	// real external change, not rounding noise.
	externalChangeThreshold = 0.4

	// A write whose target matches the actuator's current one within this
	// epsilon is pointless and skipped.
	writeSkipEpsilon = 0.1

	// Consecutive write failures before the alert flag is raised.
	writeFailureAlertAfter = 3

	defaultWriteTimeout = 10 * time.Second
	defaultTickInterval = 30 * time.Second
)

type work func(ctx context.Context)

// Coordinator drives one room. It is a single-threaded state machine: sensor
// events, periodic ticks and external requests are all funneled through one
// goroutine, so the components it owns need no locking. Rooms are fully
// independent.
type Coordinator struct {
	cfg  RoomConfig
	deps Deps

	backoff *BackoffPolicy
	guard   *WindowGuard
	tracker *CycleTracker
	learner *HeatingRateLearner
	hist    *History

	desired     float64
	haveDesired bool
	lastSent    *float64
	lastWriteAt time.Time
	enabled     bool

	preheat       *PreheatPlan
	windowWasOpen bool
	failures      int

	queue chan work

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewCoordinator creates a coordinator for one room. Learner state is
// restored from the state store when present.
func NewCoordinator(cfg RoomConfig, deps Deps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = defaultWriteTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	c := &Coordinator{
		cfg:     cfg,
		deps:    deps,
		backoff: NewBackoffPolicy(cfg.Tolerance, cfg.Backoff, cfg.BatterySaver),
		guard:   NewWindowGuard(cfg.WindowMode, cfg.DropThreshold, cfg.WindowOverride),
		tracker: &CycleTracker{},
		learner: &HeatingRateLearner{},
		hist:    NewHistory(DropLookback()),
		enabled: true,
		queue:   make(chan work, 16),
		snap: Snapshot{
			Room:                cfg.Name,
			Activity:            ActivityUnknown.String(),
			BackoffState:        BackoffIdle.String(),
			CompensationEnabled: true,
			BatterySaver:        cfg.BatterySaver,
		},
	}

	if deps.Store != nil {
		if state, ok, err := deps.Store.LoadLearner(cfg.Name); err != nil {
			log.Warn().Err(err).Str("room", cfg.Name).Msg("Failed to restore learner state")
		} else if ok {
			c.learner.Restore(state)
			log.Info().Str("room", cfg.Name).Int("accepted_cycles", c.learner.AcceptedCount()).Msg("Restored learner state")
		}
	}

	return c
}

// Room returns the room name.
func (c *Coordinator) Room() string { return c.cfg.Name }

// Run executes the room's control loop until the context is cancelled. It
// evaluates once immediately, then on every tick and queued event.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("room", c.cfg.Name).
		Dur("tick", c.cfg.TickInterval).
		Str("window_mode", c.cfg.WindowMode.String()).
		Msg("Room coordinator started")

	c.evaluate(ctx, false)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("room", c.cfg.Name).Msg("Room coordinator stopping")
			return nil
		case <-ticker.C:
			c.evaluate(ctx, false)
		case w := <-c.queue:
			w(ctx)
		}
	}
}

// submit enqueues work for the room goroutine.
func (c *Coordinator) submit(w work) error {
	select {
	case c.queue <- w:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrCoordinatorBusy, c.cfg.Name)
	}
}

// OnSensorUpdate schedules an event-driven re-evaluation. The reading itself
// is fetched from the SensorSource during evaluation, so a dropped event only
// delays the update until the next tick.
func (c *Coordinator) OnSensorUpdate(r Reading) {
	if err := c.submit(func(ctx context.Context) { c.evaluate(ctx, false) }); err != nil {
		log.Debug().Str("room", c.cfg.Name).Str("source", string(r.Source)).Msg("Queue full, deferring to next tick")
	}
}

// ForceCompensation schedules an update that bypasses tolerance and backoff
// timing. An active window veto still applies.
func (c *Coordinator) ForceCompensation() error {
	return c.submit(func(ctx context.Context) { c.evaluate(ctx, true) })
}

// ResetLearning clears the heating-rate learner and abandons any open cycle.
func (c *Coordinator) ResetLearning() error {
	return c.submit(func(ctx context.Context) {
		c.learner.Reset()
		c.tracker.Reset()
		// An armed warm-up depends on the learned rate; it goes with it.
		c.preheat = nil
		c.persistLearner()
		if c.deps.Journal != nil {
			c.deps.Journal.LearningReset(c.cfg.Name)
		}
		log.Info().Str("room", c.cfg.Name).Msg("Learning data reset")
		c.publishSnapshot(c.deps.Now())
	})
}

// SetDesiredTemperature changes the room's desired temperature and
// re-evaluates immediately.
func (c *Coordinator) SetDesiredTemperature(temp float64) error {
	return c.submit(func(ctx context.Context) {
		if temp < c.cfg.SetpointMin {
			temp = c.cfg.SetpointMin
		} else if temp > c.cfg.SetpointMax {
			temp = c.cfg.SetpointMax
		}
		log.Info().Str("room", c.cfg.Name).Float64("from", c.desired).Float64("to", temp).Msg("Desired temperature changed")
		c.desired = temp
		c.haveDesired = true
		c.evaluate(ctx, false)
	})
}

// SetPreheat arms a predictive warm-up so targetTemp is reached by
// targetTime. A new request replaces any armed deadline atomically. Returns
// ErrInvalidSchedule when targetTime is not strictly in the future; the
// prior deadline is then left untouched.
func (c *Coordinator) SetPreheat(targetTime time.Time, targetTemp float64) error {
	resp := make(chan error, 1)
	err := c.submit(func(ctx context.Context) {
		now := c.deps.Now()
		if !targetTime.After(now) {
			resp <- fmt.Errorf("%w: %s", ErrInvalidSchedule, targetTime.Format(time.RFC3339))
			return
		}
		c.preheat = &PreheatPlan{TargetTime: targetTime, TargetTemp: targetTemp}
		if c.deps.Journal != nil {
			c.deps.Journal.PreheatArmed(c.cfg.Name, targetTime, targetTemp)
		}
		log.Info().
			Str("room", c.cfg.Name).
			Time("target_time", targetTime).
			Float64("target_temp", targetTemp).
			Msg("Preheat armed")
		c.evaluate(ctx, false)
		resp <- nil
	})
	if err != nil {
		return err
	}
	return <-resp
}

// SetCompensationEnabled pauses or resumes the room's setpoint writes.
// While paused the coordinator keeps tracking sensors, cycles and learning;
// re-enabling evaluates immediately.
func (c *Coordinator) SetCompensationEnabled(enabled bool) error {
	return c.submit(func(ctx context.Context) {
		c.enabled = enabled
		log.Info().Str("room", c.cfg.Name).Bool("enabled", enabled).Msg("Compensation toggled")
		if enabled {
			c.evaluate(ctx, false)
			return
		}
		c.publishSnapshot(c.deps.Now())
	})
}

// SetBatterySaver toggles the backoff interval and activity gates at
// runtime. The tolerance gate always stays on.
func (c *Coordinator) SetBatterySaver(enabled bool) error {
	return c.submit(func(ctx context.Context) {
		c.backoff.SetSaverEnabled(enabled)
		log.Info().Str("room", c.cfg.Name).Bool("enabled", enabled).Msg("Battery saver toggled")
		c.publishSnapshot(c.deps.Now())
	})
}

// SetWindowOverride toggles the window guard's veto without disabling signal
// computation.
func (c *Coordinator) SetWindowOverride(override bool) error {
	return c.submit(func(ctx context.Context) {
		c.guard.SetOverride(override)
		log.Info().Str("room", c.cfg.Name).Bool("override", override).Msg("Window override changed")
		c.publishSnapshot(c.deps.Now())
	})
}

// Snapshot returns a copy of the room's current compensation state.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// evaluate runs one full control cycle: history refresh, cycle tracking,
// window guard, offset computation, preheat check, backoff gate, write.
func (c *Coordinator) evaluate(ctx context.Context, force bool) {
	now := c.deps.Now()
	room := c.cfg.Name

	external, extOK := c.deps.Sensors.ExternalTemperature(room)
	actuatorTemp, _ := c.deps.Sensors.ActuatorTemperature(room)
	activity := ActivityUnknown
	if a, ok := c.deps.Sensors.HVACActivity(room); ok {
		activity = a
	}
	contact, _ := c.deps.Sensors.WindowContact(room)

	// 1. Refresh rolling history and close any completed heating cycle.
	if extOK {
		at := external.At
		if at.IsZero() {
			at = now
		}
		c.hist.Add(at, external.Value)

		if cycle, closed := c.tracker.Observe(now, activity, external.Value); closed {
			c.recordCycle(cycle)
		}
	}

	// 2. Desired-temperature sync, then the window guard. Sync runs first
	// so a window-open setpoint command is never mistaken for the room's
	// desired temperature.
	c.syncDesired(now)

	verdict := c.guard.Evaluate(now, contact, c.hist, activity)

	// Paused rooms keep learning and reporting but never touch the
	// actuator.
	if !c.enabled {
		c.windowWasOpen = verdict.Open
		c.finishEvaluation(now, activity, verdict)
		return
	}

	if verdict.Open && !c.windowWasOpen {
		log.Warn().
			Str("room", room).
			Bool("by_contact", verdict.ByContact).
			Bool("by_temp_drop", verdict.ByTempDrop).
			Msg("Window open detected")
		if c.cfg.WindowOpenSetpoint != nil && verdict.Veto {
			c.commandWindowSetpoint(ctx, now, *c.cfg.WindowOpenSetpoint)
		}
	}
	c.windowWasOpen = verdict.Open

	if verdict.Veto {
		if force {
			log.Warn().Str("room", room).Msg("Forced compensation blocked by window veto")
		}
		if c.deps.Observer != nil {
			c.deps.Observer.Veto(room, "window")
		}
		c.finishEvaluation(now, activity, verdict)
		return
	}

	// 3. Offset and compensated target. An invalid reading skips the cycle
	// and keeps the prior compensated target untouched.
	offset, err := ComputeOffset(external, actuatorTemp)
	if err != nil {
		log.Debug().Err(err).Str("room", room).Msg("Skipping evaluation cycle")
		if c.deps.Observer != nil {
			c.deps.Observer.CycleSkipped(room)
		}
		c.finishEvaluation(now, activity, verdict)
		return
	}
	if c.deps.Observer != nil {
		c.deps.Observer.ObserveOffset(room, offset)
	}

	// 5 (checked before the gate so a due warm-up forces this write): an
	// armed preheat whose start moment has arrived bypasses tolerance and
	// backoff, but not the window veto handled above.
	preheatFired := c.checkPreheat(now, external, extOK)
	if preheatFired {
		force = true
	}

	if !c.haveDesired {
		log.Debug().Str("room", room).Msg("No desired temperature yet, waiting for actuator target")
		c.finishEvaluation(now, activity, verdict)
		return
	}

	// 4. Backoff gate, then at most one actuator write.
	allowed := c.backoff.Evaluate(now, offset, activity, force)
	if allowed {
		applied := c.apply(ctx, now, offset, force)
		if applied && preheatFired {
			log.Info().Str("room", room).Msg("Preheat warm-up applied, disarming")
			c.preheat = nil
		}
	}

	c.finishEvaluation(now, activity, verdict)
}

// recordCycle feeds a closed heating cycle to the learner and persists the
// outcome.
func (c *Coordinator) recordCycle(cycle HeatingCycle) {
	accepted := c.learner.Record(cycle)
	log.Info().
		Str("room", c.cfg.Name).
		Dur("duration", cycle.Duration()).
		Float64("delta", cycle.Delta()).
		Float64("rate", cycle.Rate()).
		Bool("accepted", accepted).
		Msg("Heating cycle closed")

	if c.deps.Journal != nil {
		c.deps.Journal.CycleRecorded(c.cfg.Name, cycle, accepted)
	}
	if accepted {
		c.persistLearner()
		if rate, ok := c.learner.Rate(); ok && c.deps.Observer != nil {
			c.deps.Observer.ObserveRate(c.cfg.Name, rate)
		}
	}
}

// syncDesired adopts the actuator's target on first contact, and afterwards
// detects external target changes (schedules, manual adjustments on the
// device) and resyncs the desired temperature to them.
func (c *Coordinator) syncDesired(now time.Time) {
	target, ok := c.deps.Actuator.DesiredSetpoint(c.cfg.Name)
	if !ok {
		return
	}

	if !c.haveDesired {
		c.desired = target
		c.haveDesired = true
		log.Info().Str("room", c.cfg.Name).Float64("desired", target).Msg("Initial desired temperature adopted from actuator")
		return
	}

	if c.lastSent == nil {
		return
	}
	if now.Sub(c.lastWriteAt) < externalChangeCooldown {
		return
	}
	diff := target - *c.lastSent
	if diff < 0 {
		diff = -diff
	}
	if diff > externalChangeThreshold {
		log.Info().
			Str("room", c.cfg.Name).
			Float64("actuator_target", target).
			Float64("last_sent", *c.lastSent).
			Msg("External target change detected, adopting as desired temperature")
		c.desired = target
		c.lastSent = nil
	}
}

// checkPreheat fires an armed warm-up when its start moment arrives. The
// lead time is recomputed every cycle so the start tracks the current
// temperature. Returns true when the warm-up fired. The plan stays armed
// until the forced write actually lands, so a transport failure retries on
// the next tick instead of losing the warm-up.
func (c *Coordinator) checkPreheat(now time.Time, external Reading, extOK bool) bool {
	if c.preheat == nil || !c.cfg.PreheatEnabled || !extOK {
		return false
	}

	if now.Before(c.preheat.TargetTime) {
		rate, haveRate := c.learner.Rate()
		pred := PredictPreheat(external.Value, c.preheat.TargetTemp, rate, haveRate, c.cfg.BufferFraction, c.cfg.MinPreheat, c.cfg.MaxPreheat)
		start := c.preheat.TargetTime.Add(-pred.Lead)
		if now.Before(start) {
			return false
		}
		log.Info().
			Str("room", c.cfg.Name).
			Float64("target_temp", c.preheat.TargetTemp).
			Float64("lead_minutes", pred.Lead.Minutes()).
			Bool("low_confidence", pred.LowConfidence).
			Bool("clamped_max", pred.ClampedMax).
			Msg("Preheat start time reached, forcing warm-up")
	} else {
		log.Warn().Str("room", c.cfg.Name).Time("target_time", c.preheat.TargetTime).Msg("Preheat target time passed without a successful write, still forcing")
	}

	c.desired = c.preheat.TargetTemp
	c.haveDesired = true
	return true
}

// apply performs the single actuator write of the cycle, reporting whether
// it landed. A failure keeps the backoff state eligible so the next tick
// retries.
func (c *Coordinator) apply(ctx context.Context, now time.Time, offset float64, forced bool) bool {
	room := c.cfg.Name
	target, clamped := CompensateTarget(c.desired, offset, c.cfg.SetpointMin, c.cfg.SetpointMax)
	if clamped {
		log.Warn().Str("room", room).Float64("target", target).Msg("Compensated target clamped to actuator range")
	}

	// The actuator already holds this target; record it as applied so the
	// gate does not sit eligible with nothing left to write.
	if !forced {
		if current, ok := c.deps.Actuator.DesiredSetpoint(room); ok {
			diff := current - target
			if diff < 0 {
				diff = -diff
			}
			if diff < writeSkipEpsilon {
				log.Debug().Str("room", room).Float64("target", target).Msg("Actuator already at target, skipping write")
				c.backoff.RecordApplied(now, offset)
				c.lastSent = &target
				return false
			}
		}
	}

	if c.deps.Hook != nil {
		adjusted, allow, err := c.deps.Hook(room, c.desired, offset, target)
		if err != nil {
			log.Warn().Err(err).Str("room", room).Msg("Apply hook failed, proceeding with computed target")
		} else if !allow {
			log.Info().Str("room", room).Msg("Apply hook vetoed setpoint write")
			if c.deps.Observer != nil {
				c.deps.Observer.Veto(room, "script")
			}
			return false
		} else if adjusted != target {
			log.Info().Str("room", room).Float64("from", target).Float64("to", adjusted).Msg("Apply hook adjusted setpoint")
			target, _ = CompensateTarget(adjusted, 0, c.cfg.SetpointMin, c.cfg.SetpointMax)
		}
	}

	wctx, cancel := context.WithTimeout(ctx, c.deps.WriteTimeout)
	err := c.deps.Actuator.WriteSetpoint(wctx, room, target)
	cancel()

	if err != nil {
		c.failures++
		log.Error().Err(err).
			Str("room", room).
			Float64("target", target).
			Int("consecutive_failures", c.failures).
			Msg("Actuator write failed, staying eligible for retry")
		if c.deps.Journal != nil {
			c.deps.Journal.WriteFailed(room, target, err)
		}
		if c.deps.Observer != nil {
			c.deps.Observer.WriteFailed(room)
		}
		return false
	}

	c.backoff.RecordApplied(now, offset)
	c.lastSent = &target
	c.lastWriteAt = now
	c.failures = 0

	c.snapMu.Lock()
	c.snap.CompensatedTarget = target
	c.snap.Clamped = clamped
	c.snap.LastApplied = now
	c.snapMu.Unlock()

	log.Info().
		Str("room", room).
		Float64("desired", c.desired).
		Float64("offset", offset).
		Float64("target", target).
		Bool("forced", forced).
		Msg("Compensated setpoint applied")

	if c.deps.Journal != nil {
		c.deps.Journal.CompensationApplied(room, offset, target, forced, clamped)
	}
	if c.deps.Observer != nil {
		c.deps.Observer.WriteApplied(room)
	}
	return true
}

// commandWindowSetpoint pushes the configured minimal setpoint when a window
// opens. This is a policy action, not a compensation write; it does not
// touch the backoff state, but it does count as our own write so the echo
// is not adopted as an external target change.
func (c *Coordinator) commandWindowSetpoint(ctx context.Context, now time.Time, setpoint float64) {
	wctx, cancel := context.WithTimeout(ctx, c.deps.WriteTimeout)
	defer cancel()
	if err := c.deps.Actuator.WriteSetpoint(wctx, c.cfg.Name, setpoint); err != nil {
		log.Error().Err(err).Str("room", c.cfg.Name).Msg("Failed to command window-open setpoint")
		return
	}
	c.lastSent = &setpoint
	c.lastWriteAt = now
	log.Info().Str("room", c.cfg.Name).Float64("setpoint", setpoint).Msg("Window open, commanded minimal setpoint")
}

// finishEvaluation publishes the post-cycle snapshot.
func (c *Coordinator) finishEvaluation(now time.Time, activity Activity, verdict WindowVerdict) {
	c.snapMu.Lock()
	c.snap.Evaluated = now
	c.snap.DesiredTemp = c.desired
	c.snap.CompensationEnabled = c.enabled
	c.snap.BatterySaver = c.backoff.SaverEnabled()
	c.snap.Activity = activity.String()
	c.snap.BackoffState = c.backoff.State().String()
	c.snap.WindowOpen = verdict.Open
	c.snap.WindowByContact = verdict.ByContact
	c.snap.WindowByTempDrop = verdict.ByTempDrop
	c.snap.WindowOverride = c.guard.Override()
	c.snap.ConsecutiveWriteFailures = c.failures
	c.snap.WriteFailureAlert = c.failures >= writeFailureAlertAfter

	rate, haveRate := c.learner.Rate()
	c.snap.LearnedRate = rate
	c.snap.RateAvailable = haveRate
	c.snap.AcceptedCycles = c.learner.AcceptedCount()

	if external, ok := c.deps.Sensors.ExternalTemperature(c.cfg.Name); ok {
		if actuatorTemp, ok2 := c.deps.Sensors.ActuatorTemperature(c.cfg.Name); ok2 {
			if offset, err := ComputeOffset(external, actuatorTemp); err == nil {
				c.snap.Offset = offset
			}
		}
		if c.cfg.PreheatEnabled && c.haveDesired {
			pred := PredictPreheat(external.Value, c.desired, rate, haveRate, c.cfg.BufferFraction, c.cfg.MinPreheat, c.cfg.MaxPreheat)
			c.snap.PreheatLeadMinutes = pred.Lead.Minutes()
			c.snap.PreheatLowConfidence = pred.LowConfidence
		}
	}
	c.snap.Preheat = c.preheat
	snap := c.snap
	c.snapMu.Unlock()

	if c.deps.Store != nil {
		if err := c.deps.Store.SaveSnapshot(c.cfg.Name, snap); err != nil {
			log.Warn().Err(err).Str("room", c.cfg.Name).Msg("Failed to persist snapshot")
		}
	}
}

// publishSnapshot refreshes only the cheap snapshot fields outside a full
// evaluation (used by reset/override requests).
func (c *Coordinator) publishSnapshot(now time.Time) {
	c.snapMu.Lock()
	c.snap.Evaluated = now
	c.snap.CompensationEnabled = c.enabled
	c.snap.BatterySaver = c.backoff.SaverEnabled()
	rate, haveRate := c.learner.Rate()
	c.snap.LearnedRate = rate
	c.snap.RateAvailable = haveRate
	c.snap.AcceptedCycles = c.learner.AcceptedCount()
	c.snap.WindowOverride = c.guard.Override()
	c.snap.Preheat = c.preheat
	c.snapMu.Unlock()
}

func (c *Coordinator) persistLearner() {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.SaveLearner(c.cfg.Name, c.learner.State()); err != nil {
		log.Warn().Err(err).Str("room", c.cfg.Name).Msg("Failed to persist learner state")
	}
}
