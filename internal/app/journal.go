package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/heatd/internal/compensation"
	"github.com/dokzlo13/heatd/internal/export"
	"github.com/dokzlo13/heatd/internal/ledger"
)

// journalFanout implements compensation.Journal on top of the SQLite ledger
// and the optional Kafka exporter. Ledger failures are logged and swallowed;
// the control loop must not stall on bookkeeping.
type journalFanout struct {
	ledger   *ledger.Ledger
	exporter *export.Exporter
}

func newJournal(lg *ledger.Ledger, exporter *export.Exporter) *journalFanout {
	return &journalFanout{ledger: lg, exporter: exporter}
}

func (j *journalFanout) append(room string, eventType ledger.EventType, payload map[string]any) {
	if err := j.ledger.Append(room, eventType, uuid.NewString(), payload); err != nil {
		log.Warn().Err(err).Str("room", room).Str("event_type", string(eventType)).Msg("Ledger append failed")
	}
}

// CompensationApplied implements compensation.Journal.
func (j *journalFanout) CompensationApplied(room string, offset, target float64, forced, clamped bool) {
	j.append(room, ledger.EventCompensationApplied, map[string]any{
		"offset":  offset,
		"target":  target,
		"forced":  forced,
		"clamped": clamped,
	})

	if j.exporter != nil {
		ev := export.Event{
			Room:      room,
			Offset:    offset,
			Target:    target,
			Forced:    forced,
			Clamped:   clamped,
			Timestamp: time.Now().UTC(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.exporter.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).Str("room", room).Msg("Event export failed")
		}
	}
}

// WriteFailed implements compensation.Journal.
func (j *journalFanout) WriteFailed(room string, target float64, err error) {
	j.append(room, ledger.EventWriteFailed, map[string]any{
		"target": target,
		"error":  err.Error(),
	})
}

// CycleRecorded implements compensation.Journal.
func (j *journalFanout) CycleRecorded(room string, cycle compensation.HeatingCycle, accepted bool) {
	j.append(room, ledger.EventCycleRecorded, map[string]any{
		"start":            cycle.Start.UTC().Format(time.RFC3339),
		"end":              cycle.End.UTC().Format(time.RFC3339),
		"delta":            cycle.Delta(),
		"rate_per_minute":  cycle.Rate(),
		"duration_minutes": cycle.Duration().Minutes(),
		"accepted":         accepted,
	})
}

// LearningReset implements compensation.Journal.
func (j *journalFanout) LearningReset(room string) {
	j.append(room, ledger.EventLearningReset, nil)
}

// PreheatArmed implements compensation.Journal.
func (j *journalFanout) PreheatArmed(room string, targetTime time.Time, targetTemp float64) {
	j.append(room, ledger.EventPreheatArmed, map[string]any{
		"target_time": targetTime.UTC().Format(time.RFC3339),
		"target_temp": targetTemp,
	})
}
