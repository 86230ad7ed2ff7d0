// Package writer rate-limits actuator setpoint commands. Battery powered
// valves share one radio network; a burst of writes across rooms would
// flood it.
package writer

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/heatd/internal/compensation"
)

// Writer wraps an Actuator with a global token-bucket rate limit shared by
// all rooms. Reads pass through untouched.
type Writer struct {
	next    compensation.Actuator
	limiter *rate.Limiter
}

// New wraps next with a rate limit of rps writes per second.
func New(next compensation.Actuator, rps float64) *Writer {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Writer{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// DesiredSetpoint implements compensation.Actuator.
func (w *Writer) DesiredSetpoint(room string) (float64, bool) {
	return w.next.DesiredSetpoint(room)
}

// WriteSetpoint implements compensation.Actuator. Blocks for a rate-limit
// token before delegating; the context bounds the total wait.
func (w *Writer) WriteSetpoint(ctx context.Context, room string, value float64) error {
	if err := w.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("Rate limit wait aborted")
		return err
	}
	return w.next.WriteSetpoint(ctx, room, value)
}
