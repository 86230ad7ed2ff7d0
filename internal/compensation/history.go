package compensation

import "time"

type sample struct {
	At    time.Time
	Value float64
}

// History is a short age-bounded rolling buffer of external-sensor samples,
// kept for temperature-drop window detection.
type History struct {
	window  time.Duration
	samples []sample
}

// NewHistory creates a history retaining samples for the given window.
func NewHistory(window time.Duration) *History {
	return &History{window: window}
}

// Add records a sample and prunes entries older than the window.
func (h *History) Add(at time.Time, value float64) {
	h.samples = append(h.samples, sample{At: at, Value: value})
	h.prune(at)
}

func (h *History) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	i := 0
	for i < len(h.samples) && !h.samples[i].At.After(cutoff) {
		i++
	}
	if i > 0 {
		h.samples = append(h.samples[:0], h.samples[i:]...)
	}
}

// Drop returns the temperature fall between the oldest retained sample and
// the newest one, with the fall rate in degrees per minute. ok is false with
// fewer than two samples.
func (h *History) Drop(now time.Time) (drop, perMinute float64, ok bool) {
	h.prune(now)
	if len(h.samples) < 2 {
		return 0, 0, false
	}
	oldest := h.samples[0]
	newest := h.samples[len(h.samples)-1]
	drop = oldest.Value - newest.Value

	span := newest.At.Sub(oldest.At).Minutes()
	if span <= 0 {
		return 0, 0, false
	}
	return drop, drop / span, true
}

// Len returns the number of retained samples.
func (h *History) Len() int { return len(h.samples) }

// Clear drops all samples.
func (h *History) Clear() { h.samples = h.samples[:0] }
