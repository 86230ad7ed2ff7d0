package compensation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager owns the set of room coordinators and fans external requests out
// to them. Rooms are registered once at startup; the map is read-only after
// Run starts, so no locking is needed.
type Manager struct {
	coords map[string]*Coordinator
	order  []string
}

func NewManager() *Manager {
	return &Manager{coords: make(map[string]*Coordinator)}
}

// Add registers a room coordinator. Must be called before Run.
func (m *Manager) Add(c *Coordinator) {
	m.coords[c.Room()] = c
	m.order = append(m.order, c.Room())
}

// Get returns the coordinator for a room.
func (m *Manager) Get(room string) (*Coordinator, error) {
	c, ok := m.coords[room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}
	return c, nil
}

// Rooms returns the configured room names in configuration order.
func (m *Manager) Rooms() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Run starts every room's control loop and blocks until the context is
// cancelled and all loops have stopped. A panic in one room is contained
// there; the other rooms keep running.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, name := range m.order {
		c := m.coords[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("room", c.Room()).Interface("panic", r).Msg("Room coordinator panicked")
				}
			}()
			if err := c.Run(ctx); err != nil {
				log.Error().Err(err).Str("room", c.Room()).Msg("Room coordinator exited with error")
			}
		}()
	}
	wg.Wait()
	return nil
}

// Notify routes a sensor update to its room. Updates for unconfigured rooms
// are ignored; the sensor topic space may be wider than our configuration.
func (m *Manager) Notify(room string, r Reading) {
	c, ok := m.coords[room]
	if !ok {
		log.Debug().Str("room", room).Str("source", string(r.Source)).Msg("Sensor update for unconfigured room ignored")
		return
	}
	c.OnSensorUpdate(r)
}

// Evaluate schedules a regular evaluation cycle, the same one the room's
// ticker runs, for one room or for all rooms when room is empty. Tolerance
// and backoff gates apply as usual.
func (m *Manager) Evaluate(room string) error {
	return m.each(room, func(c *Coordinator) error {
		c.OnSensorUpdate(Reading{})
		return nil
	})
}

// ForceCompensation triggers an immediate forced update for one room, or for
// all rooms when room is empty.
func (m *Manager) ForceCompensation(room string) error {
	return m.each(room, func(c *Coordinator) error { return c.ForceCompensation() })
}

// ResetLearning clears learning data for one room, or for all rooms when
// room is empty.
func (m *Manager) ResetLearning(room string) error {
	return m.each(room, func(c *Coordinator) error { return c.ResetLearning() })
}

func (m *Manager) each(room string, fn func(*Coordinator) error) error {
	if room != "" {
		c, err := m.Get(room)
		if err != nil {
			return err
		}
		return fn(c)
	}
	for _, name := range m.order {
		if err := fn(m.coords[name]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshots returns the current state of every room in configuration order.
func (m *Manager) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.coords[name].Snapshot())
	}
	return out
}
