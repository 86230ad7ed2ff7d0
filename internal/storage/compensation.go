package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dokzlo13/heatd/internal/compensation"
)

const (
	kindLearner  = "learner"
	kindSnapshot = "room"
)

// CompensationStore adapts the generic state store to the control loop's
// persistence needs: learner state survives restarts, snapshots are kept
// for post-mortem inspection.
type CompensationStore struct {
	store *Store
}

// NewCompensationStore wraps a generic store.
func NewCompensationStore(store *Store) *CompensationStore {
	return &CompensationStore{store: store}
}

// SaveLearner persists heating-rate learner state for a room.
func (s *CompensationStore) SaveLearner(room string, state compensation.LearnerState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal learner state: %w", err)
	}
	return s.store.Set(kindLearner, room, payload)
}

// LoadLearner restores heating-rate learner state for a room. The second
// return is false when no state has ever been saved.
func (s *CompensationStore) LoadLearner(room string) (compensation.LearnerState, bool, error) {
	var state compensation.LearnerState

	payload, _, err := s.store.Get(kindLearner, room)
	if err != nil {
		return state, false, err
	}
	if payload == nil {
		return state, false, nil
	}

	if err := json.Unmarshal(payload, &state); err != nil {
		return state, false, fmt.Errorf("failed to unmarshal learner state: %w", err)
	}
	return state, true, nil
}

// SaveSnapshot persists a room's latest evaluation snapshot.
func (s *CompensationStore) SaveSnapshot(room string, snap compensation.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.store.Set(kindSnapshot, room, payload)
}

// LoadSnapshot returns the last persisted snapshot for a room.
func (s *CompensationStore) LoadSnapshot(room string) (compensation.Snapshot, bool, error) {
	var snap compensation.Snapshot

	payload, _, err := s.store.Get(kindSnapshot, room)
	if err != nil {
		return snap, false, err
	}
	if payload == nil {
		return snap, false, nil
	}

	if err := json.Unmarshal(payload, &snap); err != nil {
		return snap, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}
