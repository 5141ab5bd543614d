package aggregate

import (
	"time"

	"chronicle/domain/entity"
)

// Snapshot is a full-state checkpoint of an aggregate: the state, version,
// and lifecycle flags at the moment it was taken. Replaying a snapshot
// followed by the events recorded after it reconstructs the exact
// aggregate that existed when they were written.
type Snapshot struct {
	AggregateID string                `json:"aggregate_id"`
	State       entity.State          `json:"-"`
	Version     int                   `json:"version"`
	Flags       entity.LifecycleFlags `json:"flags"`
	TakenAt     time.Time             `json:"taken_at"`
}
