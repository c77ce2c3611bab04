package correlation

// Package correlation links flight events to a point in time by timestamp
// proximity. It is the "what happened around t" tool: given a target
// timestamp, it returns every session event inside ±window, ranked by how
// close it is to the target.

import (
	"math"
	"sort"

	"github.com/skylens/skylens-ai/internal/session"
)

// DefaultWindowMs is the selection half-width when the caller does not
// specify one.
const DefaultWindowMs = 30000

// CausalEvent is a session event annotated with its distance to the
// correlation target.
type CausalEvent struct {
	session.Event
	DeltaMs       int64   `json:"deltaMs"`      // signed, event time minus target
	DeltaSeconds  float64 `json:"deltaSeconds"` // DeltaMs / 1000
	Direction     string  `json:"direction"`    // "before" when DeltaMs < 0, else "after"
	ProximityRank int     `json:"proximityRank"`
}

// TraceCausalChain selects all events within ±windowMs of the target
// timestamp and returns them ordered by absolute distance, closest first.
// Equidistant events keep their original transcript order. An empty
// result is a valid answer; only an unknown session is an error.
func TraceCausalChain(store session.Store, sessionID string, targetMs, windowMs int64) ([]CausalEvent, error) {
	sess, err := store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if windowMs <= 0 {
		windowMs = DefaultWindowMs
	}

	lo := targetMs - windowMs
	hi := targetMs + windowMs

	selected := make([]CausalEvent, 0, 8)
	for _, ev := range sess.Events {
		if ev.TMs < lo || ev.TMs > hi {
			continue
		}
		delta := ev.TMs - targetMs
		direction := "after"
		if delta < 0 {
			direction = "before"
		}
		selected = append(selected, CausalEvent{
			Event:        ev,
			DeltaMs:      delta,
			DeltaSeconds: float64(delta) / 1000.0,
			Direction:    direction,
		})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return math.Abs(float64(selected[i].DeltaMs)) < math.Abs(float64(selected[j].DeltaMs))
	})
	for i := range selected {
		selected[i].ProximityRank = i + 1
	}
	return selected, nil
}
