package timeseries

// Package timeseries provides the raw-record fetch the statistical engine
// runs on. Records come from the session store's 1 Hz downsample of one
// named stream, optionally filtered to requested fields and a closed time
// window, and capped at a maximum record count.

import (
	"fmt"

	"github.com/skylens/skylens-ai/internal/session"
)

// DefaultMaxRecords caps a single fetch so one tool call cannot drag an
// entire multi-hour flight into a window computation.
const DefaultMaxRecords = 5000

// Query selects records from one stream of a session.
type Query struct {
	Stream  string   // required
	Fields  []string // optional; empty means all fields
	StartMs int64    // inclusive; 0 means open
	EndMs   int64    // inclusive; 0 means open
	Limit   int      // max records; <=0 means DefaultMaxRecords
}

// Fetch returns the matching records in timestamp order. An unknown
// session fails with session.ErrNotFound; an unknown stream or an empty
// window returns an empty slice, which callers treat as insufficient data.
func Fetch(store session.Store, sessionID string, q Query) ([]session.Record, error) {
	sess, err := store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if q.Stream == "" {
		return nil, fmt.Errorf("stream is required")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultMaxRecords
	}

	src := sess.Stream(q.Stream)
	out := make([]session.Record, 0, min(len(src), limit))
	for _, rec := range src {
		if q.StartMs != 0 && rec.TMs < q.StartMs {
			continue
		}
		if q.EndMs != 0 && rec.TMs > q.EndMs {
			break
		}
		out = append(out, filterFields(rec, q.Fields))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func filterFields(rec session.Record, fields []string) session.Record {
	if len(fields) == 0 {
		return rec
	}
	filtered := session.Record{TMs: rec.TMs, Fields: make(map[string]float64, len(fields))}
	for _, f := range fields {
		if v, ok := rec.Fields[f]; ok {
			filtered.Fields[f] = v
		}
	}
	return filtered
}
