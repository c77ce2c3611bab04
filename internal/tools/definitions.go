package tools

import (
	"context"
	"errors"

	"github.com/skylens/skylens-ai/internal/analytics/anomaly"
	"github.com/skylens/skylens-ai/internal/analytics/correlation"
	"github.com/skylens/skylens-ai/internal/analytics/flightmetrics"
	"github.com/skylens/skylens-ai/internal/session"
)

// BridgedToolName is the one tool the server cannot execute itself: the
// high-resolution telemetry slice lives with the remote actor that holds
// the raw log.
const BridgedToolName = "fetch_telemetry_slice"

// FlightTools builds the full tool set for flight-telemetry chat,
// binding local tools to the session store and marking the telemetry
// slice as bridged.
func FlightTools(store session.Store) []Definition {
	return []Definition{
		{
			Name:        "get_metric",
			Kind:        KindLocal,
			Description: "Compute a named flight metric: max_altitude, flight_time_minutes, first_gps_loss, first_rc_loss, max_battery_temp, critical_error_count, stream_inventory, large_gap_count. Returns a self-describing result; ok=false means the metric could not be computed from this flight's data.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"metric": map[string]interface{}{"type": "string", "description": "Metric name (required)", "enum": flightmetrics.Names()},
				},
				"required": []interface{}{"metric"},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				sess, err := store.Get(sessionID)
				if err != nil {
					return nil, err
				}
				return flightmetrics.Compute(sess, argString(args, "metric")), nil
			},
		},
		{
			Name:        "compute_baseline",
			Kind:        KindLocal,
			Description: "Compute rolling-window baseline statistics (mean, std, min, max per window) for fields of one telemetry stream. Use to establish what 'normal' looks like before judging a value.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"stream":         map[string]interface{}{"type": "string", "description": "Stream name (required), e.g. ALT, GPS, BAT"},
					"fields":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Fields to analyze; omit for all fields"},
					"start_ms":       map[string]interface{}{"type": "integer", "description": "Window start timestamp in ms (optional)"},
					"end_ms":         map[string]interface{}{"type": "integer", "description": "Window end timestamp in ms (optional)"},
					"window_size_ms": map[string]interface{}{"type": "integer", "description": "Nominal window width in ms (default 30000)"},
				},
				"required": []interface{}{"stream"},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				report, err := anomaly.ComputeBaseline(store, sessionID, anomaly.BaselineRequest{
					Stream:       argString(args, "stream"),
					Fields:       argStrings(args, "fields"),
					StartMs:      argInt64(args, "start_ms"),
					EndMs:        argInt64(args, "end_ms"),
					WindowSizeMs: argFloat(args, "window_size_ms"),
				})
				if errors.Is(err, anomaly.ErrInsufficientData) {
					return insufficientData(err), nil
				}
				if err != nil {
					return nil, err
				}
				return report, nil
			},
		},
		{
			Name:        "detect_outliers",
			Kind:        KindLocal,
			Description: "Detect outlier samples in one telemetry stream using per-window dynamic thresholds (mean ± sigma·std). Reports each outlier with its sigma deviation and the thresholds applied.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"stream":          map[string]interface{}{"type": "string", "description": "Stream name (required)"},
					"fields":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Fields to analyze; omit for all fields"},
					"start_ms":        map[string]interface{}{"type": "integer", "description": "Window start timestamp in ms (optional)"},
					"end_ms":          map[string]interface{}{"type": "integer", "description": "Window end timestamp in ms (optional)"},
					"window_size_ms":  map[string]interface{}{"type": "integer", "description": "Nominal window width in ms (default 30000)"},
					"threshold_sigma": map[string]interface{}{"type": "number", "description": "Outlier threshold in sigma units (default 2.5)"},
				},
				"required": []interface{}{"stream"},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				report, err := anomaly.DetectOutliers(store, sessionID, anomaly.OutlierRequest{
					Stream:         argString(args, "stream"),
					Fields:         argStrings(args, "fields"),
					StartMs:        argInt64(args, "start_ms"),
					EndMs:          argInt64(args, "end_ms"),
					WindowSizeMs:   argFloat(args, "window_size_ms"),
					ThresholdSigma: argFloat(args, "threshold_sigma"),
				})
				if errors.Is(err, anomaly.ErrInsufficientData) {
					return insufficientData(err), nil
				}
				if err != nil {
					return nil, err
				}
				return report, nil
			},
		},
		{
			Name:        "trace_causal_chain",
			Kind:        KindLocal,
			Description: "Find flight events near a target timestamp, ranked by proximity. Use to answer 'what happened around t' or to look for causes of an anomaly.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"target_t_ms": map[string]interface{}{"type": "integer", "description": "Target timestamp in ms (required)"},
					"window_ms":   map[string]interface{}{"type": "integer", "description": "Half-width of the search window in ms (default 30000)"},
				},
				"required": []interface{}{"target_t_ms"},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				events, err := correlation.TraceCausalChain(store, sessionID,
					argInt64(args, "target_t_ms"), argInt64(args, "window_ms"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"targetTMs": argInt64(args, "target_t_ms"),
					"count":     len(events),
					"events":    events,
				}, nil
			},
		},
		{
			Name:        "list_streams",
			Kind:        KindLocal,
			Description: "List the telemetry streams this flight recorded, with record counts, time spans, and field names. Use before picking a stream for baseline or outlier analysis.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				sess, err := store.Get(sessionID)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"count":   len(sess.Index),
					"streams": sess.Index,
				}, nil
			},
		},
		{
			Name:        "get_events",
			Kind:        KindLocal,
			Description: "List flight events, optionally filtered by severity and time range. Events cover mode changes, failsafes, and errors extracted at ingest.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"severity": map[string]interface{}{"type": "string", "description": "Filter by severity, e.g. info, warning, critical"},
					"start_ms": map[string]interface{}{"type": "integer", "description": "Earliest timestamp in ms (optional)"},
					"end_ms":   map[string]interface{}{"type": "integer", "description": "Latest timestamp in ms (optional)"},
					"limit":    map[string]interface{}{"type": "integer", "description": "Max events to return (default 50)"},
				},
			},
			Execute: func(ctx context.Context, sessionID string, args map[string]interface{}) (interface{}, error) {
				sess, err := store.Get(sessionID)
				if err != nil {
					return nil, err
				}
				severity := argString(args, "severity")
				startMs := argInt64(args, "start_ms")
				endMs := argInt64(args, "end_ms")
				limit := int(argInt64(args, "limit"))
				if limit <= 0 {
					limit = 50
				}

				matched := make([]session.Event, 0, limit)
				for _, ev := range sess.Events {
					if severity != "" && ev.Severity != severity {
						continue
					}
					if startMs != 0 && ev.TMs < startMs {
						continue
					}
					if endMs != 0 && ev.TMs > endMs {
						continue
					}
					matched = append(matched, ev)
					if len(matched) >= limit {
						break
					}
				}
				return map[string]interface{}{"count": len(matched), "events": matched}, nil
			},
		},
		{
			Name:        BridgedToolName,
			Kind:        KindBridged,
			Description: "Fetch a high-resolution slice of raw telemetry for one stream and time range. This data lives with the client that holds the original log; the result arrives asynchronously via a tool reply.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"stream":     map[string]interface{}{"type": "string", "description": "Stream name (required)"},
					"start_ms":   map[string]interface{}{"type": "integer", "description": "Slice start timestamp in ms (required)"},
					"end_ms":     map[string]interface{}{"type": "integer", "description": "Slice end timestamp in ms (required)"},
					"fields":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Fields to include; omit for all"},
					"max_points": map[string]interface{}{"type": "integer", "description": "Max samples to return (default 2000)"},
				},
				"required": []interface{}{"stream", "start_ms", "end_ms"},
			},
		},
	}
}

// insufficientData converts an ErrInsufficientData into the structured
// "not ok" payload the LLM sees instead of a failed request.
func insufficientData(err error) map[string]interface{} {
	return map[string]interface{}{
		"ok":     false,
		"status": "insufficient_data",
		"reason": err.Error(),
	}
}
