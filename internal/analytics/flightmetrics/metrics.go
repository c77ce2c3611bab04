package flightmetrics

// Package flightmetrics computes named scalar metrics over an ingested
// flight session. Every metric is a total function: absent or ambiguous
// data yields ok=false with a note, never an error or a panic, so a
// failed metric ends up in the LLM transcript as a readable result.

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/skylens/skylens-ai/internal/session"
)

// Stream and field names the metric library probes, in fallback order.
const (
	streamAltitude = "ALT"
	streamPosition = "POS"
	streamGPS      = "GPS"
	streamRC       = "RC"
	streamBattery  = "BAT"
	streamPower    = "POWR"

	fieldAltitude    = "altitude"
	fieldRelativeAlt = "relative_alt"
	fieldNumSats     = "num_sats"
	fieldRSSI        = "rssi"
	fieldTemp        = "temp"
)

const (
	// minHealthySats is the satellite count below which GPS is treated
	// as lost when no explicit gps_loss event was recorded.
	minHealthySats = 4

	// LargeGapThresholdMs classifies a coverage hole as a large gap.
	LargeGapThresholdMs = 2000
)

// MetricResult is the self-describing outcome of one metric computation.
// ok=false means "could not compute" and always carries a nil value.
type MetricResult struct {
	Name   string   `json:"name"`
	OK     bool     `json:"ok"`
	Value  *float64 `json:"value"`
	Units  string   `json:"units,omitempty"`
	TMs    *int64   `json:"t_ms,omitempty"`
	Method string   `json:"method,omitempty"`
	Source string   `json:"source,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

// Metric names exposed to the tool registry.
const (
	MetricMaxAltitude        = "max_altitude"
	MetricFlightTimeMinutes  = "flight_time_minutes"
	MetricFirstGPSLoss       = "first_gps_loss"
	MetricFirstRCLoss        = "first_rc_loss"
	MetricMaxBatteryTemp     = "max_battery_temp"
	MetricCriticalErrorCount = "critical_error_count"
	MetricStreamInventory    = "stream_inventory"
	MetricLargeGapCount      = "large_gap_count"
)

// Names lists every metric the library computes, in a stable order.
func Names() []string {
	return []string{
		MetricMaxAltitude,
		MetricFlightTimeMinutes,
		MetricFirstGPSLoss,
		MetricFirstRCLoss,
		MetricMaxBatteryTemp,
		MetricCriticalErrorCount,
		MetricStreamInventory,
		MetricLargeGapCount,
	}
}

// Compute dispatches a metric by name. Unknown names return ok=false.
func Compute(sess *session.Session, name string) MetricResult {
	switch name {
	case MetricMaxAltitude:
		return MaxAltitude(sess)
	case MetricFlightTimeMinutes:
		return FlightTimeMinutes(sess)
	case MetricFirstGPSLoss:
		return FirstGPSLoss(sess)
	case MetricFirstRCLoss:
		return FirstRCLoss(sess)
	case MetricMaxBatteryTemp:
		return MaxBatteryTemp(sess)
	case MetricCriticalErrorCount:
		return CriticalErrorCount(sess)
	case MetricStreamInventory:
		return StreamInventory(sess)
	case MetricLargeGapCount:
		return LargeGapCount(sess)
	default:
		return MetricResult{Name: name, Notes: "unknown metric"}
	}
}

// MaxAltitude returns the highest altitude sample, preferring the
// dedicated altitude stream and falling back to the relative altitude
// carried by the position stream.
func MaxAltitude(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricMaxAltitude, Units: "m", Method: "max"}

	for _, source := range []struct{ stream, field string }{
		{streamAltitude, fieldAltitude},
		{streamPosition, fieldRelativeAlt},
	} {
		if v, t, ok := maxSample(sess.Stream(source.stream), source.field); ok {
			res.OK = true
			res.Value = &v
			res.TMs = &t
			res.Source = source.stream + "." + source.field
			return res
		}
	}
	res.Notes = "no altitude data in ALT or POS streams"
	return res
}

// FlightTimeMinutes derives flight duration from session metadata, or
// from the overall stream index span when the metadata lacks it.
func FlightTimeMinutes(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricFlightTimeMinutes, Units: "min"}

	if raw, ok := sess.Meta["durationMs"]; ok {
		if ms, ok := asFloat(raw); ok && ms > 0 {
			v := ms / 60000.0
			res.OK = true
			res.Value = &v
			res.Method = "meta"
			res.Source = "meta.durationMs"
			return res
		}
	}

	var first, last int64
	seen := false
	for _, desc := range sess.Index {
		if !seen || desc.FirstMs < first {
			first = desc.FirstMs
		}
		if !seen || desc.LastMs > last {
			last = desc.LastMs
		}
		seen = true
	}
	if !seen || last <= first {
		res.Notes = "no duration metadata and empty stream index"
		return res
	}
	v := float64(last-first) / 60000.0
	res.OK = true
	res.Value = &v
	res.Method = "index-span"
	res.Source = "index"
	return res
}

// FirstGPSLoss returns the timestamp of the first GPS loss, preferring an
// explicit gps_loss event and falling back to the first downsampled GPS
// sample with an unhealthy satellite count.
func FirstGPSLoss(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricFirstGPSLoss, Units: "ms", Method: "first"}

	if ev, ok := firstEvent(sess.Events, "gps_loss"); ok {
		res.OK = true
		res.Value = ptr(float64(ev.TMs))
		res.TMs = &ev.TMs
		res.Source = "events.gps_loss"
		return res
	}
	for _, rec := range sess.Stream(streamGPS) {
		if sats, ok := rec.Fields[fieldNumSats]; ok && sats < minHealthySats {
			res.OK = true
			res.Value = ptr(float64(rec.TMs))
			t := rec.TMs
			res.TMs = &t
			res.Source = streamGPS + "." + fieldNumSats
			res.Notes = fmt.Sprintf("num_sats dropped below %d", minHealthySats)
			return res
		}
	}
	res.Notes = "no gps_loss event and no degraded GPS samples"
	return res
}

// FirstRCLoss returns the timestamp of the first RC link loss, preferring
// an explicit rc_loss event and falling back to the first zero-RSSI
// sample on the RC stream.
func FirstRCLoss(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricFirstRCLoss, Units: "ms", Method: "first"}

	if ev, ok := firstEvent(sess.Events, "rc_loss"); ok {
		res.OK = true
		res.Value = ptr(float64(ev.TMs))
		res.TMs = &ev.TMs
		res.Source = "events.rc_loss"
		return res
	}
	for _, rec := range sess.Stream(streamRC) {
		if rssi, ok := rec.Fields[fieldRSSI]; ok && rssi == 0 {
			res.OK = true
			res.Value = ptr(float64(rec.TMs))
			t := rec.TMs
			res.TMs = &t
			res.Source = streamRC + "." + fieldRSSI
			return res
		}
	}
	res.Notes = "no rc_loss event and no zero-RSSI samples"
	return res
}

// MaxBatteryTemp returns the hottest battery temperature sample, probing
// the battery stream first and the power stream second.
func MaxBatteryTemp(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricMaxBatteryTemp, Units: "degC", Method: "max"}

	for _, stream := range []string{streamBattery, streamPower} {
		if v, t, ok := maxSample(sess.Stream(stream), fieldTemp); ok {
			res.OK = true
			res.Value = &v
			res.TMs = &t
			res.Source = stream + "." + fieldTemp
			return res
		}
	}
	res.Notes = "no temperature data in BAT or POWR streams"
	return res
}

// CriticalErrorCount counts events with critical severity.
func CriticalErrorCount(sess *session.Session) MetricResult {
	count := 0
	for _, ev := range sess.Events {
		if ev.Severity == "critical" {
			count++
		}
	}
	v := float64(count)
	return MetricResult{
		Name:   MetricCriticalErrorCount,
		OK:     true,
		Value:  &v,
		Units:  "events",
		Method: "count",
		Source: "events",
	}
}

// StreamInventory reports how many streams the session carries and lists
// them with their record counts.
func StreamInventory(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricStreamInventory, Units: "streams", Method: "count", Source: "index"}
	if len(sess.Index) == 0 {
		res.Notes = "session has no stream index"
		return res
	}

	names := make([]string, 0, len(sess.Index))
	for name := range sess.Index {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s(%d)", name, sess.Index[name].Count))
	}

	v := float64(len(names))
	res.OK = true
	res.Value = &v
	res.Notes = strings.Join(parts, ", ")
	return res
}

// LargeGapCount counts coverage holes at or above LargeGapThresholdMs
// across all streams.
func LargeGapCount(sess *session.Session) MetricResult {
	res := MetricResult{Name: MetricLargeGapCount, Units: "gaps", Method: "count", Source: "gaps"}
	if sess.Gaps == nil {
		res.Notes = "session has no gap data"
		return res
	}

	count := 0
	for _, gaps := range sess.Gaps {
		for _, g := range gaps {
			if g.DurationMs >= LargeGapThresholdMs {
				count++
			}
		}
	}
	v := float64(count)
	res.OK = true
	res.Value = &v
	res.Notes = fmt.Sprintf("gaps >= %dms", int64(LargeGapThresholdMs))
	return res
}

// maxSample scans records for the largest value of one field, breaking
// ties toward the earliest timestamp (records are in ascending order).
func maxSample(records []session.Record, field string) (value float64, tMs int64, ok bool) {
	for _, rec := range records {
		v, present := rec.Fields[field]
		if !present {
			continue
		}
		if !ok || v > value {
			value, tMs, ok = v, rec.TMs, true
		}
	}
	return value, tMs, ok
}

// firstEvent returns the earliest event of the given kind. Events are
// stored in ascending timestamp order, so the first match wins.
func firstEvent(events []session.Event, kind string) (session.Event, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return session.Event{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func ptr(v float64) *float64 { return &v }
