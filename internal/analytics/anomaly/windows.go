package anomaly

// Package anomaly computes rolling-window baseline statistics and
// dynamic-threshold outlier detection over telemetry record fetches,
// using classical statistics only: deterministic, reproducible, and
// explainable (mean, population variance, sigma thresholds).

import (
	"errors"
	"math"

	"github.com/skylens/skylens-ai/internal/session"
)

// ErrInsufficientData is returned when a stream fetch is empty or carries
// fewer than MinRecords records. Callers surface it as a structured
// "not ok" tool result, never as a request failure.
var ErrInsufficientData = errors.New("insufficient data for statistical analysis")

const (
	// MinRecords is the minimum fetch size for any windowed computation.
	MinRecords = 10

	// DefaultWindowSizeMs is the nominal window width when the caller
	// does not specify one.
	DefaultWindowSizeMs = 30000

	// DefaultThresholdSigma is the outlier threshold in sigma units.
	DefaultThresholdSigma = 2.5
)

// window is a contiguous closed-closed time slice [StartMs, EndMs].
// Adjacent windows share their boundary timestamp, so a record exactly on
// a boundary belongs to both.
type window struct {
	index   int
	startMs float64
	endMs   float64
}

// buildWindows splits the fetched span into windowCount equal slices.
// windowCount = max(1, floor(duration/nominal)); the effective width is
// duration/windowCount, which can exceed the nominal size when the
// duration is not an exact multiple. That widening is intentional and the
// contract callers rely on.
func buildWindows(records []session.Record, nominalSizeMs float64) ([]window, float64) {
	minTs := records[0].TMs
	maxTs := records[0].TMs
	for _, r := range records[1:] {
		if r.TMs < minTs {
			minTs = r.TMs
		}
		if r.TMs > maxTs {
			maxTs = r.TMs
		}
	}

	duration := float64(maxTs - minTs)
	count := int(math.Floor(duration / nominalSizeMs))
	if count < 1 {
		count = 1
	}
	width := duration / float64(count)

	windows := make([]window, count)
	for i := 0; i < count; i++ {
		start := float64(minTs) + float64(i)*width
		windows[i] = window{index: i, startMs: start, endMs: start + width}
	}
	return windows, width
}

// contains reports whether a timestamp falls inside the closed interval.
func (w window) contains(tMs int64) bool {
	t := float64(tMs)
	return t >= w.startMs && t <= w.endMs
}

// collectSamples gathers the numeric samples for one field inside one
// window, in record order.
func collectSamples(records []session.Record, w window, field string) []float64 {
	var samples []float64
	for _, r := range records {
		if !w.contains(r.TMs) {
			continue
		}
		if v, ok := r.Fields[field]; ok && !math.IsNaN(v) {
			samples = append(samples, v)
		}
	}
	return samples
}

// fieldNames returns the union of field names across records when the
// caller did not restrict the field set.
func fieldNames(records []session.Record, requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		for f := range r.Fields {
			if !seen[f] {
				seen[f] = true
				names = append(names, f)
			}
		}
	}
	return names
}

// populationStats returns mean and population standard deviation
// (variance divided by n, not n-1).
func populationStats(samples []float64) (mean, std float64) {
	n := float64(len(samples))
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean = sum / n

	var sq float64
	for _, v := range samples {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// round3 rounds to 3 decimal places, the reporting precision for all
// baseline statistics.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
