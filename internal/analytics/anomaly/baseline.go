package anomaly

import (
	"fmt"
	"sort"

	"github.com/skylens/skylens-ai/internal/analytics/timeseries"
	"github.com/skylens/skylens-ai/internal/session"
)

// FieldStats is the per-window, per-field baseline. Stats are nil when
// the window held fewer than 2 samples for the field.
type FieldStats struct {
	SampleCount int      `json:"sampleCount"`
	Mean        *float64 `json:"mean"`
	Std         *float64 `json:"std"`
	Min         *float64 `json:"min"`
	Max         *float64 `json:"max"`
}

// WindowStats is the baseline for one time window.
type WindowStats struct {
	Window  int                   `json:"window"`
	StartMs float64               `json:"startMs"`
	EndMs   float64               `json:"endMs"`
	Fields  map[string]FieldStats `json:"fields"`
}

// BaselineReport is the full baseline over a stream fetch.
type BaselineReport struct {
	Stream            string        `json:"stream"`
	RecordCount       int           `json:"recordCount"`
	WindowCount       int           `json:"windowCount"`
	EffectiveWindowMs float64       `json:"effectiveWindowMs"`
	Windows           []WindowStats `json:"windows"`
}

// BaselineRequest parameterizes ComputeBaseline.
type BaselineRequest struct {
	Stream       string
	Fields       []string
	StartMs      int64
	EndMs        int64
	WindowSizeMs float64 // nominal; <=0 means DefaultWindowSizeMs
}

// ComputeBaseline computes per-window population statistics for each
// requested field of one stream. Fails with ErrInsufficientData when the
// fetch is empty or shorter than MinRecords.
func ComputeBaseline(store session.Store, sessionID string, req BaselineRequest) (*BaselineReport, error) {
	records, err := timeseries.Fetch(store, sessionID, timeseries.Query{
		Stream:  req.Stream,
		Fields:  req.Fields,
		StartMs: req.StartMs,
		EndMs:   req.EndMs,
	})
	if err != nil {
		return nil, err
	}
	if len(records) < MinRecords {
		return nil, fmt.Errorf("%w: stream %q has %d records, need %d",
			ErrInsufficientData, req.Stream, len(records), MinRecords)
	}

	nominal := req.WindowSizeMs
	if nominal <= 0 {
		nominal = DefaultWindowSizeMs
	}
	windows, width := buildWindows(records, nominal)
	fields := fieldNames(records, req.Fields)
	sort.Strings(fields)

	report := &BaselineReport{
		Stream:            req.Stream,
		RecordCount:       len(records),
		WindowCount:       len(windows),
		EffectiveWindowMs: width,
		Windows:           make([]WindowStats, 0, len(windows)),
	}

	for _, w := range windows {
		ws := WindowStats{
			Window:  w.index,
			StartMs: w.startMs,
			EndMs:   w.endMs,
			Fields:  make(map[string]FieldStats, len(fields)),
		}
		for _, field := range fields {
			samples := collectSamples(records, w, field)
			if len(samples) < 2 {
				ws.Fields[field] = FieldStats{SampleCount: len(samples)}
				continue
			}
			mean, std := populationStats(samples)
			lo, hi := samples[0], samples[0]
			for _, v := range samples[1:] {
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			ws.Fields[field] = FieldStats{
				SampleCount: len(samples),
				Mean:        ptr(round3(mean)),
				Std:         ptr(round3(std)),
				Min:         ptr(round3(lo)),
				Max:         ptr(round3(hi)),
			}
		}
		report.Windows = append(report.Windows, ws)
	}
	return report, nil
}

func ptr(v float64) *float64 { return &v }
