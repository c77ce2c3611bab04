package anomaly

import (
	"fmt"
	"math"
	"sort"

	"github.com/skylens/skylens-ai/internal/analytics/timeseries"
	"github.com/skylens/skylens-ai/internal/session"
)

// Outlier is one sample outside its window's sigma threshold.
type Outlier struct {
	TMs            int64   `json:"t_ms"`
	Field          string  `json:"field"`
	Value          float64 `json:"value"`
	DeviationSigma float64 `json:"deviationSigma"` // 0 when the window std is 0
	Magnitude      float64 `json:"magnitude"`      // absolute deviation from the window mean
}

// OutlierWindow summarizes detection inside one window. Fields with fewer
// than 3 samples are skipped entirely, not reported.
type OutlierWindow struct {
	Window   int                       `json:"window"`
	StartMs  float64                   `json:"startMs"`
	EndMs    float64                   `json:"endMs"`
	Fields   map[string]FieldThreshold `json:"fields"`
	Outliers []Outlier                 `json:"outliers"`
}

// FieldThreshold records the dynamic threshold applied to one field.
type FieldThreshold struct {
	SampleCount int     `json:"sampleCount"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
}

// OutlierReport is the full detection result over a stream fetch.
type OutlierReport struct {
	Stream            string          `json:"stream"`
	RecordCount       int             `json:"recordCount"`
	WindowCount       int             `json:"windowCount"`
	EffectiveWindowMs float64         `json:"effectiveWindowMs"`
	ThresholdSigma    float64         `json:"thresholdSigma"`
	TotalOutliers     int             `json:"totalOutliers"`
	Windows           []OutlierWindow `json:"windows"`
}

// OutlierRequest parameterizes DetectOutliers.
type OutlierRequest struct {
	Stream         string
	Fields         []string
	StartMs        int64
	EndMs          int64
	WindowSizeMs   float64 // nominal; <=0 means DefaultWindowSizeMs
	ThresholdSigma float64 // <=0 means DefaultThresholdSigma
}

// DetectOutliers flags samples outside mean ± thresholdSigma·std per
// window and field, using the same windowing rule as ComputeBaseline.
func DetectOutliers(store session.Store, sessionID string, req OutlierRequest) (*OutlierReport, error) {
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
	sigma := req.ThresholdSigma
	if sigma <= 0 {
		sigma = DefaultThresholdSigma
	}

	windows, width := buildWindows(records, nominal)
	fields := fieldNames(records, req.Fields)
	sort.Strings(fields)

	report := &OutlierReport{
		Stream:            req.Stream,
		RecordCount:       len(records),
		WindowCount:       len(windows),
		EffectiveWindowMs: width,
		ThresholdSigma:    sigma,
		Windows:           make([]OutlierWindow, 0, len(windows)),
	}

	for _, w := range windows {
		ow := OutlierWindow{
			Window:  w.index,
			StartMs: w.startMs,
			EndMs:   w.endMs,
			Fields:  make(map[string]FieldThreshold, len(fields)),
		}
		for _, field := range fields {
			samples := collectSamples(records, w, field)
			if len(samples) < 3 {
				continue
			}
			mean, std := populationStats(samples)
			lower := mean - sigma*std
			upper := mean + sigma*std
			ow.Fields[field] = FieldThreshold{
				SampleCount: len(samples),
				Mean:        round3(mean),
				Std:         round3(std),
				Lower:       round3(lower),
				Upper:       round3(upper),
			}
			for _, r := range records {
				if !w.contains(r.TMs) {
					continue
				}
				v, ok := r.Fields[field]
				if !ok || math.IsNaN(v) {
					continue
				}
				if v >= lower && v <= upper {
					continue
				}
				deviation := 0.0
				if std != 0 {
					deviation = (v - mean) / std
				}
				ow.Outliers = append(ow.Outliers, Outlier{
					TMs:            r.TMs,
					Field:          field,
					Value:          v,
					DeviationSigma: round3(deviation),
					Magnitude:      round3(math.Abs(v - mean)),
				})
			}
		}
		report.TotalOutliers += len(ow.Outliers)
		report.Windows = append(report.Windows, ow)
	}
	return report, nil
}
