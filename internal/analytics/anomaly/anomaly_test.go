package anomaly

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/skylens-ai/internal/session"
)

func makeFlight(t *testing.T, id string, records []session.Record) session.Store {
	t.Helper()
	store := session.NewMemoryStore()
	require.NoError(t, store.Put(&session.Session{
		SessionID:     id,
		Downsample1Hz: map[string][]session.Record{"ALT": records},
	}))
	return store
}

func evenRecords(startMs, stepMs int64, values []float64) []session.Record {
	records := make([]session.Record, len(values))
	for i, v := range values {
		records[i] = session.Record{
			TMs:    startMs + int64(i)*stepMs,
			Fields: map[string]float64{"altitude": v},
		}
	}
	return records
}

func TestBuildWindowsFloorsAndWidens(t *testing.T) {
	// 100000ms span with a 30000ms nominal window: floor(100000/30000)=3
	// windows, each widened to 100000/3 ≈ 33333.3ms.
	records := []session.Record{
		{TMs: 0, Fields: map[string]float64{"altitude": 1}},
		{TMs: 100000, Fields: map[string]float64{"altitude": 2}},
	}
	windows, width := buildWindows(records, 30000)

	assert.Len(t, windows, 3)
	assert.InDelta(t, 33333.333, width, 0.001)
	assert.Equal(t, 0.0, windows[0].startMs)
	assert.InDelta(t, 33333.333, windows[0].endMs, 0.001)
	assert.InDelta(t, 100000.0, windows[2].endMs, 0.001)
}

func TestBuildWindowsShortSpanSingleWindow(t *testing.T) {
	// Duration below the nominal size still yields one window covering
	// the whole span.
	records := []session.Record{
		{TMs: 1000, Fields: map[string]float64{"altitude": 1}},
		{TMs: 5000, Fields: map[string]float64{"altitude": 2}},
	}
	windows, width := buildWindows(records, 30000)

	require.Len(t, windows, 1)
	assert.Equal(t, 4000.0, width)
	assert.Equal(t, 1000.0, windows[0].startMs)
	assert.Equal(t, 5000.0, windows[0].endMs)
}

func TestWindowBoundaryBelongsToBoth(t *testing.T) {
	records := []session.Record{
		{TMs: 0, Fields: map[string]float64{"altitude": 1}},
		{TMs: 60000, Fields: map[string]float64{"altitude": 2}},
	}
	windows, _ := buildWindows(records, 30000)
	require.Len(t, windows, 2)

	// The shared boundary timestamp is inside both adjacent windows.
	assert.True(t, windows[0].contains(30000))
	assert.True(t, windows[1].contains(30000))
}

func TestPopulationStats(t *testing.T) {
	mean, std := populationStats([]float64{1, 2, 3})
	assert.Equal(t, 2.0, mean)
	// Population variance: ((1)+(0)+(1))/3 = 2/3.
	assert.InDelta(t, math.Sqrt(2.0/3.0), std, 1e-9)
}

func TestComputeBaselineInsufficientData(t *testing.T) {
	store := makeFlight(t, "f1", evenRecords(0, 1000, []float64{1, 2, 3}))

	_, err := ComputeBaseline(store, "f1", BaselineRequest{Stream: "ALT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestComputeBaselineUnknownStreamInsufficient(t *testing.T) {
	store := makeFlight(t, "f1", evenRecords(0, 1000, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))

	_, err := ComputeBaseline(store, "f1", BaselineRequest{Stream: "NOPE"})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestComputeBaselineStats(t *testing.T) {
	// 10 records at 1s intervals fit one 30s nominal window.
	values := []float64{10, 12, 11, 13, 10, 12, 11, 13, 10, 12}
	store := makeFlight(t, "f1", evenRecords(0, 1000, values))

	report, err := ComputeBaseline(store, "f1", BaselineRequest{Stream: "ALT"})
	require.NoError(t, err)

	assert.Equal(t, "ALT", report.Stream)
	assert.Equal(t, 10, report.RecordCount)
	require.Equal(t, 1, report.WindowCount)

	fs := report.Windows[0].Fields["altitude"]
	require.NotNil(t, fs.Mean)
	assert.Equal(t, 10, fs.SampleCount)
	assert.Equal(t, 11.4, *fs.Mean)
	assert.Equal(t, 10.0, *fs.Min)
	assert.Equal(t, 13.0, *fs.Max)
	// round3 keeps three decimals.
	assert.Equal(t, math.Round(*fs.Std*1000)/1000, *fs.Std)
}

func TestComputeBaselineSparseFieldNilStats(t *testing.T) {
	records := evenRecords(0, 1000, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	// One lone sample of a second field: below the 2-sample floor.
	records[4].Fields["vz"] = 1.5
	store := makeFlight(t, "f1", records)

	report, err := ComputeBaseline(store, "f1", BaselineRequest{Stream: "ALT"})
	require.NoError(t, err)

	fs := report.Windows[0].Fields["vz"]
	assert.Equal(t, 1, fs.SampleCount)
	assert.Nil(t, fs.Mean)
	assert.Nil(t, fs.Std)
}

func TestDetectOutliersThresholds(t *testing.T) {
	values := []float64{0, 0, 0, 0, 10, 0, 0, 0, 0, 0}
	store := makeFlight(t, "f1", evenRecords(0, 1000, values))

	// sigma=2.5: for {0,0,0,0,10,0,0,0,0,0} mean=1, std=3, upper=8.5,
	// so 10 is flagged with deviation (10-1)/3 = 3.
	report, err := DetectOutliers(store, "f1", OutlierRequest{Stream: "ALT"})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalOutliers)

	out := report.Windows[0].Outliers[0]
	assert.Equal(t, int64(4000), out.TMs)
	assert.Equal(t, "altitude", out.Field)
	assert.Equal(t, 10.0, out.Value)
	assert.Equal(t, 3.0, out.DeviationSigma)
	assert.Equal(t, 9.0, out.Magnitude)

	// sigma=4 keeps the same sample inside the threshold.
	report, err = DetectOutliers(store, "f1", OutlierRequest{Stream: "ALT", ThresholdSigma: 4})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalOutliers)
}

func TestDetectOutliersZeroStdNoDivision(t *testing.T) {
	// Constant series: std=0, lower==upper==mean, nothing escapes the
	// closed threshold band, so no outliers and no NaN deviations.
	values := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	store := makeFlight(t, "f1", evenRecords(0, 1000, values))

	report, err := DetectOutliers(store, "f1", OutlierRequest{Stream: "ALT"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalOutliers)

	th := report.Windows[0].Fields["altitude"]
	assert.Equal(t, 5.0, th.Lower)
	assert.Equal(t, 5.0, th.Upper)
}

func TestDetectOutliersSkipsThinFields(t *testing.T) {
	records := evenRecords(0, 1000, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	// Two samples of a second field: below the 3-sample detection floor.
	records[0].Fields["vz"] = 100
	records[1].Fields["vz"] = -100
	store := makeFlight(t, "f1", records)

	report, err := DetectOutliers(store, "f1", OutlierRequest{Stream: "ALT"})
	require.NoError(t, err)

	_, reported := report.Windows[0].Fields["vz"]
	assert.False(t, reported)
}

func TestDefaultThresholdSigmaApplied(t *testing.T) {
	store := makeFlight(t, "f1", evenRecords(0, 1000, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))

	report, err := DetectOutliers(store, "f1", OutlierRequest{Stream: "ALT"})
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholdSigma, report.ThresholdSigma)
}

func TestCollectSamplesSkipsNaN(t *testing.T) {
	records := []session.Record{
		{TMs: 0, Fields: map[string]float64{"altitude": 1}},
		{TMs: 1000, Fields: map[string]float64{"altitude": math.NaN()}},
		{TMs: 2000, Fields: map[string]float64{"altitude": 3}},
	}
	w := window{startMs: 0, endMs: 2000}
	samples := collectSamples(records, w, "altitude")
	assert.Equal(t, []float64{1, 3}, samples)
}
