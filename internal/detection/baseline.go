package detection

import (
	"fmt"
	"math"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

const (
	DefaultMinSamples = 30
	DefaultRetention  = 30 * 24 * time.Hour

	varianceEpsilon = 1e-12
)

type Calculator struct {
	MinSamples int
}

func NewCalculator(minSamples int) Calculator {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return Calculator{MinSamples: minSamples}
}

// Compute derives the baseline for one metric over [from, to]. Samples
// outside the window and non-finite values are ignored. A window with fewer
// than MinSamples usable points yields anomaly.ErrInsufficientData.
func (c Calculator) Compute(metric string, from, to time.Time, samples []anomaly.MetricSample) (anomaly.Baseline, error) {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		values = append(values, s.Value)
	}
	if len(values) < c.MinSamples {
		return anomaly.Baseline{}, fmt.Errorf("%s has %d samples, need %d: %w", metric, len(values), c.MinSamples, anomaly.ErrInsufficientData)
	}
	sorted := sortedCopy(values)
	median := Percentile(sorted, 0.5)
	mean := Mean(values)
	stddev := StdDev(values)
	// summation noise on a constant series must still read as no variance
	if stddev <= varianceEpsilon*math.Max(1, math.Abs(mean)) {
		stddev = 0
	}
	return anomaly.Baseline{
		MetricName:  metric,
		Mean:        mean,
		StdDev:      stddev,
		Q1:          Percentile(sorted, 0.25),
		Q3:          Percentile(sorted, 0.75),
		Median:      median,
		MAD:         MAD(values, median),
		SampleCount: len(values),
		WindowStart: from,
		WindowEnd:   to,
	}, nil
}
