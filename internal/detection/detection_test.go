package detection

import (
	"errors"
	"math"
	"testing"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

func floatPtr(v float64) *float64 { return &v }

func constantSamples(metric string, value float64, n int, end time.Time) []anomaly.MetricSample {
	out := make([]anomaly.MetricSample, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, anomaly.MetricSample{MetricName: metric, Timestamp: end.Add(-time.Duration(i) * time.Minute), Value: value})
	}
	return out
}

func TestMedianAndMAD(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	median := Median(values)
	if median != 3 {
		t.Fatalf("expected median 3 got %v", median)
	}
	if mad := MAD(values, median); mad != 1 {
		t.Fatalf("expected mad 1 got %v", mad)
	}
}

func TestPercentileInterpolates(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	if got := Percentile(sorted, 0.25); math.Abs(got-1.75) > 1e-12 {
		t.Fatalf("expected q1 1.75 got %v", got)
	}
	if got := Percentile(sorted, 0.75); math.Abs(got-3.25) > 1e-12 {
		t.Fatalf("expected q3 3.25 got %v", got)
	}
	if got := Percentile(nil, 0.5); got != 0 {
		t.Fatalf("expected 0 for empty input got %v", got)
	}
}

func TestStdDevShortSeries(t *testing.T) {
	if got := StdDev([]float64{4}); got != 0 {
		t.Fatalf("expected 0 got %v", got)
	}
	if got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}); math.Abs(got-2.138089935299395) > 1e-9 {
		t.Fatalf("unexpected sample stddev %v", got)
	}
}

func TestCalculatorInsufficientData(t *testing.T) {
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calc := NewCalculator(30)
	_, err := calc.Compute("cpu", end.Add(-time.Hour), end, constantSamples("cpu", 1, 10, end))
	if !errors.Is(err, anomaly.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData got %v", err)
	}
}

func TestCalculatorIgnoresOutOfWindowAndNonFinite(t *testing.T) {
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := constantSamples("cpu", 2, 5, end)
	samples = append(samples,
		anomaly.MetricSample{MetricName: "cpu", Timestamp: end.Add(-48 * time.Hour), Value: 1000},
		anomaly.MetricSample{MetricName: "cpu", Timestamp: end.Add(-time.Second), Value: math.NaN()},
	)
	b, err := NewCalculator(5).Compute("cpu", end.Add(-time.Hour), end, samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.SampleCount != 5 || b.Mean != 2 || b.StdDev != 0 {
		t.Fatalf("unexpected baseline %+v", b)
	}
}

func TestThresholdInterpolation(t *testing.T) {
	if got := zScoreRange.at(1); got != 3.0 {
		t.Fatalf("expected 3.0 at sensitivity 1 got %v", got)
	}
	if got := zScoreRange.at(10); got != 1.5 {
		t.Fatalf("expected 1.5 at sensitivity 10 got %v", got)
	}
	if got := zScoreRange.at(9); math.Abs(got-5.0/3.0) > 1e-9 {
		t.Fatalf("expected ~1.667 at sensitivity 9 got %v", got)
	}
	if got := madRange.at(42); got != 2.5 {
		t.Fatalf("expected clamp to sensitivity 10 got %v", got)
	}
	if isolationRange.at(3) <= isolationRange.at(4) {
		t.Fatalf("higher sensitivity must lower the threshold")
	}
}

func TestIQRDetectorFences(t *testing.T) {
	b := anomaly.Baseline{Q1: 10, Q3: 20}
	if v := (IQRDetector{}).Evaluate(35, b, 10); v.Fired {
		t.Fatalf("value on the fence must not fire: %+v", v)
	}
	if v := (IQRDetector{}).Evaluate(35.1, b, 10); !v.Fired {
		t.Fatalf("expected fire above upper fence")
	}
	if v := (IQRDetector{}).Evaluate(-5.1, b, 10); !v.Fired || v.Score >= 0 {
		t.Fatalf("expected negative fire below lower fence: %+v", v)
	}
}

func TestMADDetector(t *testing.T) {
	b := anomaly.Baseline{Median: 10, MAD: 1}
	if v := (MADDetector{}).Evaluate(16, b, 1); !v.Fired {
		t.Fatalf("expected fire, got %+v", v)
	}
	if v := (MADDetector{}).Evaluate(14, b, 1); v.Fired {
		t.Fatalf("unexpected fire, got %+v", v)
	}
}

func TestIsolationDetector(t *testing.T) {
	b := anomaly.Baseline{Mean: 0, StdDev: 1}
	if v := (IsolationDetector{}).Evaluate(3, b, 1); !v.Fired || v.Score != 1 {
		t.Fatalf("expected fire with score 1, got %+v", v)
	}
	if v := (IsolationDetector{}).Evaluate(1.5, b, 1); v.Fired {
		t.Fatalf("unexpected fire, got %+v", v)
	}
}

func TestThresholdDetector(t *testing.T) {
	d := ThresholdDetector{Bounds: &anomaly.Thresholds{Min: floatPtr(1), Max: floatPtr(5)}}
	if v := d.Evaluate(3, anomaly.Baseline{}, 1); v.Fired {
		t.Fatalf("value inside bounds must not fire")
	}
	if v := d.Evaluate(6, anomaly.Baseline{}, 1); !v.Fired || v.Threshold != 5 {
		t.Fatalf("expected max breach, got %+v", v)
	}
	if v := d.Evaluate(0, anomaly.Baseline{}, 1); !v.Fired || v.Threshold != 1 {
		t.Fatalf("expected min breach, got %+v", v)
	}
	if v := (ThresholdDetector{}).Evaluate(100, anomaly.Baseline{}, 1); v.Fired {
		t.Fatalf("unconfigured bounds must not fire")
	}
}

func TestZeroVarianceNeverFires(t *testing.T) {
	end := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := NewCalculator(30).Compute("queue.depth", end.Add(-24*time.Hour), end, constantSamples("queue.depth", 5, 40, end))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.StdDev != 0 || b.MAD != 0 || b.IQR() != 0 {
		t.Fatalf("expected zero spread, got %+v", b)
	}
	eval := NewEvaluator()
	cfg := anomaly.DetectionConfig{
		MetricName: "queue.depth",
		Enabled:    true,
		Algorithms: []anomaly.Algorithm{anomaly.AlgorithmIQR, anomaly.AlgorithmIsolation, anomaly.AlgorithmMAD, anomaly.AlgorithmZScore},
	}
	for s := anomaly.MinSensitivity; s <= anomaly.MaxSensitivity; s++ {
		cfg.Sensitivity = s
		for _, value := range []float64{5, 7, -100} {
			if c, ok := eval.Evaluate(cfg, anomaly.MetricSample{MetricName: "queue.depth", Timestamp: end, Value: value}, b); ok {
				t.Fatalf("sensitivity %d value %v: unexpected candidate %+v", s, value, c)
			}
		}
	}

	cfg.Thresholds = &anomaly.Thresholds{Max: floatPtr(6)}
	c, ok := eval.Evaluate(cfg, anomaly.MetricSample{MetricName: "queue.depth", Timestamp: end, Value: 7}, b)
	if !ok {
		t.Fatalf("expected threshold breach candidate")
	}
	if c.AnomalyType != anomaly.TypeThresholdBreach {
		t.Fatalf("expected threshold_breach got %s", c.AnomalyType)
	}
	if len(c.FiringAlgorithms) != 1 || c.FiringAlgorithms[0] != anomaly.AlgorithmThreshold {
		t.Fatalf("only the threshold detector should fire: %v", c.FiringAlgorithms)
	}
	if _, ok := eval.Evaluate(cfg, anomaly.MetricSample{MetricName: "queue.depth", Timestamp: end, Value: 5}, b); ok {
		t.Fatalf("constant value must not breach")
	}
}

func TestEnsembleSpikeExample(t *testing.T) {
	cfg := anomaly.DetectionConfig{
		MetricName:  "api.errors",
		Enabled:     true,
		Sensitivity: 9,
		Algorithms:  []anomaly.Algorithm{anomaly.AlgorithmZScore},
	}
	b := anomaly.Baseline{MetricName: "api.errors", Mean: 1.0, StdDev: 0.2}
	c, ok := NewEvaluator().Evaluate(cfg, anomaly.MetricSample{MetricName: "api.errors", Value: 3.0}, b)
	if !ok {
		t.Fatalf("expected candidate")
	}
	if z := c.Verdicts[0].Score; math.Abs(z-10) > 1e-9 {
		t.Fatalf("expected z-score 10 got %v", z)
	}
	if math.Abs(c.DeviationPercent-200) > 1e-9 {
		t.Fatalf("expected 200%% got %v", c.DeviationPercent)
	}
	if c.Severity != anomaly.SeverityCritical {
		t.Fatalf("expected critical got %s", c.Severity)
	}
	if c.AnomalyType != anomaly.TypeSpike {
		t.Fatalf("expected spike got %s", c.AnomalyType)
	}
	if c.Explain == "" {
		t.Fatalf("expected explain")
	}
}

func TestEnsembleDrop(t *testing.T) {
	cfg := anomaly.DetectionConfig{MetricName: "orders", Sensitivity: 5, Algorithms: []anomaly.Algorithm{anomaly.AlgorithmZScore}}
	b := anomaly.Baseline{Mean: 100, StdDev: 5}
	c, ok := NewEvaluator().Evaluate(cfg, anomaly.MetricSample{Value: 40}, b)
	if !ok || c.AnomalyType != anomaly.TypeDrop || c.Severity != anomaly.SeverityHigh {
		t.Fatalf("expected high drop, got ok=%v %+v", ok, c)
	}
}

func TestEnsembleMinAgreement(t *testing.T) {
	b := anomaly.Baseline{Mean: 10, StdDev: 1, Q1: 9, Q3: 11}
	cfg := anomaly.DetectionConfig{
		MetricName:  "latency",
		Sensitivity: 10,
		Algorithms:  []anomaly.Algorithm{anomaly.AlgorithmIQR, anomaly.AlgorithmZScore},
	}
	eval := NewEvaluator()
	if _, ok := eval.Evaluate(cfg, anomaly.MetricSample{Value: 13}, b); !ok {
		t.Fatalf("any single detector should trigger by default")
	}
	cfg.MinAgreement = 2
	if _, ok := eval.Evaluate(cfg, anomaly.MetricSample{Value: 13}, b); ok {
		t.Fatalf("one of two detectors must not meet a quorum of 2")
	}
	c, ok := eval.Evaluate(cfg, anomaly.MetricSample{Value: 20}, b)
	if !ok || len(c.FiringAlgorithms) != 2 {
		t.Fatalf("expected both detectors to fire, got ok=%v %v", ok, c.FiringAlgorithms)
	}
}

func TestSeverityBoundaries(t *testing.T) {
	cases := map[float64]anomaly.Severity{
		95.0:    anomaly.SeverityCritical,
		94.9999: anomaly.SeverityHigh,
		50.0:    anomaly.SeverityHigh,
		20.0:    anomaly.SeverityMedium,
		19.9999: anomaly.SeverityLow,
		0:       anomaly.SeverityLow,
	}
	for pct, want := range cases {
		if got := ClassifySeverity(pct); got != want {
			t.Fatalf("deviation %v: expected %s got %s", pct, want, got)
		}
	}
}

func TestDeviationPercentNearZeroMean(t *testing.T) {
	got := NewEvaluator().DeviationPercent(1, 0)
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("expected finite deviation, got %v", got)
	}
	if ClassifySeverity(got) != anomaly.SeverityCritical {
		t.Fatalf("expected critical for departure from zero mean")
	}
}
