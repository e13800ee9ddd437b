package detection

import (
	"fmt"
	"math"
	"strings"
	"time"

	"predixaai-anomaly/internal/anomaly"
)

const defaultEpsilon = 1e-9

// Candidate is an anomaly that passed the ensemble and still has to clear
// the dedup gate before it becomes an alert.
type Candidate struct {
	MetricName       string              `json:"metricName"`
	ObservedValue    float64             `json:"observedValue"`
	ObservedAt       time.Time           `json:"observedAt"`
	Baseline         anomaly.Baseline    `json:"baseline"`
	DeviationPercent float64             `json:"deviationPercent"`
	AnomalyType      anomaly.AnomalyType `json:"anomalyType"`
	Severity         anomaly.Severity    `json:"severity"`
	FiringAlgorithms []anomaly.Algorithm `json:"firingAlgorithms"`
	Verdicts         []Verdict           `json:"verdicts"`
	Explain          string              `json:"explain"`
}

type Evaluator struct {
	Epsilon float64
}

func NewEvaluator() Evaluator {
	return Evaluator{Epsilon: defaultEpsilon}
}

// Evaluate runs the configured detectors for one sample. A threshold breach
// always yields a candidate. Statistical detectors yield one when at least
// cfg.MinAgreement of them fire (any single one when MinAgreement <= 1).
func (e Evaluator) Evaluate(cfg anomaly.DetectionConfig, sample anomaly.MetricSample, baseline anomaly.Baseline) (Candidate, bool) {
	var (
		verdicts  []Verdict
		firing    []anomaly.Algorithm
		statFired int
		breached  bool
	)
	for _, alg := range cfg.Algorithms {
		det, ok := DetectorFor(alg)
		if !ok {
			continue
		}
		v := det.Evaluate(sample.Value, baseline, cfg.Sensitivity)
		verdicts = append(verdicts, v)
		if v.Fired {
			statFired++
			firing = append(firing, alg)
		}
	}
	if cfg.Thresholds.Configured() {
		v := ThresholdDetector{Bounds: cfg.Thresholds}.Evaluate(sample.Value, baseline, cfg.Sensitivity)
		verdicts = append(verdicts, v)
		if v.Fired {
			breached = true
			firing = append(firing, anomaly.AlgorithmThreshold)
		}
	}

	quorum := max(cfg.MinAgreement, 1)
	if !breached && statFired < quorum {
		return Candidate{}, false
	}

	deviation := e.DeviationPercent(sample.Value, baseline.Mean)
	return Candidate{
		MetricName:       cfg.MetricName,
		ObservedValue:    sample.Value,
		ObservedAt:       sample.Timestamp,
		Baseline:         baseline,
		DeviationPercent: deviation,
		AnomalyType:      ClassifyType(sample.Value, baseline.Mean, breached),
		Severity:         ClassifySeverity(deviation),
		FiringAlgorithms: firing,
		Verdicts:         verdicts,
		Explain:          buildExplain(verdicts, baseline),
	}, true
}

func (e Evaluator) DeviationPercent(value, mean float64) float64 {
	eps := e.Epsilon
	if eps <= 0 {
		eps = defaultEpsilon
	}
	return math.Abs(value-mean) / math.Max(math.Abs(mean), eps) * 100
}

func ClassifySeverity(deviationPercent float64) anomaly.Severity {
	switch {
	case deviationPercent >= 95:
		return anomaly.SeverityCritical
	case deviationPercent >= 50:
		return anomaly.SeverityHigh
	case deviationPercent >= 20:
		return anomaly.SeverityMedium
	default:
		return anomaly.SeverityLow
	}
}

func ClassifyType(value, mean float64, breached bool) anomaly.AnomalyType {
	switch {
	case breached:
		return anomaly.TypeThresholdBreach
	case value > mean:
		return anomaly.TypeSpike
	case value < mean:
		return anomaly.TypeDrop
	default:
		return anomaly.TypeOutlier
	}
}

func buildExplain(verdicts []Verdict, baseline anomaly.Baseline) string {
	parts := make([]string, 0, len(verdicts)+1)
	for _, v := range verdicts {
		if v.Fired {
			parts = append(parts, v.String())
		}
	}
	parts = append(parts, formatBaseline(baseline))
	return strings.Join(parts, ", ")
}

func formatBaseline(b anomaly.Baseline) string {
	return fmt.Sprintf("mean=%.2f, stddev=%.2f, median=%.2f, mad=%.2f", b.Mean, b.StdDev, b.Median, b.MAD)
}
