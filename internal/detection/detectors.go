package detection

import (
	"fmt"
	"math"

	"predixaai-anomaly/internal/anomaly"
)

const madScale = 0.6745

// Verdict is the outcome of one detector for one observation. Score is the
// detector's raw statistic; NormalizedDeviation is |Score| relative to the
// threshold in force, so values >= 1 correspond to a fire.
type Verdict struct {
	Algorithm           anomaly.Algorithm `json:"algorithm"`
	Fired               bool              `json:"fired"`
	Score               float64           `json:"score"`
	Threshold           float64           `json:"threshold"`
	NormalizedDeviation float64           `json:"normalizedDeviation"`
}

type Detector interface {
	Algorithm() anomaly.Algorithm
	Evaluate(value float64, baseline anomaly.Baseline, sensitivity int) Verdict
}

// thresholdRange maps sensitivity 1 to AtLowest and sensitivity 10 to
// AtHighest, linearly in between.
type thresholdRange struct {
	AtLowest  float64
	AtHighest float64
}

func (r thresholdRange) at(sensitivity int) float64 {
	s := min(max(sensitivity, anomaly.MinSensitivity), anomaly.MaxSensitivity)
	step := float64(s-anomaly.MinSensitivity) / float64(anomaly.MaxSensitivity-anomaly.MinSensitivity)
	return r.AtLowest + step*(r.AtHighest-r.AtLowest)
}

var (
	zScoreRange    = thresholdRange{AtLowest: 3.0, AtHighest: 1.5}
	iqrRange       = thresholdRange{AtLowest: 3.0, AtHighest: 1.5}
	madRange       = thresholdRange{AtLowest: 3.5, AtHighest: 2.5}
	isolationRange = thresholdRange{AtLowest: 0.7, AtHighest: 0.4}
)

type ZScoreDetector struct{}

func (ZScoreDetector) Algorithm() anomaly.Algorithm { return anomaly.AlgorithmZScore }

func (ZScoreDetector) Evaluate(value float64, baseline anomaly.Baseline, sensitivity int) Verdict {
	threshold := zScoreRange.at(sensitivity)
	v := Verdict{Algorithm: anomaly.AlgorithmZScore, Threshold: threshold}
	if baseline.StdDev <= 0 {
		return v
	}
	v.Score = (value - baseline.Mean) / baseline.StdDev
	return v.judge(math.Abs(v.Score))
}

type IQRDetector struct{}

func (IQRDetector) Algorithm() anomaly.Algorithm { return anomaly.AlgorithmIQR }

// Evaluate scores the distance outside the fences in units of IQR, so the
// score crosses k exactly at the fence.
func (IQRDetector) Evaluate(value float64, baseline anomaly.Baseline, sensitivity int) Verdict {
	k := iqrRange.at(sensitivity)
	v := Verdict{Algorithm: anomaly.AlgorithmIQR, Threshold: k}
	iqr := baseline.IQR()
	if iqr <= 0 {
		return v
	}
	switch {
	case value > baseline.Q3:
		v.Score = (value - baseline.Q3) / iqr
	case value < baseline.Q1:
		v.Score = (value - baseline.Q1) / iqr
	}
	lower := baseline.Q1 - k*iqr
	upper := baseline.Q3 + k*iqr
	v.NormalizedDeviation = math.Abs(v.Score) / k
	v.Fired = value < lower || value > upper
	return v
}

type MADDetector struct{}

func (MADDetector) Algorithm() anomaly.Algorithm { return anomaly.AlgorithmMAD }

func (MADDetector) Evaluate(value float64, baseline anomaly.Baseline, sensitivity int) Verdict {
	threshold := madRange.at(sensitivity)
	v := Verdict{Algorithm: anomaly.AlgorithmMAD, Threshold: threshold}
	if baseline.MAD <= 0 {
		return v
	}
	v.Score = madScale * (value - baseline.Median) / baseline.MAD
	return v.judge(math.Abs(v.Score))
}

type IsolationDetector struct{}

func (IsolationDetector) Algorithm() anomaly.Algorithm { return anomaly.AlgorithmIsolation }

func (IsolationDetector) Evaluate(value float64, baseline anomaly.Baseline, sensitivity int) Verdict {
	threshold := isolationRange.at(sensitivity)
	v := Verdict{Algorithm: anomaly.AlgorithmIsolation, Threshold: threshold}
	if baseline.StdDev <= 0 {
		return v
	}
	v.Score = math.Abs(value-baseline.Mean) / (3 * baseline.StdDev)
	return v.judge(v.Score)
}

// ThresholdDetector checks fixed bounds. It ignores sensitivity and the
// baseline.
type ThresholdDetector struct {
	Bounds *anomaly.Thresholds
}

func (ThresholdDetector) Algorithm() anomaly.Algorithm { return anomaly.AlgorithmThreshold }

func (d ThresholdDetector) Evaluate(value float64, _ anomaly.Baseline, _ int) Verdict {
	v := Verdict{Algorithm: anomaly.AlgorithmThreshold}
	if !d.Bounds.Configured() {
		return v
	}
	if d.Bounds.Max != nil && value > *d.Bounds.Max {
		v.Fired = true
		v.Threshold = *d.Bounds.Max
		v.Score = value - *d.Bounds.Max
	} else if d.Bounds.Min != nil && value < *d.Bounds.Min {
		v.Fired = true
		v.Threshold = *d.Bounds.Min
		v.Score = value - *d.Bounds.Min
	}
	if v.Fired {
		v.NormalizedDeviation = 1 + math.Abs(v.Score)/math.Max(math.Abs(v.Threshold), defaultEpsilon)
	}
	return v
}

func (v Verdict) judge(magnitude float64) Verdict {
	if v.Threshold > 0 {
		v.NormalizedDeviation = magnitude / v.Threshold
	}
	v.Fired = magnitude >= v.Threshold
	return v
}

func (v Verdict) String() string {
	return fmt.Sprintf("%s=%.2f (>=%.2f)", v.Algorithm, v.Score, v.Threshold)
}

// DetectorFor returns the statistical detector for alg. Threshold detectors
// carry per-metric bounds and are built with ThresholdDetector directly.
func DetectorFor(alg anomaly.Algorithm) (Detector, bool) {
	switch alg {
	case anomaly.AlgorithmZScore:
		return ZScoreDetector{}, true
	case anomaly.AlgorithmIQR:
		return IQRDetector{}, true
	case anomaly.AlgorithmMAD:
		return MADDetector{}, true
	case anomaly.AlgorithmIsolation:
		return IsolationDetector{}, true
	default:
		return nil, false
	}
}
