package anomaly

import (
	"slices"
	"time"
)

type Algorithm string

const (
	AlgorithmZScore    Algorithm = "zscore"
	AlgorithmIQR       Algorithm = "iqr"
	AlgorithmMAD       Algorithm = "mad"
	AlgorithmIsolation Algorithm = "isolation"
	AlgorithmThreshold Algorithm = "threshold"
)

var KnownAlgorithms = []Algorithm{AlgorithmZScore, AlgorithmIQR, AlgorithmMAD, AlgorithmIsolation, AlgorithmThreshold}

func (a Algorithm) Valid() bool {
	return slices.Contains(KnownAlgorithms, a)
}

type AnomalyType string

const (
	TypeSpike           AnomalyType = "spike"
	TypeDrop            AnomalyType = "drop"
	TypeOutlier         AnomalyType = "outlier"
	TypeThresholdBreach AnomalyType = "threshold_breach"
	// TypeTrendChange and TypePatternBreak are reserved for sequence-level
	// detectors; the point-in-time ensemble never emits them.
	TypeTrendChange  AnomalyType = "trend_change"
	TypePatternBreak AnomalyType = "pattern_break"
)

func (t AnomalyType) Valid() bool {
	switch t {
	case TypeSpike, TypeDrop, TypeOutlier, TypeThresholdBreach, TypeTrendChange, TypePatternBreak:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

type MetricSample struct {
	MetricName string    `json:"metricName"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
}

type Thresholds struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func (t *Thresholds) Configured() bool {
	return t != nil && (t.Min != nil || t.Max != nil)
}

const DefaultCooldownSeconds = 900

type DetectionConfig struct {
	MetricName      string      `json:"metricName"`
	Enabled         bool        `json:"enabled"`
	Sensitivity     int         `json:"sensitivity"`
	Algorithms      []Algorithm `json:"algorithms"`
	Thresholds      *Thresholds `json:"thresholds,omitempty"`
	AlertChannels   []string    `json:"alertChannels"`
	CooldownSeconds int         `json:"cooldownSeconds"`
	// MinAgreement is the number of statistical detectors that must fire
	// together. 0 and 1 both mean any single detector is enough.
	MinAgreement int       `json:"minAgreement,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c DetectionConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

func (c DetectionConfig) HasAlgorithm(alg Algorithm) bool {
	return slices.Contains(c.Algorithms, alg)
}

type Baseline struct {
	MetricName  string    `json:"metricName"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	Q1          float64   `json:"q1"`
	Q3          float64   `json:"q3"`
	Median      float64   `json:"median"`
	MAD         float64   `json:"mad"`
	SampleCount int       `json:"sampleCount"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
}

func (b Baseline) IQR() float64 {
	return b.Q3 - b.Q1
}

type Alert struct {
	ID               string      `json:"id"`
	MetricName       string      `json:"metricName"`
	ObservedValue    float64     `json:"observedValue"`
	ObservedAt       time.Time   `json:"observedAt"`
	Baseline         Baseline    `json:"baseline"`
	DeviationPercent float64     `json:"deviationPercent"`
	AnomalyType      AnomalyType `json:"anomalyType"`
	Severity         Severity    `json:"severity"`
	FiringAlgorithms []Algorithm `json:"firingAlgorithms"`
	Status           Status      `json:"status"`
	AcknowledgedBy   string      `json:"acknowledgedBy,omitempty"`
	ResolutionNotes  string      `json:"resolutionNotes,omitempty"`
	Explain          string      `json:"explain,omitempty"`
	Channels         []string    `json:"channels,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	Version          int         `json:"version"`
}

// Transition is one recorded step of an alert's lifecycle. The creation of
// an alert is recorded with an empty From.
type Transition struct {
	AlertID string    `json:"alertId"`
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to"`
	Actor   string    `json:"actor,omitempty"`
	Notes   string    `json:"notes,omitempty"`
	Version int       `json:"version"`
	At      time.Time `json:"at"`
}
