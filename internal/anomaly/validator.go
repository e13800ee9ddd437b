package anomaly

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

const (
	MinSensitivity = 1
	MaxSensitivity = 10
)

var metricNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.:\-/]*$`)

// NormalizeConfig applies defaults and canonical ordering. It never repairs
// invalid values; ValidateConfig reports those.
func NormalizeConfig(cfg DetectionConfig) DetectionConfig {
	cfg.MetricName = strings.TrimSpace(cfg.MetricName)
	if cfg.CooldownSeconds == 0 {
		cfg.CooldownSeconds = DefaultCooldownSeconds
	}
	if cfg.MinAgreement == 0 {
		cfg.MinAgreement = 1
	}
	cfg.Algorithms = dedupSorted(cfg.Algorithms)
	channels := make([]string, 0, len(cfg.AlertChannels))
	for _, ch := range cfg.AlertChannels {
		ch = strings.TrimSpace(ch)
		if ch != "" && !slices.Contains(channels, ch) {
			channels = append(channels, ch)
		}
	}
	cfg.AlertChannels = channels
	if cfg.Thresholds != nil && !cfg.Thresholds.Configured() {
		cfg.Thresholds = nil
	}
	return cfg
}

func ValidateConfig(cfg DetectionConfig) error {
	var details []ErrorDetail
	if cfg.MetricName == "" || !metricNameRe.MatchString(cfg.MetricName) {
		details = append(details, ErrorDetail{Field: "metricName", Problem: "invalid", Hint: "Use letters, digits, '_', '.', ':', '-', '/'"})
	}
	if cfg.Sensitivity < MinSensitivity || cfg.Sensitivity > MaxSensitivity {
		details = append(details, ErrorDetail{Field: "sensitivity", Problem: "out of range", Hint: fmt.Sprintf("min %d, max %d", MinSensitivity, MaxSensitivity)})
	}
	if cfg.Enabled && len(cfg.Algorithms) == 0 {
		details = append(details, ErrorDetail{Field: "algorithms", Problem: "empty", Hint: "Enabled metrics need at least one algorithm"})
	}
	for i, alg := range cfg.Algorithms {
		if !alg.Valid() {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("algorithms[%d]", i), Problem: "unknown", Hint: "One of zscore, iqr, mad, isolation, threshold"})
		}
	}
	if cfg.HasAlgorithm(AlgorithmThreshold) && !cfg.Thresholds.Configured() {
		details = append(details, ErrorDetail{Field: "thresholds", Problem: "missing", Hint: "threshold algorithm needs min and/or max"})
	}
	if t := cfg.Thresholds; t != nil && t.Min != nil && t.Max != nil && *t.Min > *t.Max {
		details = append(details, ErrorDetail{Field: "thresholds", Problem: "min greater than max"})
	}
	if cfg.CooldownSeconds < 0 {
		details = append(details, ErrorDetail{Field: "cooldownSeconds", Problem: "negative"})
	}
	statistical := 0
	for _, alg := range cfg.Algorithms {
		if alg != AlgorithmThreshold {
			statistical++
		}
	}
	if cfg.MinAgreement < 0 || (cfg.MinAgreement > 1 && cfg.MinAgreement > statistical) {
		details = append(details, ErrorDetail{Field: "minAgreement", Problem: "out of range", Hint: fmt.Sprintf("max %d for the configured algorithms", statistical)})
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

func dedupSorted(algs []Algorithm) []Algorithm {
	out := make([]Algorithm, 0, len(algs))
	for _, a := range algs {
		a = Algorithm(strings.ToLower(strings.TrimSpace(string(a))))
		if a != "" && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}
