package anomaly

import (
	"errors"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func validConfig() DetectionConfig {
	return DetectionConfig{
		MetricName:  "api.latency_p99",
		Enabled:     true,
		Sensitivity: 5,
		Algorithms:  []Algorithm{AlgorithmZScore, AlgorithmMAD},
	}
}

func TestValidateConfigAccepts(t *testing.T) {
	if err := ValidateConfig(NormalizeConfig(validConfig())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfigSensitivityRange(t *testing.T) {
	for _, s := range []int{0, -1, 11, 100} {
		cfg := validConfig()
		cfg.Sensitivity = s
		err := ValidateConfig(NormalizeConfig(cfg))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("sensitivity %d: expected ErrInvalidConfig, got %v", s, err)
		}
	}
	for _, s := range []int{1, 10} {
		cfg := validConfig()
		cfg.Sensitivity = s
		if err := ValidateConfig(NormalizeConfig(cfg)); err != nil {
			t.Fatalf("sensitivity %d: unexpected error %v", s, err)
		}
	}
}

func TestValidateConfigEmptyAlgorithmsWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithms = nil
	err := ValidateConfig(NormalizeConfig(cfg))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Details[0].Field != "algorithms" {
		t.Fatalf("unexpected field: %s", verr.Details[0].Field)
	}

	cfg.Enabled = false
	if err := ValidateConfig(NormalizeConfig(cfg)); err != nil {
		t.Fatalf("disabled config without algorithms should be valid: %v", err)
	}
}

func TestValidateConfigThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithms = append(cfg.Algorithms, AlgorithmThreshold)
	if err := ValidateConfig(NormalizeConfig(cfg)); err == nil {
		t.Fatalf("expected error for threshold without bounds")
	}
	cfg.Thresholds = &Thresholds{Min: floatPtr(10), Max: floatPtr(5)}
	if err := ValidateConfig(NormalizeConfig(cfg)); err == nil {
		t.Fatalf("expected error for min > max")
	}
	cfg.Thresholds = &Thresholds{Max: floatPtr(5)}
	if err := ValidateConfig(NormalizeConfig(cfg)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateConfigUnknownAlgorithm(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithms = []Algorithm{"prophet"}
	if err := ValidateConfig(NormalizeConfig(cfg)); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}

func TestNormalizeConfigDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Algorithms = []Algorithm{"MAD", "zscore", "mad"}
	cfg.AlertChannels = []string{"ops", " ops ", "", "chat"}
	cfg.Thresholds = &Thresholds{}
	out := NormalizeConfig(cfg)
	if out.CooldownSeconds != DefaultCooldownSeconds {
		t.Fatalf("expected default cooldown, got %d", out.CooldownSeconds)
	}
	if len(out.Algorithms) != 2 || out.Algorithms[0] != AlgorithmMAD || out.Algorithms[1] != AlgorithmZScore {
		t.Fatalf("unexpected algorithms: %v", out.Algorithms)
	}
	if len(out.AlertChannels) != 2 {
		t.Fatalf("unexpected channels: %v", out.AlertChannels)
	}
	if out.Thresholds != nil {
		t.Fatalf("empty thresholds should be dropped")
	}
	if out.MinAgreement != 1 {
		t.Fatalf("expected MinAgreement 1, got %d", out.MinAgreement)
	}
}

func TestConflictErrorIs(t *testing.T) {
	err := error(&ConflictError{AlertID: "a", Reason: "version mismatch", CurrentStatus: StatusActive, CurrentVersion: 2})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ConflictError to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("ConflictError must not match ErrNotFound")
	}
}
