package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"predixaai-anomaly/internal/anomaly"
)

// ConfigRepository stores detection configs in detection_configs.
type ConfigRepository struct {
	Store *Store
}

func NewConfigRepository(store *Store) *ConfigRepository {
	return &ConfigRepository{Store: store}
}

const configColumns = `metric_name, enabled, sensitivity, algorithms, threshold_min, threshold_max, alert_channels, cooldown_seconds, min_agreement, updated_at`

func scanConfig(row pgx.Row) (anomaly.DetectionConfig, error) {
	var (
		cfg        anomaly.DetectionConfig
		algorithms []byte
		channels   []byte
		minBound   *float64
		maxBound   *float64
	)
	if err := row.Scan(&cfg.MetricName, &cfg.Enabled, &cfg.Sensitivity, &algorithms, &minBound, &maxBound, &channels, &cfg.CooldownSeconds, &cfg.MinAgreement, &cfg.UpdatedAt); err != nil {
		return anomaly.DetectionConfig{}, err
	}
	if err := json.Unmarshal(algorithms, &cfg.Algorithms); err != nil {
		return anomaly.DetectionConfig{}, fmt.Errorf("decode algorithms for %s: %w", cfg.MetricName, err)
	}
	if err := json.Unmarshal(channels, &cfg.AlertChannels); err != nil {
		return anomaly.DetectionConfig{}, fmt.Errorf("decode channels for %s: %w", cfg.MetricName, err)
	}
	if minBound != nil || maxBound != nil {
		cfg.Thresholds = &anomaly.Thresholds{Min: minBound, Max: maxBound}
	}
	return cfg, nil
}

func (r *ConfigRepository) list(ctx context.Context, where string) ([]anomaly.DetectionConfig, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+configColumns+` FROM detection_configs `+where+` ORDER BY metric_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []anomaly.DetectionConfig{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, cfg)
	}
	return results, rows.Err()
}

func (r *ConfigRepository) ListEnabled(ctx context.Context) ([]anomaly.DetectionConfig, error) {
	return r.list(ctx, `WHERE enabled`)
}

func (r *ConfigRepository) List(ctx context.Context) ([]anomaly.DetectionConfig, error) {
	return r.list(ctx, ``)
}

func (r *ConfigRepository) Get(ctx context.Context, metric string) (anomaly.DetectionConfig, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+configColumns+` FROM detection_configs WHERE metric_name=$1`, metric)
	cfg, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return anomaly.DetectionConfig{}, anomaly.ErrNotFound
	}
	return cfg, err
}

func (r *ConfigRepository) Upsert(ctx context.Context, cfg anomaly.DetectionConfig) error {
	algorithms, err := json.Marshal(cfg.Algorithms)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(cfg.AlertChannels)
	if err != nil {
		return err
	}
	var minBound, maxBound *float64
	if cfg.Thresholds != nil {
		minBound, maxBound = cfg.Thresholds.Min, cfg.Thresholds.Max
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO detection_configs (`+configColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (metric_name) DO UPDATE SET
			enabled=EXCLUDED.enabled,
			sensitivity=EXCLUDED.sensitivity,
			algorithms=EXCLUDED.algorithms,
			threshold_min=EXCLUDED.threshold_min,
			threshold_max=EXCLUDED.threshold_max,
			alert_channels=EXCLUDED.alert_channels,
			cooldown_seconds=EXCLUDED.cooldown_seconds,
			min_agreement=EXCLUDED.min_agreement,
			updated_at=EXCLUDED.updated_at`,
		cfg.MetricName, cfg.Enabled, cfg.Sensitivity, algorithms, minBound, maxBound, channels, cfg.CooldownSeconds, cfg.MinAgreement, cfg.UpdatedAt,
	)
	return err
}
