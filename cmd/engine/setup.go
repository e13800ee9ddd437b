package main

import (
	"io"
	"log/slog"

	"predixaai-anomaly/internal/config"
	"predixaai-anomaly/internal/metricstore"
	"predixaai-anomaly/internal/notify"
)

func openMetricStore(cfg config.Config, decrypter metricstore.Decrypter, logger *slog.Logger) (metricstore.Store, io.Closer, error) {
	if cfg.MetricSourceConfigPath == "" {
		return metricstore.NewMemoryStore(), nil, nil
	}
	source, err := metricstore.LoadSourceConfig(cfg.MetricSourceConfigPath)
	if err != nil {
		return nil, nil, err
	}
	source.MaxRows = cfg.Limits.MaxResultRows
	source.QueryTimeout = cfg.MetricQueryTimeout
	source.Logger = logger
	return metricstore.Open(source, decrypter)
}

func buildChannels(cfg config.Config, deps notify.Deps) (*notify.Registry, error) {
	if cfg.ChannelsConfigPath == "" {
		return notify.NewRegistry(deps.Timeout), nil
	}
	channels, err := notify.LoadConfig(cfg.ChannelsConfigPath)
	if err != nil {
		return nil, err
	}
	return channels.BuildRegistry(deps)
}
