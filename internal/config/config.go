package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL   string
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	AdminPort     string
	InstanceID    string

	WorkerCount        int
	TickInterval       time.Duration
	StopTimeout        time.Duration
	MetricQueryTimeout time.Duration
	Retention          time.Duration
	MinSamples         int

	DispatchQueueSize int
	DispatchWorkers   int
	ChannelTimeout    time.Duration
	SimilarAlertLimit int

	ChannelsConfigPath     string
	MetricSourceConfigPath string
	EncryptionKey          string
	DeepLinkBaseURL        string

	Limits Limits
}

// Load reads the process configuration from the environment. Unset or
// unparsable values fall back to defaults.
func Load() Config {
	hostname, _ := os.Hostname()
	cfg := Config{
		DatabaseURL:   getenv("DATABASE_URL", ""),
		NATSURL:       getenv("NATS_URL", ""),
		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		AdminPort:     getenv("ADMIN_PORT", "8092"),
		InstanceID:    getenv("INSTANCE_ID", hostname),

		WorkerCount:        getenvInt("WORKER_COUNT", 4),
		TickInterval:       getenvSeconds("TICK_INTERVAL_SECONDS", 60),
		StopTimeout:        getenvSeconds("STOP_TIMEOUT_SECONDS", 10),
		MetricQueryTimeout: getenvSeconds("METRIC_QUERY_TIMEOUT_SECONDS", 5),
		Retention:          time.Duration(getenvInt("RETENTION_DAYS", 30)) * 24 * time.Hour,
		MinSamples:         getenvInt("MIN_SAMPLES", 30),

		DispatchQueueSize: getenvInt("DISPATCH_QUEUE_SIZE", 256),
		DispatchWorkers:   getenvInt("DISPATCH_WORKERS", 4),
		ChannelTimeout:    getenvSeconds("CHANNEL_TIMEOUT_SECONDS", 5),
		SimilarAlertLimit: getenvInt("SIMILAR_ALERT_LIMIT", 10),

		ChannelsConfigPath:     getenv("CHANNELS_CONFIG_PATH", ""),
		MetricSourceConfigPath: getenv("METRIC_SOURCE_CONFIG_PATH", ""),
		EncryptionKey:          getenv("ENCRYPTION_KEY", ""),
		DeepLinkBaseURL:        strings.TrimRight(getenv("DEEP_LINK_BASE_URL", ""), "/"),

		Limits: DefaultLimits(),
	}
	cfg.Limits.MaxQueryDuration = cfg.MetricQueryTimeout
	cfg.Limits.MaxResultRows = getenvInt("MAX_RESULT_ROWS", cfg.Limits.MaxResultRows)
	return cfg
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

func getenvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getenvInt(key, fallback)) * time.Second
}

func SplitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := []string{}
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		results = append(results, trimmed)
	}
	return results
}
