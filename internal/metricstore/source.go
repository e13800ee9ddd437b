package metricstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TableConfig struct {
	Name            string `yaml:"name"`
	MetricColumn    string `yaml:"metricColumn"`
	TimestampColumn string `yaml:"timestampColumn"`
	ValueColumn     string `yaml:"valueColumn"`
}

// SourceConfig describes where samples come from. Type is one of postgres,
// mysql, mssql, http, stdio or memory.
type SourceConfig struct {
	Type        string      `yaml:"type"`
	Host        string      `yaml:"host"`
	Port        int         `yaml:"port"`
	User        string      `yaml:"user"`
	Password    string      `yaml:"password"`
	PasswordEnc string      `yaml:"passwordEnc"`
	Database    string      `yaml:"database"`
	SSLMode     string      `yaml:"sslMode"`
	Table       TableConfig `yaml:"table"`
	Endpoint    string      `yaml:"endpoint"`
	Command     string      `yaml:"command"`
	Args        []string    `yaml:"args"`

	MaxRows      int           `yaml:"-"`
	QueryTimeout time.Duration `yaml:"-"`
	Logger       *slog.Logger  `yaml:"-"`
}

func (c SourceConfig) portOr(fallback int) int {
	if c.Port == 0 {
		return fallback
	}
	return c.Port
}

type sourceFile struct {
	Source SourceConfig `yaml:"source"`
}

func LoadSourceConfig(path string) (SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SourceConfig{}, err
	}
	return ParseSourceConfig(data)
}

func ParseSourceConfig(data []byte) (SourceConfig, error) {
	var file sourceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SourceConfig{}, err
	}
	cfg := file.Source
	if strings.TrimSpace(cfg.Type) == "" {
		return SourceConfig{}, fmt.Errorf("metric source type is required")
	}
	if cfg.Table.Name == "" {
		cfg.Table.Name = "metric_samples"
	}
	if cfg.Table.MetricColumn == "" {
		cfg.Table.MetricColumn = "metric_name"
	}
	if cfg.Table.TimestampColumn == "" {
		cfg.Table.TimestampColumn = "ts"
	}
	if cfg.Table.ValueColumn == "" {
		cfg.Table.ValueColumn = "value"
	}
	return cfg, nil
}

type Decrypter interface {
	Decrypt(cipherText string) (string, error)
}

// Open builds the store described by cfg. The returned closer is nil for
// stores that hold no connection.
func Open(cfg SourceConfig, decrypter Decrypter) (Store, io.Closer, error) {
	if cfg.PasswordEnc != "" {
		if decrypter == nil {
			return nil, nil, fmt.Errorf("passwordEnc set but no encryption key configured")
		}
		plain, err := decrypter.Decrypt(cfg.PasswordEnc)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt metric source password: %w", err)
		}
		cfg.Password = plain
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return NewMemoryStore(), nil, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, nil, fmt.Errorf("http endpoint required")
		}
		return NewRPCStore(&HTTPTransport{Endpoint: cfg.Endpoint, Timeout: timeout}), nil, nil
	case "stdio":
		if cfg.Command == "" {
			return nil, nil, fmt.Errorf("stdio command required")
		}
		return NewRPCStore(&StdioTransport{Command: cfg.Command, Args: cfg.Args, Timeout: timeout}), nil, nil
	default:
		store, err := NewSQLStore(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
}
