package notify

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ChannelConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	SMTPAddr string            `yaml:"smtpAddr"`
	From     string            `yaml:"from"`
	To       []string          `yaml:"to"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Subject  string            `yaml:"subject"`
}

type Config struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// Deps are the shared collaborators channel types may need.
type Deps struct {
	Publisher  Publisher
	Hub        *Hub
	HTTPClient *http.Client
	Timeout    time.Duration
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Channels) == 0 {
		return Config{}, fmt.Errorf("no channels configured")
	}
	return cfg, nil
}

func (c Config) BuildRegistry(deps Deps) (*Registry, error) {
	reg := NewRegistry(deps.Timeout)
	for id, cfg := range c.Channels {
		ch, err := buildChannel(id, cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", id, err)
		}
		reg.Register(ch)
	}
	return reg, nil
}

func buildChannel(id string, cfg ChannelConfig, deps Deps) (Channel, error) {
	switch strings.ToLower(cfg.Type) {
	case "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook url required")
		}
		return NewWebhookChannel(id, cfg.URL, cfg.Headers, deps.HTTPClient), nil
	case "chat":
		if cfg.URL == "" {
			return nil, fmt.Errorf("chat webhook url required")
		}
		return NewChatChannel(id, cfg.URL, deps.HTTPClient), nil
	case "mail":
		if cfg.SMTPAddr == "" || cfg.From == "" || len(cfg.To) == 0 {
			return nil, fmt.Errorf("mail needs smtpAddr, from and to")
		}
		return NewMailChannel(id, cfg.SMTPAddr, cfg.From, cfg.To, cfg.Username, cfg.Password), nil
	case "nats":
		if deps.Publisher == nil {
			return nil, fmt.Errorf("nats channel needs NATS_URL")
		}
		subject := cfg.Subject
		if subject == "" {
			subject = "anomaly.alerts"
		}
		return NewBusChannel(id, subject, deps.Publisher), nil
	case "stream":
		if deps.Hub == nil {
			return nil, fmt.Errorf("stream hub not configured")
		}
		return NewStreamChannel(id, deps.Hub), nil
	default:
		return nil, fmt.Errorf("unsupported channel type %q", cfg.Type)
	}
}
