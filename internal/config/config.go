package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Forwarder ForwarderConfig `mapstructure:"forwarder" yaml:"forwarder"`
	Sinks     SinksConfig     `mapstructure:"sinks" yaml:"sinks"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type DeviceConfig struct {
	Address       string        `mapstructure:"address" yaml:"address"`
	Name          string        `mapstructure:"name" yaml:"name"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
}

type SessionConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"`
	ConnectionRetries int           `mapstructure:"connection_retries" yaml:"connection_retries"`
}

type ForwarderConfig struct {
	DurationSentinel bool `mapstructure:"duration_sentinel" yaml:"duration_sentinel"`
}

type SinksConfig struct {
	Stdout  bool          `mapstructure:"stdout" yaml:"stdout"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
	Kafka   KafkaConfig   `mapstructure:"kafka" yaml:"kafka"`
}

type WebhookConfig struct {
	URL      string  `mapstructure:"url" yaml:"url"`
	RetryMax int     `mapstructure:"retry_max" yaml:"retry_max"`
	Rate     float64 `mapstructure:"rate" yaml:"rate"`
	Buffer   int     `mapstructure:"buffer" yaml:"buffer"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			LookupTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			PollInterval:      5 * time.Second,
			ProgressInterval:  time.Second,
			ConnectionRetries: 5,
		},
		Sinks: SinksConfig{
			Stdout: true,
			Webhook: WebhookConfig{
				RetryMax: 3,
				Buffer:   256,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path, or the default settings file when path is empty. A
// missing default file is created with the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := appPath()
		if err != nil {
			return nil, errors.Wrap(err, "Load")
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			conf := Default()
			if err := conf.Save(p); err != nil {
				return nil, errors.Wrap(err, "Load: failed to create default config")
			}
			return conf, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Load: failed to read config")
	}

	return Parse(data, filepath.Ext(path))
}

// Parse decodes YAML or JSON (chosen by ext) on top of the defaults.
func Parse(data []byte, ext string) (*Config, error) {
	raw := map[string]any{}

	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "Parse: invalid json")
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, "Parse: invalid yaml")
		}
	}

	conf := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           conf,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Parse")
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "Parse: failed to decode config")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate rejects settings the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Session.PollInterval < 0 || c.Session.ProgressInterval < 0 || c.Device.LookupTimeout < 0 {
		return errors.New("Validate: intervals must not be negative")
	}
	if c.Session.ConnectionRetries < 0 {
		return errors.New("Validate: connection_retries must not be negative")
	}
	if len(c.Sinks.Kafka.Brokers) > 0 && c.Sinks.Kafka.Topic == "" {
		return errors.New("Validate: kafka brokers configured without a topic")
	}
	if c.Sinks.Webhook.Rate < 0 {
		return errors.New("Validate: webhook rate must not be negative")
	}
	return nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "Save: failed to create config dir")
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "Save: failed to marshal yaml")
	}

	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrap(err, "Save: failed to write config")
	}
	return nil
}

func appPath() (string, error) {
	oscfg, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "appPath: failed to get config dir")
	}

	return filepath.Join(oscfg, "castbridge", "settings.yaml"), nil
}
