package config

import (
	"errors"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "IDVRELAY_"

// listKeys are comma-separated when set from the environment.
var listKeys = map[string]struct{}{
	"server.apikeys":     {},
	"server.corsorigins": {},
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Provider ProviderConfig `koanf:"provider"`
	Token    TokenConfig    `koanf:"token"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Events   EventsConfig   `koanf:"events"`
}

type ServerConfig struct {
	Host        string   `koanf:"host"`
	Port        int      `koanf:"port"`
	CORSOrigins []string `koanf:"corsorigins"`
	APIKeys     []string `koanf:"apikeys"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrationspath"`
	MaxConns       int    `koanf:"maxconns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ProviderConfig describes the upstream identity-verification provider.
type ProviderConfig struct {
	ClientID        string `koanf:"clientid"`
	ClientSecret    string `koanf:"clientsecret"`
	APIURL          string `koanf:"apiurl"`
	VerificationURL string `koanf:"verificationurl"`
	TimeoutSecs     int    `koanf:"timeoutsecs"`
}

type TokenConfig struct {
	SafetyMarginSecs int `koanf:"safetymarginsecs"`
}

type WebhookConfig struct {
	Secret        string `koanf:"secret"`
	SecretFile    string `koanf:"secretfile"`
	ToleranceSecs int    `koanf:"tolerancesecs"`
	MaxBodyBytes  int64  `koanf:"maxbodybytes"`
}

type EventsConfig struct {
	BufferSize          int `koanf:"buffersize"`
	BatchSize           int `koanf:"batchsize"`
	FlushIntervalMS     int `koanf:"flushintervalms"`
	RetentionHours      int `koanf:"retentionhours"`
	CleanupIntervalSecs int `koanf:"cleanupintervalsecs"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"database.maxconns":          10,
		"database.migrationspath":    "migrations",
		"log.level":                  "info",
		"log.format":                 "json",
		"provider.timeoutsecs":       10,
		"token.safetymarginsecs":     60,
		"webhook.tolerancesecs":      300,
		"webhook.maxbodybytes":       1 << 20,
		"events.buffersize":          1024,
		"events.batchsize":           50,
		"events.flushintervalms":     500,
		"events.retentionhours":      720,
		"events.cleanupintervalsecs": 3600,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// IDVRELAY_WEBHOOK_SECRET -> webhook.secret
	// IDVRELAY_SERVER_APIKEYS=a,b -> server.apikeys [a b]
	_ = k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(key, envPrefix)),
			"_", ".",
		)
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every required value that is missing.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Provider.APIURL) == "" {
		errs = append(errs, errors.New("provider.apiurl is required"))
	}
	if strings.TrimSpace(c.Provider.VerificationURL) == "" {
		errs = append(errs, errors.New("provider.verificationurl is required"))
	}
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		errs = append(errs, errors.New("provider.clientid is required"))
	}
	if c.Provider.ClientSecret == "" {
		errs = append(errs, errors.New("provider.clientsecret is required"))
	}
	if c.Webhook.Secret == "" && c.Webhook.SecretFile == "" {
		errs = append(errs, errors.New("webhook.secret is required"))
	}
	if c.Webhook.ToleranceSecs < 0 {
		errs = append(errs, errors.New("webhook.tolerancesecs must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c TokenConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSecs) * time.Second
}

func (c WebhookConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceSecs) * time.Second
}
