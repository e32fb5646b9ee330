package config

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chloe7243/Errandhub/internal/lifecycle"
	"github.com/Chloe7243/Errandhub/internal/money"
	"github.com/Chloe7243/Errandhub/internal/payment"
)

// FileName is the workspace config file.
const FileName = "errandhub.yml"

// Config models errandhub.yml.
type Config struct {
	Platform struct {
		Name       string `yaml:"name"`
		Currency   string `yaml:"currency"`
		StripeFee  string `yaml:"stripe_fee"`
		ServiceFee string `yaml:"service_fee"`
	} `yaml:"platform"`
	Cancellation struct {
		Requester []string `yaml:"requester"`
		Helper    []string `yaml:"helper"`
	} `yaml:"cancellation"`
	Dispute struct {
		WindowHours int `yaml:"window_hours"`
	} `yaml:"dispute"`
	Auth struct {
		Issuer          string `yaml:"issuer"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Helper struct {
		RadiusOptionsKm []float64 `yaml:"radius_options_km"`
		DefaultRadiusKm float64   `yaml:"default_radius_km"`
	} `yaml:"helper"`
	Media     MediaConfig     `yaml:"media"`
	Messaging MessagingConfig `yaml:"messaging"`
	RateLimit struct {
		RPS            float64  `yaml:"rps"`
		Burst          int      `yaml:"burst"`
		TrustedProxies []string `yaml:"trusted_proxies"`
		IdleMinutes    int      `yaml:"idle_minutes"`
	} `yaml:"rate_limit"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type MediaConfig struct {
	Driver   string `yaml:"driver"`
	Dir      string `yaml:"dir"`
	BaseURL  string `yaml:"base_url"`
	MaxBytes int64  `yaml:"max_bytes"`
	S3       struct {
		Bucket     string `yaml:"bucket"`
		Region     string `yaml:"region"`
		Endpoint   string `yaml:"endpoint"`
		Prefix     string `yaml:"prefix"`
		PublicBase string `yaml:"public_base"`
	} `yaml:"s3"`
}

type MessagingConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with eh config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.Currency) == "" {
		return fmt.Errorf("config.platform.currency is required")
	}
	if _, err := money.Currency(c.Platform.Currency); err != nil {
		return fmt.Errorf("config.platform.currency: %w", err)
	}
	if _, err := money.Parse(c.Platform.StripeFee); err != nil {
		return fmt.Errorf("config.platform.stripe_fee: %w", err)
	}
	if c.Platform.ServiceFee != "" {
		if _, err := money.Parse(c.Platform.ServiceFee); err != nil {
			return fmt.Errorf("config.platform.service_fee: %w", err)
		}
	}
	for role, stages := range map[string][]string{"requester": c.Cancellation.Requester, "helper": c.Cancellation.Helper} {
		for _, s := range stages {
			st, err := lifecycle.ParseStage(s)
			if err != nil {
				return fmt.Errorf("config.cancellation.%s: %w", role, err)
			}
			if st.Index() < 0 || st.Index() > lifecycle.Accepted.Index() {
				return fmt.Errorf("config.cancellation.%s: errands cannot be cancelled once %s", role, st)
			}
		}
	}
	for _, p := range c.RateLimit.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("config.rate_limit.trusted_proxies: %q is not an address or CIDR", p)
		}
	}
	if c.RateLimit.IdleMinutes < 0 {
		return fmt.Errorf("config.rate_limit.idle_minutes must not be negative")
	}
	if c.Dispute.WindowHours < 0 {
		return fmt.Errorf("config.dispute.window_hours must not be negative")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must be positive")
	}
	if len(c.Helper.RadiusOptionsKm) == 0 {
		return fmt.Errorf("config.helper.radius_options_km is required")
	}
	if !c.RadiusAllowed(c.Helper.DefaultRadiusKm) {
		return fmt.Errorf("config.helper.default_radius_km %.1f is not one of radius_options_km", c.Helper.DefaultRadiusKm)
	}
	switch c.Media.Driver {
	case "local":
	case "s3":
		if c.Media.S3.Bucket == "" {
			return fmt.Errorf("config.media.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config.media.driver must be local or s3")
	}
	if c.Media.MaxBytes <= 0 {
		return fmt.Errorf("config.media.max_bytes must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Fees returns the fee schedule. Validate must have passed.
func (c *Config) Fees() payment.FeeSchedule {
	fees := payment.FeeSchedule{
		PlatformFee: money.MustParse(c.Platform.StripeFee),
		Currency:    c.Platform.Currency,
	}
	if c.Platform.ServiceFee != "" {
		fees.ServiceFee = money.MustParse(c.Platform.ServiceFee)
	}
	return fees
}

func (c *Config) CancelPolicy() lifecycle.CancelPolicy {
	var p lifecycle.CancelPolicy
	for _, s := range c.Cancellation.Requester {
		p.Requester = append(p.Requester, lifecycle.Stage(s))
	}
	for _, s := range c.Cancellation.Helper {
		p.Helper = append(p.Helper, lifecycle.Stage(s))
	}
	return p
}

// DisputeWindow is how long after completion a dispute may still be raised.
func (c *Config) DisputeWindow() time.Duration {
	return time.Duration(c.Dispute.WindowHours) * time.Hour
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c *Config) RadiusAllowed(km float64) bool {
	for _, opt := range c.Helper.RadiusOptionsKm {
		if opt == km {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys missing from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  name: ErrandHub
  currency: GBP
  # flat card processing fee passed through to the requester
  stripe_fee: "0.28"
  service_fee: "0.00"

cancellation:
  requester: [posted, accepted]
  helper: [accepted]

dispute:
  window_hours: 48

auth:
  issuer: errandhub
  token_ttl_minutes: 1440

helper:
  radius_options_km: [0.5, 1, 2, 5]
  default_radius_km: 1

media:
  driver: local
  dir: media
  base_url: /media
  max_bytes: 10485760

messaging:
  redis_url: ""
  channel: errandhub:thread

rate_limit:
  rps: 5
  burst: 10
  # proxies whose X-Forwarded-For is believed; empty keys on the peer address
  trusted_proxies: []
  idle_minutes: 10

log:
  level: info
  format: text
`
