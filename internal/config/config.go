// Package config loads and validates the gateway's typed configuration
// tree. Loading itself is an external concern in production (a process
// supervisor owns the file and any secrets), but the core still needs a
// single validated struct to be constructed from, the way the teacher's
// internal/config existed independently of its own .env loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration tree, mirroring every option named in
// the external-interfaces section verbatim.
type Config struct {
	SMTP          SMTPConfig          `toml:"smtp" validate:"required"`
	SMTPRateLimit SMTPRateLimitConfig `toml:"smtpRateLimit"`
	EmailAuth     EmailAuthConfig     `toml:"emailAuth"`
	SpamAnalysis  SpamAnalysisConfig  `toml:"spamAnalysis"`
	Main          MainConfig          `toml:"main" validate:"required"`
	Local         LocalConfig         `toml:"local"`
	Certificate   CertificateConfig   `toml:"certificate"`
	Chaos         ChaosConfig         `toml:"chaos"`
}

type TLSConfig struct {
	MinVersion       string   `toml:"minVersion"`
	Ciphers          []string `toml:"ciphers"`
	HonorCipherOrder bool     `toml:"honorCipherOrder"`
	ECDHCurve        string   `toml:"ecdhCurve"`
}

type SMTPConfig struct {
	Host                    string    `toml:"host" validate:"required"`
	Port                    int       `toml:"port" validate:"required,min=1,max=65535"`
	Secure                  bool      `toml:"secure"`
	MaxMessageSize          int64     `toml:"maxMessageSize" validate:"min=1"`
	MaxHeaderSize           int64     `toml:"maxHeaderSize" validate:"min=1"`
	SessionTimeout          Duration  `toml:"sessionTimeout"`
	AllowedRecipientDomains []string  `toml:"allowedRecipientDomains" validate:"required,min=1"`
	MaxConnections          int       `toml:"maxConnections" validate:"min=1"`
	CloseTimeout            Duration  `toml:"closeTimeout"`
	DisabledCommands        []string  `toml:"disabledCommands"`
	DisablePipelining       bool      `toml:"disablePipelining"`
	EarlyTalkerDelay        Duration  `toml:"earlyTalkerDelay"`
	Banner                  string    `toml:"banner"`
	MaxMemoryMB             float64   `toml:"maxMemoryMB" validate:"min=0"`
	MaxEmailAgeSeconds      int64     `toml:"maxEmailAgeSeconds" validate:"min=0"`
	TLS                     TLSConfig `toml:"tls"`
}

type SMTPRateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Points   int      `toml:"points" validate:"min=1"`
	Duration Duration `toml:"duration"`
}

type EmailAuthConfig struct {
	Enabled    bool `toml:"enabled"`
	SPF        bool `toml:"spf"`
	DKIM       bool `toml:"dkim"`
	DMARC      bool `toml:"dmarc"`
	ReverseDNS bool `toml:"reverseDns"`
}

type RspamdConfig struct {
	URL       string   `toml:"url"`
	TimeoutMs Duration `toml:"timeoutMs"`
	Password  string   `toml:"password"`
}

type SpamAnalysisConfig struct {
	Enabled      bool         `toml:"enabled"`
	Rspamd       RspamdConfig `toml:"rspamd"`
	InboxDefault bool         `toml:"inboxDefault"`
}

// GatewayMode is a closed tagged variant (spec §9's "tagged mode variant"
// redesign); only "local" is implemented, "backend" is rejected at Load.
type GatewayMode string

const (
	GatewayModeLocal   GatewayMode = "local"
	GatewayModeBackend GatewayMode = "backend"
)

type MainConfig struct {
	GatewayMode GatewayMode `toml:"gatewayMode" validate:"required"`
}

type LocalConfig struct {
	HardModeRejectCode int `toml:"hardModeRejectCode"`
}

// CertificateConfig names only the static material get_current_certificate
// (spec §6) loads from disk once at startup; issuance, renewal, and
// reload-on-change are an external collaborator's job (spec §1 Non-goals).
type CertificateConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"certFile"`
	KeyFile  string `toml:"keyFile"`
}

type ChaosConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration wraps time.Duration for TOML decode of human-friendly strings
// ("5s", "500ms") as well as bare integers (milliseconds), matching the
// teacher's MustParseDuration fallback behavior without requiring a
// separate fallback string per field.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

// UnmarshalText is the hook go-toml/v2 calls for this type, with the raw
// text of the TOML value; it hands that text to UnmarshalTOML as an int64
// or float64 when it is a bare number and as a string otherwise.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	digits := strings.ReplaceAll(s, "_", "")
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return d.UnmarshalTOML(n)
	}
	if f, err := strconv.ParseFloat(digits, 64); err == nil {
		return d.UnmarshalTOML(f)
	}
	return d.UnmarshalTOML(s)
}

func (d *Duration) UnmarshalTOML(v interface{}) error {
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	case int64:
		*d = Duration(time.Duration(val) * time.Millisecond)
		return nil
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
		return nil
	default:
		return fmt.Errorf("config: unsupported duration value %v", v)
	}
}

var validate = validator.New()

// Load reads path, applies defaults for anything left zero, and validates
// the result. A gatewayMode other than "local" fails outright — backend
// mode is a recognized but unsupported tag per spec §9.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Main.GatewayMode == "" {
		cfg.Main.GatewayMode = GatewayModeLocal
	}
	if cfg.Main.GatewayMode != GatewayModeLocal {
		return nil, fmt.Errorf("config: gatewayMode %q is not supported; only %q is implemented", cfg.Main.GatewayMode, GatewayModeLocal)
	}

	if cfg.SMTP.Secure && cfg.SMTP.TLS.MinVersion == "" {
		WarnMissingTLSVersion()
		cfg.SMTP.TLS.MinVersion = "TLS1.2"
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// WarnMissingTLSVersion defaults to a no-op; cmd/gateway/main.go points
// this at logging.WarnLog to avoid an import cycle between config and
// logging initialization order.
var WarnMissingTLSVersion = func() {}

func defaultConfig() Config {
	return Config{
		SMTP: SMTPConfig{
			Host:               "0.0.0.0",
			Port:               2525,
			MaxMessageSize:      25 << 20,
			MaxHeaderSize:       64 << 10,
			SessionTimeout:      Duration(5 * time.Minute),
			MaxConnections:      100,
			CloseTimeout:        Duration(10 * time.Second),
			DisabledCommands:    []string{"VRFY", "EXPN", "ETRN", "TURN"},
			EarlyTalkerDelay:    Duration(0),
			Banner:              "ESMTP vaultsandbox gateway",
			MaxMemoryMB:         256,
			MaxEmailAgeSeconds:  0,
		},
		SMTPRateLimit: SMTPRateLimitConfig{
			Enabled:  true,
			Points:   20,
			Duration: Duration(60 * time.Second),
		},
		EmailAuth: EmailAuthConfig{
			Enabled:    true,
			SPF:        true,
			DKIM:       true,
			DMARC:      true,
			ReverseDNS: true,
		},
		SpamAnalysis: SpamAnalysisConfig{
			Rspamd: RspamdConfig{
				TimeoutMs: Duration(5 * time.Second),
			},
		},
		Main: MainConfig{
			GatewayMode: GatewayModeLocal,
		},
		Local: LocalConfig{
			HardModeRejectCode: 0,
		},
	}
}

// ParseBytes parses human-friendly byte sizes ("2MB", "512KB") or bare
// integers, adapted from the teacher's config.parseBytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		mult = 1 << 10
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		mult = 1 << 20
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		mult = 1 << 30
		s = strings.TrimSuffix(s, "GB")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int64(n * float64(mult)), nil
}
