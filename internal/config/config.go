package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "DOMINOTES"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "dominotes.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "authenticated"
	defaultSessionTTL         = 7 * 24 * time.Hour
	defaultAllowedOrigin      = "http://localhost:3000"
	defaultClientBaseURL      = "http://localhost:8080"
	defaultClientLedgerPath   = "dominotes-client.db"
	defaultProbeInterval      = 5 * time.Second
	defaultFailedChangePolicy = "drop"
	defaultLedgerMergePolicy  = "overwrite"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration
	SessionSecure        bool
	AllowedOrigins       []string
}

// ClientConfig captures runtime configuration for the offline sync client.
type ClientConfig struct {
	BaseURL            string
	Pin                string
	LedgerPath         string
	ProbeInterval      time.Duration
	FailedChangePolicy string
	LedgerMergePolicy  string
	LogLevel           string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.secure", false)

	configViper.SetDefault("client.base_url", defaultClientBaseURL)
	configViper.SetDefault("client.ledger_path", defaultClientLedgerPath)
	configViper.SetDefault("client.probe_interval", defaultProbeInterval)
	configViper.SetDefault("sync.failed_change_policy", defaultFailedChangePolicy)
	configViper.SetDefault("sync.ledger_merge_policy", defaultLedgerMergePolicy)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           configViper.GetDuration("session.ttl"),
		SessionSecure:        configViper.GetBool("session.secure"),
		AllowedOrigins:       splitList(configViper.GetStringSlice("http.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	return nil
}

// LoadClient parses sync client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:            strings.TrimRight(strings.TrimSpace(configViper.GetString("client.base_url")), "/"),
		Pin:                configViper.GetString("client.pin"),
		LedgerPath:         configViper.GetString("client.ledger_path"),
		ProbeInterval:      configViper.GetDuration("client.probe_interval"),
		FailedChangePolicy: strings.ToLower(strings.TrimSpace(configViper.GetString("sync.failed_change_policy"))),
		LedgerMergePolicy:  strings.ToLower(strings.TrimSpace(configViper.GetString("sync.ledger_merge_policy"))),
		LogLevel:           configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("client.base_url must be an absolute URL")
	}
	if strings.TrimSpace(c.LedgerPath) == "" {
		return fmt.Errorf("client.ledger_path is required")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("client.probe_interval must be positive")
	}
	switch c.FailedChangePolicy {
	case "drop", "retain":
	default:
		return fmt.Errorf("sync.failed_change_policy must be drop or retain, got %q", c.FailedChangePolicy)
	}
	switch c.LedgerMergePolicy {
	case "overwrite", "coalesce":
	default:
		return fmt.Errorf("sync.ledger_merge_policy must be overwrite or coalesce, got %q", c.LedgerMergePolicy)
	}
	return nil
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
