package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for happin.
//
// String fields tagged secret:"mask" are shown with only their first and
// last four characters by Sanitize and ListPaths. Fields tagged
// secret:"redact" (connection strings that may embed passwords) are
// replaced entirely.
type Config struct {
	General    GeneralConfig             `json:"general" yaml:"general"`
	Server     ServerConfig              `json:"server" yaml:"server"`
	Store      StoreConfig               `json:"store" yaml:"store"`
	Channels   ChannelsConfig            `json:"channels" yaml:"channels"`
	Classifier ClassifierConfig          `json:"classifier" yaml:"classifier"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Enrichment EnrichmentConfig          `json:"enrichment" yaml:"enrichment"`
	Events     EventsConfig              `json:"events" yaml:"events"`
	Metrics    MetricsConfig             `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	MaxBodyBytes int64  `json:"maxBodyBytes" yaml:"maxBodyBytes"`
	// PublicURL is the externally visible base URL. Twilio signs the full
	// URL it called, which differs from r.Host behind a proxy.
	PublicURL string `json:"publicUrl,omitempty" yaml:"publicUrl,omitempty"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" | "postgres"
	DBPath string `json:"dbPath" yaml:"dbPath"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty" secret:"redact"`
}

type ChannelsConfig struct {
	Generic GenericChannelConfig `json:"generic" yaml:"generic"`
	Email   EmailChannelConfig   `json:"email" yaml:"email"`
	Slack   SlackChannelConfig   `json:"slack" yaml:"slack"`
	Twilio  TwilioChannelConfig  `json:"twilio" yaml:"twilio"`
}

type GenericChannelConfig struct {
	Secret string `json:"secret,omitempty" yaml:"secret,omitempty" secret:"mask"` // HMAC key for X-Signature-256
}

type EmailChannelConfig struct {
	Token string `json:"token,omitempty" yaml:"token,omitempty" secret:"mask"` // shared ?token= value
}

type SlackChannelConfig struct {
	SigningSecret string `json:"signingSecret,omitempty" yaml:"signingSecret,omitempty" secret:"mask"`
}

type TwilioChannelConfig struct {
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty" secret:"mask"`
}

type ClassifierConfig struct {
	Strategy          string   `json:"strategy" yaml:"strategy"` // "auto" | "llm" | "heuristic"
	Provider          string   `json:"provider" yaml:"provider"`
	FailoverChain     []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"`
	TimeoutSeconds    int      `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	Temperature       float64  `json:"temperature" yaml:"temperature"`
	RequestsPerMinute int      `json:"requestsPerMinute,omitempty" yaml:"requestsPerMinute,omitempty"`
}

type ProviderConfig struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty"` // defaults to the provider name
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	APIBase    string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey     string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" secret:"mask"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxRetries int    `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
}

type EnrichmentConfig struct {
	Workers        int `json:"workers" yaml:"workers"`
	QueueSize      int `json:"queueSize" yaml:"queueSize"`
	BatchSize      int `json:"batchSize" yaml:"batchSize"`
	BatchPauseMs   int `json:"batchPauseMs" yaml:"batchPauseMs"`
	TimeoutSeconds int `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type EventsConfig struct {
	AMQP AMQPConfig `json:"amqp" yaml:"amqp"`
}

// AMQPConfig configures forwarding of message events to RabbitMQ.
type AMQPConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty" secret:"redact"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.happin).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".happin"
	}
	return filepath.Join(home, ".happin")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads a JSON or YAML config file, expands ${VAR} references, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefault loads path when it exists and falls back to Defaults, with
// environment overrides applied, when it does not.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}

	switch cfg.Classifier.Strategy {
	case "auto", "llm", "heuristic":
	default:
		errs = append(errs, "classifier.strategy must be one of: auto, llm, heuristic")
	}
	if cfg.Classifier.TimeoutSeconds < 1 {
		errs = append(errs, "classifier.timeoutSeconds must be >= 1")
	}
	if cfg.Classifier.Temperature < 0 || cfg.Classifier.Temperature > 2 {
		errs = append(errs, "classifier.temperature must be between 0 and 2")
	}
	if cfg.Classifier.RequestsPerMinute < 0 {
		errs = append(errs, "classifier.requestsPerMinute must be >= 0")
	}
	if cfg.Classifier.Strategy == "llm" {
		if _, ok := cfg.Providers[cfg.Classifier.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("classifier.provider references unknown provider: %s", cfg.Classifier.Provider))
		}
	}
	for _, provName := range cfg.Classifier.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("classifier.failoverChain references unknown provider: %s", provName))
		}
	}

	if cfg.Enrichment.Workers < 1 || cfg.Enrichment.Workers > 64 {
		errs = append(errs, "enrichment.workers must be between 1 and 64")
	}
	if cfg.Enrichment.QueueSize < 1 {
		errs = append(errs, "enrichment.queueSize must be >= 1")
	}
	if cfg.Enrichment.BatchSize < 1 {
		errs = append(errs, "enrichment.batchSize must be >= 1")
	}
	if cfg.Enrichment.BatchPauseMs < 0 {
		errs = append(errs, "enrichment.batchPauseMs must be >= 0")
	}
	if cfg.Enrichment.TimeoutSeconds < 1 {
		errs = append(errs, "enrichment.timeoutSeconds must be >= 1")
	}

	if cfg.Events.AMQP.Enabled && cfg.Events.AMQP.URL == "" {
		errs = append(errs, "events.amqp.url is required when AMQP forwarding is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
