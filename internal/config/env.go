package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables already set are kept. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides config values from well-known environment variables.
func ApplyEnv(cfg *Config) {
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		pc := cfg.Providers["groq"]
		if pc.Type == "" {
			pc.Type = "groq"
		}
		pc.APIKey = key
		pc.Enabled = true
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		cfg.Providers["groq"] = pc
	}
	if model := os.Getenv("GROQ_MODEL"); model != "" {
		if pc, ok := cfg.Providers["groq"]; ok {
			pc.Model = model
			cfg.Providers["groq"] = pc
		}
	}
	if dsn := os.Getenv("HAPPIN_DB_DSN"); dsn != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = dsn
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if level := os.Getenv("HAPPIN_LOG_LEVEL"); level != "" {
		cfg.General.LogLevel = level
	}
}
