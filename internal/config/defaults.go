package config

import "time"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 10 << 20,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DBPath: "~/.happin/messages.db",
		},
		Classifier: ClassifierConfig{
			Strategy:       "auto",
			Provider:       "groq",
			TimeoutSeconds: 30,
			Temperature:    0.3,
		},
		Providers: map[string]ProviderConfig{
			"groq": {
				Type:    "groq",
				Enabled: true,
				APIBase: "https://api.groq.com/openai/v1",
				Model:   "llama-3.1-70b-versatile",
			},
			"ollama": {
				Type:    "ollama",
				Enabled: false,
				APIBase: "http://localhost:11434",
				Model:   "llama3.1:8b",
			},
		},
		Enrichment: EnrichmentConfig{
			Workers:        4,
			QueueSize:      256,
			BatchSize:      5,
			BatchPauseMs:   1000,
			TimeoutSeconds: 60,
		},
		Events: EventsConfig{
			AMQP: AMQPConfig{
				Enabled:  false,
				Exchange: "happin.messages",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// BatchPause returns the configured pause between batch groups.
func (e EnrichmentConfig) BatchPause() time.Duration {
	return time.Duration(e.BatchPauseMs) * time.Millisecond
}

// Timeout bounds a single enrichment task.
func (e EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}
