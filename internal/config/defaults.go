package config

func Defaults() *Config {
	return &Config{
		Session: SessionConfig{
			Host:                "http://localhost:8080",
			Transport:           "websocket",
			CallTimeoutSeconds:  30,
			PollIntervalMs:      500,
			ReconnectSeconds:    1,
			MaxReconnectSeconds: 30,
		},
		General: GeneralConfig{
			LogLevel:    "info",
			Concurrency: 64,
			MaxHistory:  1000,
		},
		Send: SendConfig{
			Burst:     5,
			PerMinute: 60,
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.argon/messages.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   "127.0.0.1:9464",
			Endpoint: "/metrics",
		},
	}
}
