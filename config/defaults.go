package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Directory: DefaultDirectoryConfig(),
		Lifecycle: DefaultLifecycleConfig(),
		Exchange:  DefaultExchangeConfig(),
		Events:    DefaultEventsConfig(),
		Stream:    DefaultStreamConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultDirectoryConfig returns the default directory settings.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		SweepInterval:   30 * time.Second,
		LivenessTimeout: 2 * time.Minute,
	}
}

// DefaultLifecycleConfig returns the default lifecycle settings.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		TaskTimeout:   5 * time.Minute,
		SweepInterval: 15 * time.Second,
	}
}

// DefaultExchangeConfig returns the default exchange settings.
func DefaultExchangeConfig() ExchangeConfig {
	return ExchangeConfig{
		DedupWindow: 4096,
	}
}

// DefaultEventsConfig returns the default broadcaster settings.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		RetentionSize:    1024,
		SubscriberBuffer: 64,
	}
}

// DefaultStreamConfig returns the default WebSocket stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxSessions:  256,
		WriteTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default OTel settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentwire",
		SampleRate:   0.1,
	}
}
