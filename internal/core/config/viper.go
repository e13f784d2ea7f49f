package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults matching DefaultConfig
	d := DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("schema_path", d.SchemaPath)
	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.nats.url", d.Source.NATS.URL)
	v.SetDefault("source.nats.subject", d.Source.NATS.Subject)
	v.SetDefault("source.nats.queue", d.Source.NATS.Queue)
	v.SetDefault("source.nats.max_reconnect", d.Source.NATS.MaxReconnect)
	v.SetDefault("source.nats.reconnect_wait", d.Source.NATS.ReconnectWait.String())
	v.SetDefault("source.kafka.brokers", d.Source.Kafka.Brokers)
	v.SetDefault("source.kafka.topic", d.Source.Kafka.Topic)
	v.SetDefault("source.kafka.group_id", d.Source.Kafka.GroupID)
	v.SetDefault("source.file", d.Source.File)
	v.SetDefault("dispatch.workers", d.Dispatch.Workers)
	v.SetDefault("dispatch.buffer", d.Dispatch.Buffer)
	v.SetDefault("limits.max_depth", d.Limits.MaxDepth)
	v.SetDefault("limits.max_in_values", d.Limits.MaxInValues)
	v.SetDefault("limits.max_cost", d.Limits.MaxCost)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("jwt.issuer", d.JWT.Issuer)

	// Bind environment variables with GQLSUB_ prefix
	v.SetEnvPrefix("GQLSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject secrets in config files
	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			MaxConnections:  v.GetInt("server.max_connections"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		DatabaseURL: v.GetString("database_url"),
		SchemaPath:  v.GetString("schema_path"),
		Source: SourceConfig{
			Kind: strings.ToLower(v.GetString("source.kind")),
			NATS: NATSConfig{
				URL:           v.GetString("source.nats.url"),
				Subject:       v.GetString("source.nats.subject"),
				Queue:         v.GetString("source.nats.queue"),
				MaxReconnect:  v.GetInt("source.nats.max_reconnect"),
				ReconnectWait: v.GetDuration("source.nats.reconnect_wait"),
			},
			Kafka: KafkaConfig{
				Brokers: v.GetStringSlice("source.kafka.brokers"),
				Topic:   v.GetString("source.kafka.topic"),
				GroupID: v.GetString("source.kafka.group_id"),
			},
			File: v.GetString("source.file"),
		},
		Dispatch: DispatchConfig{
			Workers: v.GetInt("dispatch.workers"),
			Buffer:  v.GetInt("dispatch.buffer"),
		},
		Limits: LimitsConfig{
			MaxDepth:    v.GetInt("limits.max_depth"),
			MaxInValues: v.GetInt("limits.max_in_values"),
			MaxCost:     v.GetInt("limits.max_cost"),
		},
		MetricsAddr: v.GetString("metrics_addr"),
		Tracing: TracingConfig{
			ServiceName: v.GetString("tracing.service_name"),
			Endpoint:    v.GetString("tracing.endpoint"),
			Insecure:    v.GetBool("tracing.insecure"),
		},
		JWT: JWTConfig{
			Claims: v.GetStringMapString("jwt.claims"),
			Issuer: v.GetString("jwt.issuer"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port range, positive limits and the source kind.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive, got %d", cfg.Dispatch.Workers)
	}
	if cfg.Dispatch.Buffer <= 0 {
		return fmt.Errorf("dispatch.buffer must be positive, got %d", cfg.Dispatch.Buffer)
	}
	if cfg.Limits.MaxDepth <= 0 || cfg.Limits.MaxInValues <= 0 || cfg.Limits.MaxCost <= 0 {
		return fmt.Errorf("limits must be positive, got depth=%d in_values=%d cost=%d",
			cfg.Limits.MaxDepth, cfg.Limits.MaxInValues, cfg.Limits.MaxCost)
	}
	switch cfg.Source.Kind {
	case "nats":
		if cfg.Source.NATS.Subject == "" {
			return fmt.Errorf("source.nats.subject is required")
		}
	case "kafka":
		if len(cfg.Source.Kafka.Brokers) == 0 || cfg.Source.Kafka.Topic == "" {
			return fmt.Errorf("source.kafka.brokers and source.kafka.topic are required")
		}
	case "file":
		if cfg.Source.File == "" {
			return fmt.Errorf("source.file is required")
		}
	default:
		return fmt.Errorf("source.kind must be nats, kafka or file, got %q", cfg.Source.Kind)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("jwt_secret") || v.InConfig("jwt.secret") || v.InConfig("jwt.secrets") {
		return fmt.Errorf("JWT secrets not allowed in config files (use GQLSUB_JWT_SECRET environment variable)")
	}
	return nil
}
