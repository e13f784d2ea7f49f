// Package config provides configuration management for the subscription
// service.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig holds configuration for the gRPC subscription API.
type ServerConfig struct {
	Host            string
	Port            int
	MaxConnections  int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// NATSConfig selects the NATS subject carrying change events.
type NATSConfig struct {
	URL           string
	Subject       string
	Queue         string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// KafkaConfig selects the Kafka topic carrying change events.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// SourceConfig selects the change event source.
type SourceConfig struct {
	// Kind is "nats", "kafka" or "file".
	Kind  string
	NATS  NATSConfig
	Kafka KafkaConfig
	// File is a newline-delimited JSON capture replayed once (kind "file").
	File string
}

// DispatchConfig bounds event fan-out.
type DispatchConfig struct {
	Workers int
	Buffer  int
}

// LimitsConfig bounds accepted where expressions.
type LimitsConfig struct {
	MaxDepth    int
	MaxInValues int
	MaxCost     int
}

// TracingConfig selects the OTLP exporter.
type TracingConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// JWTConfig controls token verification. Secrets are environment-only, see
// JWTSecrets.
type JWTConfig struct {
	// Claims maps schema claim names onto token claim paths.
	Claims map[string]string
	Issuer string
}

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig
	DatabaseURL string
	SchemaPath  string
	Source      SourceConfig
	Dispatch    DispatchConfig
	Limits      LimitsConfig
	MetricsAddr string
	Tracing     TracingConfig
	JWT         JWTConfig
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxConnections:  1000,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DatabaseURL: "sqlite://./data/graphql-sub.db",
		SchemaPath:  "./schema.yaml",
		Source: SourceConfig{
			Kind: "nats",
			NATS: NATSConfig{
				URL:           "nats://127.0.0.1:4222",
				Subject:       "graphql.changes",
				MaxReconnect:  60,
				ReconnectWait: 2 * time.Second,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"127.0.0.1:9092"},
				Topic:   "graphql.changes",
				GroupID: "graphql-sub",
			},
		},
		Dispatch: DispatchConfig{
			Workers: 8,
			Buffer:  64,
		},
		Limits: LimitsConfig{
			MaxDepth:    32,
			MaxInValues: 1000,
			MaxCost:     20000,
		},
		MetricsAddr: ":9090",
		Tracing: TracingConfig{
			ServiceName: "graphql-sub",
		},
		JWT: JWTConfig{
			Claims: map[string]string{},
		},
	}
}

// JWTSecrets extracts token signing secrets from environment variables.
// Supports GQLSUB_JWT_SECRET (single) and GQLSUB_JWT_SECRET_N (rotation).
// Returns map of key_id -> decoded secret bytes. The key ID is matched
// against the token's "kid" header.
func JWTSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key string) (bool, error) {
		val := os.Getenv(key)
		if val == "" {
			return false, nil
		}
		keyID, decoded, err := ParseSecretWithID(val)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[keyID]; exists {
			return false, fmt.Errorf("duplicate key_id '%s' found in environment variables (check GQLSUB_JWT_SECRET and GQLSUB_JWT_SECRET_* for conflicts)", keyID)
		}
		secrets[keyID] = decoded
		return true, nil
	}

	if _, err := add("GQLSUB_JWT_SECRET"); err != nil {
		return nil, err
	}

	// Multiple secrets enable rotation: old and new keys valid during migration
	for i := 1; ; i++ {
		ok, err := add(fmt.Sprintf("GQLSUB_JWT_SECRET_%d", i))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
	}

	return secrets, nil
}

// ParseSecret decodes a base64-encoded signing secret.
func ParseSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseSecretWithID parses key_id:base64_secret format.
// Key ID must be 1-64 chars of [A-Za-z0-9_-].
func ParseSecretWithID(envValue string) (keyID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <key_id>:<base64_secret>")
	}

	keyID = parts[0]
	if len(keyID) == 0 || len(keyID) > 64 {
		return "", nil, fmt.Errorf("key_id must be 1 to 64 chars")
	}

	for _, c := range keyID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_') {
			return "", nil, fmt.Errorf("key_id must be alphanumeric, '-' or '_'")
		}
	}

	secret, err = ParseSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return keyID, secret, nil
}
