package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"gopkg.in/yaml.v3"

	"github.com/oriys/vkdispatch/internal/audit"
)

// Config is the on-disk shape of vkdispatch.yaml.
type Config struct {
	Credentials []CredentialConfig `yaml:"credentials"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Tracing     TracingConfig      `yaml:"tracing"`
	Audit       AuditConfig        `yaml:"audit"`
	Queue       QueueConfig        `yaml:"queue"`
}

// CredentialConfig describes one credential. Token is either a literal
// value, "env:NAME" to read an environment variable, or
// "aws-secrets-manager://<secret-id>" to fetch it from AWS Secrets
// Manager at startup. Resolving tokens from a secrets store is a concern
// of this demo CLI, not of the library: the library only ever sees a
// plain string.
type CredentialConfig struct {
	Token      string `yaml:"token"`
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
	IntervalMs int    `yaml:"interval_ms"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// QueueConfig describes the distributed work queue the `worker` and
// `enqueue` commands talk to. It is independent of the dispatcher's own
// in-memory queue: this one lets producers and consumers run as separate
// processes, possibly on separate machines, sharing one Redis instance.
type QueueConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	Name     string `yaml:"name"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("config declares no credentials")
	}
	return &cfg, nil
}

// resolveToken turns a CredentialConfig's Token field into the literal
// access token the library needs.
func resolveToken(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		val := os.Getenv(name)
		if val == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return val, nil
	case strings.HasPrefix(ref, "aws-secrets-manager://"):
		secretID := strings.TrimPrefix(ref, "aws-secrets-manager://")
		return resolveAWSSecret(ctx, secretID)
	default:
		return ref, nil
	}
}

func resolveAWSSecret(ctx context.Context, secretID string) (string, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return "", fmt.Errorf("fetch secret %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	return *out.SecretString, nil
}

func (c AuditConfig) batcherConfig() audit.BatcherConfig {
	return audit.BatcherConfig{
		BatchSize:     c.BatchSize,
		FlushInterval: time.Duration(c.FlushIntervalMs) * time.Millisecond,
	}
}
