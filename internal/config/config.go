// Package config loads service configuration from an optional YAML file
// with environment-variable overrides on top.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	BackendDynamo = "dynamodb"
	BackendBadger = "badger"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// Backend selects the store implementation: "dynamodb" or "badger".
	Backend  string         `yaml:"backend"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Badger   BadgerConfig   `yaml:"badger"`
}

type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
	// Endpoint overrides the SDK endpoint, for local DynamoDB.
	Endpoint string `yaml:"endpoint"`
	// AssumeRoleARN, when set, wraps the default credentials in an STS
	// assume-role provider.
	AssumeRoleARN string `yaml:"assume_role_arn"`
}

type BadgerConfig struct {
	// Path to the database directory. Empty means in-memory.
	Path string `yaml:"path"`
}

// Load reads the YAML file at path (if any), applies env overrides and
// fills defaults. A missing file is fine; a malformed one is not.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr: ":8080",
		Backend:    BackendDynamo,
		DynamoDB:   DynamoDBConfig{Table: "inventory-items"},
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	overrideEnv(&cfg.ListenAddr, "INVENTORYD_ADDR")
	overrideEnv(&cfg.Backend, "INVENTORYD_BACKEND")
	overrideEnv(&cfg.DynamoDB.Table, "INVENTORYD_DYNAMODB_TABLE")
	overrideEnv(&cfg.DynamoDB.Region, "AWS_REGION")
	overrideEnv(&cfg.DynamoDB.Endpoint, "INVENTORYD_DYNAMODB_ENDPOINT")
	overrideEnv(&cfg.DynamoDB.AssumeRoleARN, "INVENTORYD_ASSUME_ROLE_ARN")
	overrideEnv(&cfg.Badger.Path, "INVENTORYD_BADGER_PATH")

	if cfg.Backend != BackendDynamo && cfg.Backend != BackendBadger {
		return Config{}, fmt.Errorf("unknown backend %q, want %q or %q", cfg.Backend, BackendDynamo, BackendBadger)
	}
	return cfg, nil
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
