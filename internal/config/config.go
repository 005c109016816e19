// Package config provides configuration loading for the membership manager.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Environment variable names consumed at startup. They match the names
// the Citus docker-compose images already export, so the manager drops
// into an existing deployment without extra wiring.
const (
	envCoordinatorHost = "CITUS_HOST"
	envUser            = "POSTGRES_USER"
	envPassword        = "POSTGRES_PASSWORD"
	envDatabase        = "POSTGRES_DB"
	envOwnHostname     = "HOSTNAME"
	envReadinessFile   = "READINESS_FILE"
	envMetricsAddress  = "METRICS_ADDRESS"
)

const (
	defaultCoordinatorHost = "master"
	defaultUser            = "postgres"
	defaultReadinessFile   = "/healthcheck/manager-ready"
)

// Config holds all settings the manager reads once at startup.
type Config struct {
	// CoordinatorHost is the hostname of the Citus coordinator node
	CoordinatorHost string

	// User is the Postgres user used for membership commands
	User string

	// Password is the Postgres password; may be empty for trust auth
	Password string

	// Database is the Postgres database name; defaults to User
	Database string

	// OwnHostname is this process's own container ID, used to resolve
	// the compose project scope. Under Docker Compose this is the
	// container's short ID and is always set.
	OwnHostname string

	// ReadinessFile is the marker file asserted once the manager is
	// sweeping and subscribed; dependent containers probe it
	ReadinessFile string

	// MetricsAddress is the listen address for the Prometheus endpoint;
	// empty disables the listener
	MetricsAddress string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"coordinator_host": envCoordinatorHost,
		"user":             envUser,
		"password":         envPassword,
		"database":         envDatabase,
		"own_hostname":     envOwnHostname,
		"readiness_file":   envReadinessFile,
		"metrics_address":  envMetricsAddress,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetDefault("coordinator_host", defaultCoordinatorHost)
	v.SetDefault("user", defaultUser)
	v.SetDefault("readiness_file", defaultReadinessFile)

	cfg := &Config{
		CoordinatorHost: v.GetString("coordinator_host"),
		User:            v.GetString("user"),
		Password:        v.GetString("password"),
		Database:        v.GetString("database"),
		OwnHostname:     v.GetString("own_hostname"),
		ReadinessFile:   v.GetString("readiness_file"),
		MetricsAddress:  v.GetString("metrics_address"),
	}

	// The database defaults to the user name, mirroring the official
	// postgres image behavior.
	if cfg.Database == "" {
		cfg.Database = cfg.User
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks that all required settings are present.
func (c *Config) validate() error {
	if c.CoordinatorHost == "" {
		return fmt.Errorf("%s must not be empty", envCoordinatorHost)
	}
	if c.User == "" {
		return fmt.Errorf("%s must not be empty", envUser)
	}
	if c.OwnHostname == "" {
		return fmt.Errorf("%s is required: the manager resolves its compose project from its own container", envOwnHostname)
	}
	if c.ReadinessFile == "" {
		return fmt.Errorf("%s must not be empty", envReadinessFile)
	}
	return nil
}

// ConnString builds the pgx connection string for the coordinator.
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s",
		c.CoordinatorHost,
		c.User,
		c.Password,
		c.Database,
	)
}
