// Package config loads the server configuration and builds the storage
// backend, the node tree, the logger and the plugin set it describes.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (LIBDAV_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Backends follow one pattern: a Type field selects the implementation
// and only the option map of that type is decoded.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`

	// Storage holds locks, dead properties and change journals.
	Storage StorageConfig `mapstructure:"storage"`

	// Tree is the node tree the server exposes.
	Tree TreeConfig `mapstructure:"tree"`

	Auth    AuthConfig    `mapstructure:"auth"`
	ACL     ACLConfig     `mapstructure:"acl"`
	Locks   LocksConfig   `mapstructure:"locks"`
	CalDAV  CalDAVConfig  `mapstructure:"caldav"`
	CardDAV CardDAVConfig `mapstructure:"carddav"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`

	// BaseURI is the path the tree is mounted at
	BaseURI string `mapstructure:"base_uri" validate:"required,startswith=/"`

	// InfiniteDepth allows PROPFIND with Depth: infinity
	InfiniteDepth bool `mapstructure:"infinite_depth"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is memory or badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	Memory map[string]any `mapstructure:"memory"`
	Badger map[string]any `mapstructure:"badger"`
}

// TreeConfig selects the node tree.
type TreeConfig struct {
	// Type is memory or s3
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	Memory map[string]any `mapstructure:"memory"`
	S3     map[string]any `mapstructure:"s3"`

	// Collections are created at startup when missing
	Collections []CollectionConfig `mapstructure:"collections" validate:"dive"`
}

// CollectionConfig describes a collection to create at startup.
type CollectionConfig struct {
	Path string `mapstructure:"path" validate:"required"`

	// Type is collection, calendar or addressbook
	Type string `mapstructure:"type" validate:"omitempty,oneof=collection calendar addressbook"`
}

// AuthConfig configures HTTP Basic authentication.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Realm   string `mapstructure:"realm"`

	// Anonymous lets requests without credentials through
	Anonymous bool `mapstructure:"anonymous"`

	// PrincipalsFile is a YAML file of users and groups
	PrincipalsFile string `mapstructure:"principals_file" validate:"required_if=Enabled true"`

	// PrincipalPrefix is the collection principals live in
	PrincipalPrefix string `mapstructure:"principal_prefix"`
}

// ACLConfig configures access control.
type ACLConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Admins bypass every privilege check
	Admins []string `mapstructure:"admins"`
}

// LocksConfig configures WebDAV locking.
type LocksConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gte=0"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout" validate:"gtefield=DefaultTimeout"`
}

// CalDAVConfig configures calendar collections.
type CalDAVConfig struct {
	Enabled         bool  `mapstructure:"enabled"`
	MaxResourceSize int64 `mapstructure:"max_resource_size" validate:"gte=0"`
}

// CardDAVConfig configures address book collections.
type CardDAVConfig struct {
	Enabled         bool  `mapstructure:"enabled"`
	MaxResourceSize int64 `mapstructure:"max_resource_size" validate:"gte=0"`
}

// SyncConfig configures the sync-collection report.
type SyncConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Listen is the address of the /metrics endpoint
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches $XDG_CONFIG_HOME/libdav/config.yaml. A
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures environment variables and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Example: LIBDAV_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("LIBDAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// envKeys can be set from the environment without a config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.listen",
	"server.base_uri",
	"storage.type",
	"tree.type",
	"auth.enabled",
	"auth.principals_file",
	"metrics.enabled",
	"metrics.listen",
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/libdav, ~/.config/libdav or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "libdav")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "libdav")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
