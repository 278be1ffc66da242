package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills zero values. Explicit values are preserved and
// backend specific defaults are left to the backends.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyTreeDefaults(&cfg.Tree)
	applyAuthDefaults(&cfg.Auth)
	applyLocksDefaults(&cfg.Locks)

	if cfg.CalDAV.MaxResourceSize == 0 {
		cfg.CalDAV.MaxResourceSize = 10 << 20
	}
	if cfg.CardDAV.MaxResourceSize == 0 {
		cfg.CardDAV.MaxResourceSize = 1 << 20
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.BaseURI == "" {
		cfg.BaseURI = "/"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
}

func applyTreeDefaults(cfg *TreeConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	for i := range cfg.Collections {
		if cfg.Collections[i].Type == "" {
			cfg.Collections[i].Type = "collection"
		}
	}
}

func applyAuthDefaults(cfg *AuthConfig) {
	if cfg.Realm == "" {
		cfg.Realm = "libdav"
	}
	if cfg.PrincipalPrefix == "" {
		cfg.PrincipalPrefix = "principals/"
	}
}

func applyLocksDefaults(cfg *LocksConfig) {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Minute
	}
	if cfg.MaxTimeout == 0 {
		cfg.MaxTimeout = 24 * time.Hour
	}
}
