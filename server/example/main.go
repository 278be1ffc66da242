// Command example runs a CalDAV/CardDAV server assembled from a config
// file, or from a built-in demo configuration seeded with sample data.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cyp0633/libdav/server/config"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: built-in demo)")
	seed := flag.Bool("seed", true, "create sample calendars, events and contacts")
	flag.Parse()

	if err := run(*configPath, *seed); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, seed bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := config.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer inst.Close()
	logger := inst.Logger

	if seed {
		if err := seedData(ctx, inst.Server.Tree()); err != nil {
			return fmt.Errorf("failed to seed sample data: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.BaseURI, inst.Server)
	mux.HandleFunc("/.well-known/caldav", wellKnown(cfg.Server.BaseURI))
	mux.HandleFunc("/.well-known/carddav", wellKnown(cfg.Server.BaseURI))

	servers := []*http.Server{{Addr: cfg.Server.Listen, Handler: mux}}
	if inst.Metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", inst.Metrics.Handler())
		servers = append(servers, &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		logger.Info("listening", "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := demoConfig()
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// demoConfig serves everything from memory without authentication.
func demoConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "DEBUG", Format: "text", Output: "stderr"},
		Server: config.ServerConfig{
			Listen:          ":8080",
			BaseURI:         "/dav/",
			ShutdownTimeout: 10 * time.Second,
		},
		Locks:   config.LocksConfig{Enabled: true},
		CalDAV:  config.CalDAVConfig{Enabled: true},
		CardDAV: config.CardDAVConfig{Enabled: true},
		Sync:    config.SyncConfig{Enabled: true},
		Metrics: config.MetricsConfig{Enabled: true, Listen: ":9090"},
	}
}

// wellKnown redirects service discovery (RFC 6764) to the base URI.
func wellKnown(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("well-known redirect", "path", r.URL.Path)
		http.Redirect(w, r, strings.TrimSuffix(base, "/")+"/", http.StatusMovedPermanently)
	}
}
