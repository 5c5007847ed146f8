// Package main provides the entry point for the PrunePilot proxy.
// The proxy sits between an agent host and its model providers and keeps the
// context window small by pruning obsolete tool outputs from outbound requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/prunepilot/internal/api"
	"github.com/router-for-me/prunepilot/internal/config"
	"github.com/router-for-me/prunepilot/internal/engine"
	"github.com/router-for-me/prunepilot/internal/host"
	"github.com/router-for-me/prunepilot/internal/intercept"
	"github.com/router-for-me/prunepilot/internal/janitor"
	"github.com/router-for-me/prunepilot/internal/llm"
	"github.com/router-for-me/prunepilot/internal/logging"
	"github.com/router-for-me/prunepilot/internal/persist"
	"github.com/router-for-me/prunepilot/internal/prune"
	"github.com/router-for-me/prunepilot/internal/tokens"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var configPath string
	var envPath string
	var showVersion bool
	var verbose bool

	flag.StringVar(&configPath, "config", "config.yaml", "Configure file path (YAML or TOML)")
	flag.StringVar(&envPath, "env", ".env", "Dotenv file loaded before the configuration")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("PrunePilot Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	if err := run(configPath, envPath, verbose); err != nil {
		log.Errorf("prunepilot: %v", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, verbose bool) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		log.WithError(err).Warn("failed to load dotenv file")
	}
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return err
	}
	applyLogging(cfg, verbose)
	defer logging.Close()
	if strings.TrimSpace(cfg.HostURL) == "" {
		return fmt.Errorf("host-url is required")
	}
	if !verbose && !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persist.Open(ctx, cfg.Persistence.Backend, cfg.Persistence.GetDir(), cfg.Persistence.DSN)
	if err != nil {
		return fmt.Errorf("failed to open prune store: %w", err)
	}
	// Closing the writer flushes pending snapshots and closes the store.
	writer := persist.NewWriter(store)
	defer func() {
		if errClose := writer.Close(); errClose != nil {
			log.WithError(errClose).Warn("failed to close prune store")
		}
	}()

	sessions := prune.NewSessionManager(prune.ManagerOptions{
		Store:          store,
		Writer:         writer,
		RegistryCap:    cfg.Prune.GetRegistryCap(),
		ProtectedTools: cfg.Prune.GetProtectedTools(),
	})
	hostClient := host.NewClient(cfg.HostURL, cfg.HostToken, 0)
	catalog := llm.NewCatalog(providerConfigs(cfg), cfg.Prune.GetProbeTimeout())
	selector := janitor.NewModelSelector(catalog, janitor.SelectorOptions{
		ConfiguredModel: cfg.Prune.Model,
		ProbeTimeout:    cfg.Prune.GetProbeTimeout(),
	})
	estimator := tokens.NewTiktoken()
	jan := janitor.New(hostClient, sessions, selector, llm.NewClient(catalog, cfg.Prune.GetAnalysisTimeout()), estimator, janitorOptions(cfg))
	eng := engine.New(hostClient, sessions, jan, estimator, engineOptions(cfg))
	interceptor := intercept.New(hostClient, sessions, interceptOptions(cfg))
	server := api.NewServer(cfg, eng, interceptor)

	watcher, err := config.NewWatcher(configPath, cfg, func(next *config.Config) {
		prev := cfg
		cfg = next
		applyLogging(next, verbose)
		jan.SetOptions(janitorOptions(next))
		eng.SetOptions(engineOptions(next))
		interceptor.SetOptions(interceptOptions(next))
		server.UpdateConfig(next)
		if changed := restartRequired(prev, next); len(changed) > 0 {
			log.Warnf("configuration changes to %s take effect after restart", strings.Join(changed, ", "))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if errWatch := watcher.Start(ctx); errWatch != nil {
		log.WithError(errWatch).Warn("config hot reload disabled")
	}
	defer func() { _ = watcher.Close() }()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

func applyLogging(cfg *config.Config, verbose bool) {
	if verbose {
		logging.SetLogLevel("debug")
	} else {
		logging.SetLogLevel(cfg.LogLevel)
	}
	if err := logging.ConfigureLogOutput(cfg.LogFile); err != nil {
		log.WithError(err).Warn("failed to configure log file, logging to stdout")
	}
}
