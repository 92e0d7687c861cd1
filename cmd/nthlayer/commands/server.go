package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nthlayer/nthlayer/internal/apiserver"
	"github.com/nthlayer/nthlayer/internal/config"
	"github.com/nthlayer/nthlayer/internal/deployevents"
	"github.com/nthlayer/nthlayer/internal/identity"
	"github.com/nthlayer/nthlayer/internal/lifecycle"
	"github.com/nthlayer/nthlayer/internal/logging"
	"github.com/nthlayer/nthlayer/internal/tracing"
)

var (
	tracingTLSCAPath   string
	tracingTLSInsecure bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the NthLayer server",
	Long: `Start the NthLayer server which receives deployment webhooks,
persists them idempotently, and exposes health and metrics endpoints.
The configuration file is watched and webhook providers are re-materialized
on change.`,
	Run: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&tracingTLSCAPath, "tracing-tls-ca", "", "Path to CA certificate for TLS verification (optional)")
	serverCmd.Flags().BoolVar(&tracingTLSInsecure, "tracing-tls-insecure", false, "Skip TLS certificate verification (insecure, use only for testing)")
}

func runServer(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("server")

	cfg, err := loadConfig()
	HandleError(err, "Failed to load config")

	logger.Info("Starting NthLayer v%s", Version)

	manager := lifecycle.NewManager()

	tracingProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   tracingTLSCAPath,
		TLSInsecure: tracingTLSInsecure,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
	} else {
		HandleError(manager.Register(tracingProvider), "Tracing registration error")
	}

	if cfg.Events.DSN == "" {
		HandleError(fmt.Errorf("events.dsn must be set"), "Configuration error")
	}
	store, err := deployevents.Open(cfg.Events.DSN)
	HandleError(err, "Failed to open event store")
	defer store.Close()

	resolver := identity.NewResolver(cfg.IdentityOptions())
	ingestor := deployevents.NewIngestor(store, resolver)
	for _, provider := range webhookProvidersFromConfig(cfg) {
		HandleError(ingestor.Register(provider), "Webhook provider registration error")
	}
	logger.Info("Webhook providers registered: %v", ingestor.Providers())

	// Hot reload: re-materialize the webhook provider set when the config
	// file changes. The first callback fires with the already-loaded config.
	watcher, err := config.NewWatcher(config.WatcherConfig{FilePath: configPath}, func(next *config.File) error {
		ingestor.Reconfigure(webhookProvidersFromConfig(next))
		return nil
	})
	HandleError(err, "Failed to create config watcher")
	HandleError(manager.Register(&watcherComponent{watcher}), "Watcher registration error")

	server := apiserver.New(apiserver.Config{
		Port:        cfg.Server.Port,
		MaxInFlight: cfg.Server.MaxInFlight,
	}, ingestor, store)
	HandleError(manager.Register(server), "API server registration error")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	HandleError(manager.Start(ctx), "Failed to start components")
	logger.Info("NthLayer server running on port %d", cfg.Server.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx := context.Background()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// webhookProvidersFromConfig materializes the configured webhook providers.
// Providers without a secret are skipped; unsigned deliveries are not
// acceptable.
func webhookProvidersFromConfig(cfg *config.File) []deployevents.WebhookProvider {
	logger := logging.GetLogger("server")
	var out []deployevents.WebhookProvider
	for name, pc := range cfg.Events.Webhooks {
		if !pc.IsEnabled() || pc.Secret == "" {
			if pc.Secret == "" {
				logger.Warn("webhook provider %s has no secret, skipping", name)
			}
			continue
		}
		switch name {
		case "github":
			out = append(out, deployevents.NewGitHubProvider(pc.Secret))
		case "argocd":
			out = append(out, deployevents.NewArgoCDProvider(pc.Secret))
		default:
			logger.Warn("unknown webhook provider %q, skipping", name)
		}
	}
	return out
}

// watcherComponent adapts the config watcher to the lifecycle interface.
type watcherComponent struct {
	watcher *config.Watcher
}

func (w *watcherComponent) Start(ctx context.Context) error { return w.watcher.Start(ctx) }
func (w *watcherComponent) Stop(ctx context.Context) error  { return w.watcher.Stop() }
func (w *watcherComponent) Name() string                    { return "Config Watcher" }
