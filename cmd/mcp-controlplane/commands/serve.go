package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/archon-ai/mcp-controlplane/internal/config"
	"github.com/archon-ai/mcp-controlplane/internal/dispatcher"
	"github.com/archon-ai/mcp-controlplane/internal/httpapi"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/manifest"
	"github.com/archon-ai/mcp-controlplane/internal/supervisor"
	"github.com/archon-ai/mcp-controlplane/internal/telemetry"
)

// serveOptions are the "serve" subcommand's own flags, layered over
// config.Settings defaults and the root's shared flags.
type serveOptions struct {
	listenAddr     string
	archonMCPImage string
	podPrefix      string
}

var log = logging.Get("cmd")

// newServeCommand builds the "serve" subcommand: resolves a deployment
// mode, constructs a Supervisor bound to it, and serves the HTTP surface
// until interrupted.
func newServeCommand(root *rootOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane: resolve a backend and serve the supervisor HTTP surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listenAddr, "listen", ":8053", "HTTP listen address")
	cmd.Flags().StringVar(&opts.archonMCPImage, "archon-mcp-image", "", "Override image for the archon server type (default archon-mcp:latest)")
	cmd.Flags().StringVar(&opts.podPrefix, "pod-prefix", "mcp", "Prefix used when naming pods/containers")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	logging.Init(root.verbose)

	watcher, err := config.NewWatcher(root.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defer watcher.Close()
	settings := watcher.Get()

	instruments, shutdownTelemetry, err := telemetry.Setup(ctx, "mcp-controlplane")
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(sctx)
	}()

	dispatchOpts := dispatcher.NewOptionsFromEnv()
	if settings.Namespace != "" {
		dispatchOpts.Namespace = settings.Namespace
	}
	if settings.Kubeconfig != "" {
		dispatchOpts.Kubeconfig = settings.Kubeconfig
	}
	if settings.KubeContext != "" {
		dispatchOpts.KubeContext = settings.KubeContext
	}
	if settings.SidecarURL != "" {
		dispatchOpts.SidecarURL = settings.SidecarURL
	}

	d := dispatcher.New(dispatchOpts)
	driver, mode, err := d.Driver(ctx)
	if err != nil {
		return fmt.Errorf("resolving deployment mode: %w", err)
	}
	log.Infof("deployment mode resolved: %s", mode)

	sup := supervisor.New(driver, mode, supervisor.Config{
		MaxConcurrentServers: settings.MaxConcurrentServers,
		ThrottleWindow:       settings.ThrottleWindow,
		Namespace:            settings.Namespace,
		Instruments:          instruments,
		EnvDefaults: manifest.EnvDefaults{
			ArchonMCPImage: opts.archonMCPImage,
			Namespace:      settings.Namespace,
			Prefix:         opts.podPrefix,
		},
	})

	srv := httpapi.New(sup)
	httpServer := &http.Server{Addr: opts.listenAddr, Handler: srv}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", opts.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.CleanupTimeout)
	defer cancel()

	results := sup.StopAll(shutdownCtx)
	for _, r := range results {
		if r.Err != nil {
			log.Warningf("stop %s during shutdown: %v", r.ServerID, r.Err)
		}
	}

	return httpServer.Shutdown(shutdownCtx)
}
