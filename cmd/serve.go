package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/LiamSnow/liamsnow.com/internal/builder"
	"github.com/LiamSnow/liamsnow.com/internal/config"
	"github.com/LiamSnow/liamsnow.com/internal/httpd"
	"github.com/LiamSnow/liamsnow.com/internal/livereload"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
	"github.com/LiamSnow/liamsnow.com/internal/site"
	"github.com/LiamSnow/liamsnow.com/internal/table"
	"github.com/LiamSnow/liamsnow.com/internal/update"
	"github.com/LiamSnow/liamsnow.com/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Build the site and serve it",
	Long: `Build the site once, then serve it over HTTP/1.1.

With --watch the content root is watched: every change triggers a fast
rebuild and connected browsers reload over a WebSocket on the watch address.

With --secret the POST /_update webhook is enabled. A request signed with
the secret (X-Hub-Signature-256) pulls, rebuilds and exits so a supervisor
restarts the new binary.

Examples:
  liamsnow-com serve
  liamsnow-com serve --watch --content ./content
  liamsnow-com serve --host 0.0.0.0 --port 80 --secret /run/secrets/webhook`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().IntP("port", "p", 3232, "Port to serve on")
	serveCmd.Flags().Int("workers", 0, "Acceptor workers (0 = CPUs minus one)")
	serveCmd.Flags().BoolP("watch", "w", false, "Rebuild on change and enable live reload")
	serveCmd.Flags().String("watch-host", "127.0.0.1", "Live-reload host")
	serveCmd.Flags().Int("watch-port", 3233, "Live-reload port")
	serveCmd.Flags().String("secret", "", "File holding the webhook secret (enables self-update)")

	bindFlags(serveCmd.Flags(), map[string]string{
		"host":       "server.host",
		"port":       "server.port",
		"workers":    "server.workers",
		"watch":      "watch.enabled",
		"watch-host": "watch.host",
		"watch-port": "watch.port",
		"secret":     "update.secret_path",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := table.NewStore()

	var hub *livereload.Hub
	var opts []site.Option
	if cfg.Watch.Enabled {
		hub = livereload.NewHub(cfg.Watch.AllowedOrigins, logger)
		opts = append(opts,
			site.WithNotifier(hub),
			site.WithReloadScript(livereload.Script(cfg.Watch.Addr())),
		)
	}

	pipeline := site.NewPipeline(newBuilder(cfg), store, logger, opts...)
	if err := pipeline.Rebuild(ctx, false); err != nil {
		return fmt.Errorf("initial build failed: %w", err)
	}

	var secret string
	if cfg.Update.SecretPath != "" {
		s, err := update.LoadSecret(cfg.Update.SecretPath)
		if err != nil {
			return err
		}
		secret = s
	}
	updater := update.NewService(secret, update.Config{
		Git:       cfg.Update.Git,
		Go:        cfg.Update.Go,
		BuildArgs: cfg.Update.BuildArgs,
		WorkDir:   cfg.Update.WorkDir,
	}, logger)

	srv := httpd.NewServer(store, updater, logger, httpd.Config{
		Workers: cfg.Server.Workers,
		Timeout: cfg.Server.Timeout,
	})

	if cfg.Watch.Enabled {
		fw, err := watcher.NewFileWatcher(cfg.Watch.Debounce, logger)
		if err != nil {
			return fmt.Errorf("creating watcher: %w", err)
		}
		defer fw.Stop()

		fw.AddFilter(watcher.NoEditorTempFilter)
		fw.AddFilter(watcher.NoGitFilter)
		fw.AddHandler(pipeline.HandleChanges)
		if err := fw.AddRecursive(cfg.Content.Root); err != nil {
			return fmt.Errorf("watching %s: %w", cfg.Content.Root, err)
		}
		if err := fw.Start(ctx); err != nil {
			return err
		}
		logger.Info(ctx, "Watching for changes", "root", cfg.Content.Root, "dirs", len(fw.WatchList()))
	}

	// the first failing service stops the rest
	services := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()

	services.Go(func(ctx context.Context) error {
		return srv.ListenAndServe(ctx, cfg.Server.Addr())
	})
	if cfg.Watch.Enabled {
		lr := livereload.NewServer(hub, cfg.Watch.MaxClients, logger)
		services.Go(func(ctx context.Context) error {
			return lr.ListenAndServe(ctx, cfg.Watch.Addr())
		})
	}

	err := services.Wait()

	stats := pipeline.GetMetrics()
	logger.Info(context.Background(), "Server stopped",
		"builds", stats.TotalBuilds,
		"failed_builds", stats.FailedBuilds,
		"avg_build", stats.AverageDuration)
	return err
}

func newBuilder(cfg *config.Config) builder.Builder {
	if cfg.Content.BuildCommand != "" {
		return builder.NewExecBuilder(nil, cfg.Content.Root, cfg.Content.BuildCommand)
	}
	return builder.NewDirBuilder(nil, cfg.Content.Root)
}
