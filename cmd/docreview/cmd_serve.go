package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"docreview/internal/logging"
	"docreview/internal/persona"
	"docreview/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

// serveCmd starts the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API over HTTP and websocket",
	Long: `Starts the HTTP server. Reviews are accepted at POST /api/review and
streamed at GET /api/review/ws; personas are managed under /api/personas.

With personas.store=yaml and personas.watch=true, edits made to the persona
file by hand are picked up and the graph is recompiled.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if fs, ok := a.store.(*persona.FileStore); ok && cfg.Personas.Watch {
		w, err := persona.NewWatcher(fs.Path(), func(ctx context.Context) {
			if _, err := a.current.Reload(ctx, a.store); err != nil {
				logger.Warn("persona file changed but recompile failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := server.New(server.Options{
		Store:          a.store,
		Current:        a.current,
		Executor:       a.executor,
		Timeout:        cfg.GetWorkflowTimeout(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	logging.Boot("graph v%d ready with reviewers %v", a.current.Load().Version(), a.current.Load().Reviewers())
	logger.Info("starting server", zap.String("addr", addr))
	return srv.ListenAndServe(ctx, addr)
}
