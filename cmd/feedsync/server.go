package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/feedsync/internal/api"
	"github.com/kalambet/feedsync/internal/config"
	"github.com/kalambet/feedsync/internal/schedule"
	"github.com/kalambet/feedsync/internal/storage"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status API and MCP server, optionally syncing on an interval",
		Long: `Run the read-only status API on 127.0.0.1:<server.port> and an MCP server
on stdio. With --interval, a sync also runs at startup and then once per
interval.

Examples:
  feedsync serve
  feedsync serve --interval 24h --no-mcp`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			noMCP, _ := cmd.Flags().GetBool("no-mcp")
			if interval < 0 {
				return &usageError{err: fmt.Errorf("--interval must not be negative")}
			}
			return runServer(cmd.Context(), interval, !noMCP)
		},
	}
	cmd.Flags().Duration("interval", 0, "sync interval, e.g. 24h (0 disables the scheduler)")
	cmd.Flags().Bool("no-mcp", false, "do not serve MCP on stdio")
	return cmd
}

func runServer(ctx context.Context, interval time.Duration, withMCP bool) error {
	fmt.Fprintf(errOut, "feedsync version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if interval > 0 {
		if err := cfg.ValidateForSync("", false); err != nil {
			return err
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// Without Google credentials the server still answers status queries.
	var preview api.Previewer
	coord, err := newCoordinator(ctx, cfg, store)
	switch {
	case err == nil:
		preview = coord
	case interval > 0:
		return err
	default:
		printWarning("preview_sync disabled: %v", err)
	}

	if cfg.API.Token == "" {
		printWarning("FEEDSYNC_API_TOKEN is not set; /runs and /state will reject every request")
	}

	g, gctx := errgroup.WithContext(ctx)

	srv := newHTTPServer(gctx, cfg, store)
	g.Go(func() error {
		printStep("Status API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Preview: preview, Version: version})
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	}

	if interval > 0 {
		sched := schedule.New(coord, interval)
		g.Go(func() error {
			printStep("Syncing every %s", sched.Interval())
			sched.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	fmt.Fprintln(errOut, "shutting down...")
	return err
}

func newHTTPServer(ctx context.Context, cfg config.Config, store *storage.Store) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           api.NewStatusHandler(api.StatusDeps{Store: store, Token: cfg.API.Token}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
}
