package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/channelmesh/delegation"
	"github.com/hupe1980/channelmesh/live"
	"github.com/hupe1980/channelmesh/server"
)

// newServeCmd creates the `channelmesh serve` command that starts the HTTP API.
func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket API",
		Long: `Start the channelmesh API server. Agents run when messages mention them
and stream their replies into placeholder messages.

Examples:
  channelmesh serve
  PORT=9000 STORE=sqlite channelmesh serve --roster roster.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().String("roster", "", "roster YAML to seed before serving (defaults to ROSTER_FILE)")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if roster, _ := cmd.Flags().GetString("roster"); roster != "" {
		cfg.RosterFile = roster
	}
	if cfg.RosterFile != "" {
		res, err := a.seed(ctx, cfg.RosterFile)
		if err != nil {
			return fmt.Errorf("seed roster: %w", err)
		}
		a.logger.Info("roster.seeded", "file", cfg.RosterFile, "agents_created", res.AgentsCreated, "members", res.Members)
	}

	mesh := a.mesh(ctx, live.NewHub())
	router := server.NewRouter(mesh, func(o *server.Options) {
		o.AccessLog = a.accessLog
		o.Logger = a.logger
		o.Checks = a.checks
		o.Version = version
		if cfg.IsDevelopment() {
			o.CheckOrigin = func(*http.Request) bool { return true }
		}
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Message posts block until the delegation tree is terminal, one invocation per depth level.
		WriteTimeout: time.Duration(delegation.MaxDepth)*cfg.InvocationTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server.start", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("server.shutdown")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("server.stopped")
	return nil
}

