package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/planwright/planwright/internal/server"
	"github.com/planwright/planwright/internal/types"
)

// version is stamped at build time
var version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP governance API",
	Long: `Serve the governance API: run lifecycle, operator review, escalations,
unknown tracking, and audit verification. Every endpoint except /health
requires a bearer operator token (see 'planwright token mint').

The process registers itself as an engine instance, heartbeats while
serving, and sweeps stale instances left behind by dead processes.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := openEnv(ctx, true)
		if err != nil {
			fail(err)
		}
		defer env.Close()

		if env.cfg.Server.JWTSecret == "" {
			fail(fmt.Errorf("server.jwt_secret is required (set PLANWRIGHT_SERVER_JWT_SECRET)"))
		}
		if addr == "" {
			addr = env.cfg.Server.Addr
		}

		srv, err := server.New(server.Config{
			Pipeline:  env.pipeline,
			Reviews:   env.reviews,
			Tracker:   env.tracker,
			Ledger:    env.ledger,
			Store:     env.store,
			JWTSecret: env.cfg.Server.JWTSecret,
		})
		if err != nil {
			fail(err)
		}

		hostname, _ := os.Hostname()
		instance := &types.EngineInstance{
			InstanceID: uuid.New().String(),
			Hostname:   hostname,
			PID:        os.Getpid(),
			Status:     "running",
			Version:    version,
		}
		heartbeatDone := make(chan struct{})
		go func() {
			defer close(heartbeatDone)
			if err := env.pipeline.Heartbeat(ctx, instance, env.cfg.Heartbeat(), env.cfg.StaleAfter()); err != nil {
				fmt.Fprintf(os.Stderr, "heartbeat stopped: %v\n", err)
			}
		}()

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		cmd.Printf("Listening on %s\n", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(err)
		}
		<-heartbeatDone
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
