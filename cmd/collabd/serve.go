package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"collabrooms/internal/access"
	"collabrooms/internal/config"
	"collabrooms/internal/gateway"
	"collabrooms/internal/persistence"
	"collabrooms/internal/presence"
	"collabrooms/internal/room"
	"collabrooms/internal/terminal"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	if err := config.BindFlags(cmd.Flags(), v); err != nil {
		panic(err)
	}
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services := map[string]gateway.Pinger{}

	var store persistence.Store
	if cfg.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		mongoStore, err := persistence.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err == nil {
			err = mongoStore.EnsureIndexes(connectCtx)
		}
		cancel()
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = mongoStore.Close(closeCtx)
		}()
		log.Printf("Using MongoDB database %s for projects", cfg.MongoDatabase)
		store = mongoStore
		services["mongodb"] = mongoStore
	} else {
		log.Printf("Using in-memory project storage; rooms start from the demo file tree")
		store = persistence.NewMemoryStore()
	}

	var checker access.Checker = access.AllowAll{}
	if cfg.RedisURL != "" {
		redisChecker, err := access.NewRedisChecker(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisChecker.Close()
		log.Printf("Using Redis room access lists")
		checker = redisChecker
		services["redis"] = redisChecker
	}

	terminals := terminal.NewManager(terminal.Options{
		Shell: cfg.TerminalShell,
		Args:  cfg.TerminalArgs,
	})
	hub := gateway.NewHub(gateway.Deps{
		Rooms:     room.NewRegistry(store),
		Presence:  presence.NewTracker(),
		Terminals: terminals,
		Store:     store,
		Access:    checker,
	}, gateway.Options{
		RoomWaitTimeout:       cfg.RoomWaitTimeout,
		EnforceEditPermission: cfg.EnforceEditPermission,
		EventsPerSecond:       cfg.EventsPerSecond,
		EventBurst:            cfg.EventBurst,
		SendBuffer:            cfg.SendBuffer,
		TerminalWorkDir:       cfg.TerminalWorkDir,
	})
	go hub.RunPresenceSweep(ctx, cfg.PresenceSweepInterval, cfg.PresenceIdleAfter)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.NewRouter(hub, services),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Collaboration server listening on %s", cfg.Addr)
		log.Printf("WebSocket endpoint: ws://localhost%s/ws", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			hub.Shutdown()
			return err
		}
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	hub.Shutdown()
	return nil
}
