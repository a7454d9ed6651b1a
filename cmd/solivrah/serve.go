package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/H4MSA/solivrah/client"
	"github.com/H4MSA/solivrah/internal/ai"
	"github.com/H4MSA/solivrah/internal/auth"
	"github.com/H4MSA/solivrah/internal/config"
	"github.com/H4MSA/solivrah/internal/server"
	"github.com/H4MSA/solivrah/internal/storage/sqlite"
	"github.com/H4MSA/solivrah/pkg/embedded"
)

func buildBackend(ctx context.Context, cfg *config.Config) (ai.Backend, error) {
	switch cfg.AI.Backend {
	case "anthropic":
		return ai.NewAnthropicBackend(ctx, cfg.AI.Anthropic())
	case "remote":
		return client.New(cfg.Device.ServerURL, client.WithAPIKey(cfg.Device.APIKey)), nil
	default:
		return ai.Offline(), nil
	}
}

func openSQLite(path string) (*sqlite.ResilientStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}
	return sqlite.NewResilient(st), nil
}

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if cfg.AI.Backend == "remote" {
				return fmt.Errorf("serve: ai.backend remote would call this server; use anthropic or offline")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	keyring, err := auth.LoadKeyring(cfg.Server.KeysFile)
	if err != nil {
		return fmt.Errorf("auth init failed: %w", err)
	}
	backend, err := buildBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ai init failed: %w", err)
	}
	emb, err := embedded.New(embedded.Config{
		DBPath:  cfg.Server.DBPath,
		Backend: backend,
		AIOptions: []ai.Option{
			ai.WithRetry(cfg.AI.Attempts, cfg.AI.BaseDelay),
			ai.WithFailOpen(cfg.AI.FailOpen),
		},
		Keyring: keyring,
	})
	if err != nil {
		return fmt.Errorf("store init failed: %w", err)
	}
	defer emb.Stop()

	srv, err := server.New(server.Config{Addr: cfg.Server.Addr, SocketPath: cfg.Server.Socket, Handler: emb.Handler()})
	if err != nil {
		return fmt.Errorf("server init failed: %w", err)
	}
	log.Printf("serve: %d users with api keys, localhost bypass %v, ai backend %s",
		len(keyring.Users()), keyring.AllowLocalhostWithoutAuth, cfg.AI.Backend)
	return srv.Run(ctx)
}
