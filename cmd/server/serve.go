package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Agora/internal/adapters/http"
	"github.com/dkeye/Agora/internal/app"
	"github.com/dkeye/Agora/internal/app/orch"
	"github.com/dkeye/Agora/internal/auth"
	"github.com/dkeye/Agora/internal/config"
	"github.com/dkeye/Agora/internal/core"
	"github.com/dkeye/Agora/internal/domain"
	"github.com/dkeye/Agora/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	accounts, err := cfg.Directory.DomainAccounts()
	if err != nil {
		return err
	}
	dir := store.NewMemoryDirectory(accounts)

	messages, moderation, closeStores, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStores()

	policy, err := app.PolicyByName(cfg.Backpressure)
	if err != nil {
		return err
	}

	o := orch.New(orch.Deps{
		Presence:   app.NewRegistry(),
		Rooms:      core.NewRoomManager(),
		Policy:     policy,
		Limiter:    app.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		Directory:  dir,
		Messages:   messages,
		Moderation: moderation,
		Limits: orch.Limits{
			MaxContentLen:  cfg.Chat.MaxContentLen,
			MaxAttachments: cfg.Chat.MaxAttachments,
		},
	})
	for _, s := range cfg.Sessions {
		if err := o.DeclareSession(domain.SessionID(s.ID), domain.CommunityID(s.CommunityID)); err != nil {
			return fmt.Errorf("declare session %s: %w", s.ID, err)
		}
	}

	authn := auth.New(auth.Config{
		Secret:         cfg.Auth.JWTSecret,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		Leeway:         cfg.Auth.Leeway,
	}, dir)

	r := router.SetupRouter(ctx, cfg, o, authn)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Agora server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}

func openStores(ctx context.Context, cfg config.StoreConfig) (store.MessageStore, store.ModerationStore, func(), error) {
	var opts []store.StoreOption
	var client *redis.Client
	if store.StoreType(cfg.Driver) == store.StoreTypeRedis {
		client = store.NewRedisClient(cfg.RedisAddr, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, store.WithRedisClient(client), store.WithRedisTTL(cfg.RedisTTL))
	}
	closeClient := func() {
		if client != nil {
			_ = client.Close()
		}
	}
	messages, err := store.NewMessageStore(store.StoreType(cfg.Driver), opts...)
	if err != nil {
		closeClient()
		return nil, nil, nil, fmt.Errorf("message store: %w", err)
	}
	moderation, err := store.NewModerationStore(store.StoreType(cfg.Driver), opts...)
	if err != nil {
		closeClient()
		return nil, nil, nil, fmt.Errorf("moderation store: %w", err)
	}
	log.Info().Str("module", "store").Str("driver", cfg.Driver).Msg("stores ready")
	return messages, moderation, func() {
		_ = messages.Close()
		_ = moderation.Close()
		closeClient()
	}, nil
}
