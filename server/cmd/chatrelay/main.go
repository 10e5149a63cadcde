package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"chat-relay/server/internal/api"
	"chat-relay/server/internal/config"
	"chat-relay/server/internal/llm"
	"chat-relay/server/internal/logging"
	"chat-relay/server/internal/relay"
	"chat-relay/server/internal/session"
	"chat-relay/server/internal/timeline"
)

func main() {
	// 配置文件可选；凭证优先走环境变量（LLM_API_KEY / OPENAI_API_KEY / ANTHROPIC_API_KEY）。
	configPath := flag.String("config", "", "config file path (yaml)")
	addr := flag.String("addr", "", "http listen address, overrides server.host/server.port")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()

	store, closeStore, err := openStore(cfg.Session)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm client: %w", err)
	}

	events := timeline.NewInMemoryStore()
	chatRelay := relay.New(store, events, client, time.Now)

	server, err := api.NewServer(cfg, chatRelay)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Session.TTL > 0 {
		sweeper, err := session.NewSweeper(store, cfg.Session.TTL, cfg.Session.SweepSchedule, chatRelay.Expire)
		if err != nil {
			return fmt.Errorf("init sweeper: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(next *config.Config) {
				server.SetAllowedOrigins(next.Server.CORS.AllowedOrigins)
				logging.SetLevel(next.Logging.Level)
				log.Info().
					Strs("allowed_origins", next.Server.CORS.AllowedOrigins).
					Str("log_level", next.Logging.Level).
					Msg("applied reloaded config")
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	if addr == "" {
		addr = cfg.Server.Addr()
	}
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("provider", cfg.LLM.Provider).
			Str("session_backend", cfg.Session.Backend).
			Msg("chat relay listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}

// openStore 按配置选择会话存储，返回的 close 函数总是可调用。
func openStore(cfg config.SessionConfig) (session.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := session.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("close sqlite store failed")
			}
		}, nil
	default:
		return session.NewInMemoryStore(), func() {}, nil
	}
}
