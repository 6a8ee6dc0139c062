package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sqldesk/sqldesk/pkg/api"
	"github.com/sqldesk/sqldesk/pkg/assistant"
	"github.com/sqldesk/sqldesk/pkg/auth"
	"github.com/sqldesk/sqldesk/pkg/budget"
	"github.com/sqldesk/sqldesk/pkg/cache"
	"github.com/sqldesk/sqldesk/pkg/cache/memory"
	"github.com/sqldesk/sqldesk/pkg/cache/rediscache"
	"github.com/sqldesk/sqldesk/pkg/config"
	"github.com/sqldesk/sqldesk/pkg/history"
	"github.com/sqldesk/sqldesk/pkg/llm"
	"github.com/sqldesk/sqldesk/pkg/logx"
	"github.com/sqldesk/sqldesk/pkg/usage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sqldesk API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.UI.Version = version

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conv, err := openConversationCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer conv.Close()

			strategy, err := auth.FromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init auth: %w", err)
			}
			if sa, ok := strategy.(*auth.SessionAuth); ok {
				defer sa.Close()
				go purgeSessions(ctx, sa)
			}

			hist, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer hist.Close()

			tr, err := usage.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("init usage tracker: %w", err)
			}
			defer tr.Close()

			llmOpts := llm.Options{Tracker: tr}
			if cfg.PromptCache.Enabled {
				pc, err := openReplyCache(cfg)
				if err != nil {
					return err
				}
				defer pc.Close()
				llmOpts.Cache = pc
			}
			if cfg.Budget.Enabled {
				llmOpts.Enforcer = budget.New(cfg.Budget.Policies, tr)
			}
			client, err := llm.New(cfg.LLM, llmOpts)
			if err != nil {
				return fmt.Errorf("init llm client: %w", err)
			}

			store, err := assistant.OpenStore(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			var data *assistant.DataSource
			if cfg.DataSource.DSN != "" {
				data, err = assistant.OpenDataSource(cfg.DataSource.Driver, cfg.DataSource.DSN)
				if err != nil {
					return err
				}
				defer data.Close()
			} else {
				logx.Warn().Msg("no data_source.dsn configured, SQL cannot be run")
			}

			var hub *api.LogHub
			aopts := assistant.Options{
				Completer:       client,
				Store:           store,
				Data:            data,
				Dialect:         cfg.LLM.Dialect,
				MaxContextItems: cfg.LLM.MaxContextItems,
			}
			if cfg.Debug {
				hub = api.NewLogHub()
				aopts.Log = hub.Broadcast
			}
			backend, err := assistant.New(aopts)
			if err != nil {
				return err
			}

			srv, err := api.New(api.Deps{
				Config:  cfg,
				Cache:   conv,
				Auth:    strategy,
				History: hist,
				Backend: backend,
				Hub:     hub,
			})
			if err != nil {
				return err
			}

			logx.Info().
				Str("config", configPath).
				Str("cache", cfg.Cache.Backend).
				Str("auth", cfg.Auth.Strategy).
				Str("history", cfg.History.Driver).
				Msg("starting sqldesk")
			return srv.ListenAndServe(ctx)
		},
	}
}

func openConversationCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		rdb, err := rediscache.Dial(ctx, cfg.Cache.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		return rediscache.New(rdb, cfg.Cache.IdleTTL), nil
	}
	c, err := memory.New(cfg.Cache.Capacity, cfg.Cache.IdleTTL)
	if err != nil {
		return nil, fmt.Errorf("init memory cache: %w", err)
	}
	return c, nil
}

func openHistory(cfg *config.Config) (*history.SQLStore, error) {
	s, err := history.New(cfg.History.Driver, cfg.HistoryDSN(), history.Options{
		RetryAttempts: cfg.History.RetryAttempts,
		RetryBackoff:  cfg.History.RetryBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}
	return s, nil
}

func purgeSessions(ctx context.Context, sa *auth.SessionAuth) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sa.PurgeExpired(ctx)
			if err != nil {
				logx.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if n > 0 {
				logx.Debug().Int64("sessions", n).Msg("purged expired sessions")
			}
		}
	}
}
