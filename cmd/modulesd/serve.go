package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/modular_accounts/internal/chain"
	"github.com/R3E-Network/modular_accounts/internal/config"
	apperrors "github.com/R3E-Network/modular_accounts/internal/errors"
	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/internal/fallback"
	"github.com/R3E-Network/modular_accounts/internal/httpapi"
	"github.com/R3E-Network/modular_accounts/internal/metrics"
	"github.com/R3E-Network/modular_accounts/internal/middleware"
	"github.com/R3E-Network/modular_accounts/internal/modules"
	"github.com/R3E-Network/modular_accounts/internal/runtime"
	"github.com/R3E-Network/modular_accounts/internal/state"
	"github.com/R3E-Network/modular_accounts/internal/storage/postgres"
	"github.com/R3E-Network/modular_accounts/internal/types"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var accounts []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.cfgFile, root.envFiles...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, accounts)
		},
	}
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "deploy account code at these addresses (hex or Neo address)")
	return cmd
}

// stack is everything serve wires together.
type stack struct {
	log     *logger.Logger
	metrics *metrics.Collector
	events  *events.RingBuffer
	store   *state.Store
	env     *runtime.Env
	pg      *postgres.Store
}

func (s *stack) Close() {
	if s.pg != nil {
		if err := s.pg.Close(); err != nil {
			s.log.WithError(err).Warn("close postgres")
		}
	}
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := logger.New("modulesd", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	var pg *postgres.Store
	if cfg.Storage.PostgresDSN != "" {
		var err error
		pg, err = postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.Table, postgres.WithLogger(log))
		if err != nil {
			return nil, err
		}
	}
	return assembleStack(ctx, cfg, log, pg)
}

// assembleStack wires the runtime over pg, which may be nil for an in-memory
// registry. The stack owns pg from here on.
func assembleStack(ctx context.Context, cfg *config.Config, log *logger.Logger, pg *postgres.Store) (*stack, error) {
	s := &stack{
		log:     log,
		metrics: metrics.NewCollector(""),
		events:  events.NewRingBuffer(cfg.Events.BufferSize),
		pg:      pg,
	}

	var storeOpts []state.Option
	if s.pg != nil {
		if err := s.pg.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		storeOpts = append(storeOpts, state.WithPersister(s.pg))
	}
	s.store = state.NewStore(storeOpts...)
	if s.pg != nil {
		if err := s.pg.Restore(ctx, s.store); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.env = runtime.NewEnv(s.store, runtime.EnvOptions{
		Host: []runtime.Option{runtime.WithLogger(s.log)},
		Manager: []modules.Option{
			modules.WithLogger(s.log),
			modules.WithMetrics(s.metrics),
			modules.WithEvents(s.events),
			modules.WithRequireValidator(cfg.Registry.RequireValidator),
		},
		Dispatch: []fallback.Option{
			fallback.WithLogger(s.log),
			fallback.WithMetrics(s.metrics),
			fallback.WithEvents(s.events),
		},
	})

	if cfg.Chain.RPCURL != "" {
		client, err := chain.NewClient(chain.Config{
			RPCURL:    cfg.Chain.RPCURL,
			NetworkID: cfg.Chain.NetworkID,
			Timeout:   cfg.Chain.Timeout,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.env.Manager.SetExecutor(chain.NewExecutor(client, chain.WithExecutorLogger(s.log)))
		entry := s.log.WithField("rpc", cfg.Chain.RPCURL)
		if height, err := client.GetBlockCount(ctx); err != nil {
			entry.WithError(err).Warn("node unreachable, hooks fail until it answers")
		} else {
			entry.WithField("height", height).Info("module hooks run on chain")
		}
	}
	return s, nil
}

// deployAccounts puts account code at every address. Accounts restored from
// storage are already initialized and only get their code back.
func (s *stack) deployAccounts(ctx context.Context, raw []string) error {
	for _, r := range raw {
		addr, err := types.ParseAddress(r)
		if err != nil {
			return fmt.Errorf("account: %w", err)
		}
		err = s.env.DeployAccount(ctx, addr)
		switch {
		case errors.Is(err, apperrors.ErrInitializer):
			s.env.Host.Deploy(addr, s.env.Account)
		case err != nil:
			return fmt.Errorf("deploy %s: %w", types.HexAddress(addr), err)
		}
	}
	return nil
}

func (s *stack) handler(cfg *config.Config) (http.Handler, *middleware.RateLimiter) {
	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, s.log)
	}
	return httpapi.NewHandler(s.env.Manager, httpapi.Options{
		MaxPageSize: cfg.HTTP.MaxPageSize,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Metrics:     s.metrics,
		Events:      s.events,
		Logger:      s.log,
		RateLimiter: limiter,
		Transactor:  s.env.Host,
	}), limiter
}

func serve(ctx context.Context, cfg *config.Config, accounts []string) error {
	s, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.deployAccounts(ctx, accounts); err != nil {
		return err
	}

	h, limiter := s.handler(cfg)
	if limiter != nil {
		limiter.StartCleanup(ctx, 5*time.Minute)
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", cfg.HTTP.Addr).Info("modulesd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
