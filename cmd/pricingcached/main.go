// Command pricingcached runs the pricing cache service: the HTTP service
// boundary in front of the coalescing cache described across this module.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Krishna8167/pricingcache/internal/breaker"
	"github.com/Krishna8167/pricingcache/internal/coalesce"
	"github.com/Krishna8167/pricingcache/internal/config"
	"github.com/Krishna8167/pricingcache/internal/httpapi"
	"github.com/Krishna8167/pricingcache/internal/kvstore/redisstore"
	"github.com/Krishna8167/pricingcache/internal/localcache"
	"github.com/Krishna8167/pricingcache/internal/lock"
	"github.com/Krishna8167/pricingcache/internal/pricing"
	"github.com/Krishna8167/pricingcache/internal/pricingapi"
)

func main() {
	root := &cobra.Command{
		Use:   "pricingcached",
		Short: "Coalescing pricing cache service",
		RunE:  runServe,
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	store := redisstore.New(redisClient, log)

	var l1 *localcache.Cache
	if cfg.L1Enabled {
		l1 = localcache.New(
			localcache.WithMaxEntries(cfg.L1MaxEntries),
			localcache.WithCleanupInterval(time.Minute),
		)
		defer l1.Stop()
	}

	cache := coalesce.New(store, coalesce.Options{
		FreshTTL:        cfg.FreshTTL,
		StaleTTL:        cfg.StaleTTL,
		FollowerTimeout: cfg.FollowerTimeout,
		MaxRetries:      cfg.MaxFollowerRetries,
		BackoffBase:     cfg.FollowerBackoffBase,
		APITimeout:      cfg.UpstreamTimeout,
		Lock: lock.Options{
			TTL:         cfg.LockTTL,
			ExtendEvery: cfg.LockExtendEvery,
			Log:         log,
		},
		Breaker: breaker.Options{
			Threshold: cfg.BreakerThreshold,
			Timeout:   cfg.BreakerTimeout,
		},
		L1:  l1,
		Log: log,
	})

	client := pricingapi.New(cfg.RateAPIURL, cfg.APIToken, cfg.UpstreamRPS, cfg.UpstreamBurst)
	facade := pricing.New(cache, client)
	router := httpapi.New(facade, store, log)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.Engine(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("pricingcached: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("pricingcached: shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
