package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tagcache"
	"github.com/unkn0wn-root/tagcache/articles"
	"github.com/unkn0wn-root/tagcache/config"
	"github.com/unkn0wn-root/tagcache/contentful"
	asynchook "github.com/unkn0wn-root/tagcache/hooks/async"
	promhooks "github.com/unkn0wn-root/tagcache/hooks/prom"
	tczap "github.com/unkn0wn-root/tagcache/log/zap"
	"github.com/unkn0wn-root/tagcache/webhook"
)

func serveCmd() *cobra.Command {
	var addr, logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long:  "Serve the article API, the revalidation webhook and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTPAddr = addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	zl, err := tczap.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	log := tczap.ZapLogger{L: zl}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = dialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ph, err := promhooks.New(reg, "tagcache")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hooks := asynchook.New(ph, 1, 1024)
	defer hooks.Close()

	var ur redis.UniversalClient
	if rdb != nil {
		ur = rdb
	}
	cache, err := buildCache(ctx, cfg, ur, log, hooks)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	defer cache.Close(context.Background())

	src, err := contentful.New(contentful.Config{
		SpaceID:     cfg.SpaceID,
		AccessToken: cfg.AccessToken,
		Environment: cfg.Environment,
		Host:        cfg.Host,
	})
	if err != nil {
		return err
	}

	views := buildCounter(cfg, log)
	defer views.Close()
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = views.Connect(cctx)
	cancel()
	if err != nil {
		return err
	}
	if !views.Configured() {
		log.Warn("no counter backend configured; serving placeholder view counts", nil)
	}

	var inv webhook.Invalidator = cache
	if rdb != nil && !sharedIndex(cfg) {
		b := webhook.NewBroadcaster(cache, rdb, log)
		go func() {
			if err := b.Listen(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("invalidation broadcast listener stopped", tagcache.Fields{"err": err})
			}
		}()
		inv = b
	}
	if cfg.RevalidateSecret == "" {
		log.Warn("CONTENTFUL_REVALIDATE_SECRET is empty; every webhook call will be rejected", nil)
	}
	gw, err := webhook.New(webhook.Options{
		Secret:      cfg.RevalidateSecret,
		Header:      cfg.RevalidateHeader,
		Invalidator: inv,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	svc := articles.New(cache, src, views, log)
	mux := http.NewServeMux()
	mux.Handle("/api/contentful/revalidate", gw)
	svc.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", tagcache.Fields{"addr": cfg.HTTPAddr, "provider": cfg.Provider, "shared_index": sharedIndex(cfg)})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down", nil)
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
