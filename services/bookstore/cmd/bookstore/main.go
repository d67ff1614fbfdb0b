package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bookstore/internal/ratelimit"
	"bookstore/internal/util"
	"bookstore/services/bookstore/internal/app"
	"bookstore/services/bookstore/internal/config"
	"bookstore/services/bookstore/internal/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		SecretKey:      cfg.SecretKey,
		Algorithm:      cfg.Algorithm,
		TokenTTL:       cfg.AccessTokenTTL(),
		ImageDir:       cfg.ImageDir,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		ImageURLExpiry: cfg.ImageURLExpiry(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedis(cfg.RedisAddr, cfg.RedisPassword, "bookstore:ratelimit")
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	imageRoot := ""
	switch {
	case !cfg.ImageStorageEnabled():
		logger.Warn("cover uploads disabled; set imageDir or minioEndpoint to enable them")
	case cfg.MinioEndpoint == "":
		imageRoot = cfg.ImageDir
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		LoginRule:      ratelimit.Rule{Limit: cfg.LoginRateLimitPerMinute, Window: time.Minute},
		RegisterRule:   ratelimit.Rule{Limit: cfg.RegisterRateLimitPerMinute, Window: time.Minute},
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		ImageBaseURL:   cfg.ImageBaseURL,
		ImageRoot:      imageRoot,
		MaxImageBytes:  cfg.MaxImageBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("server stopped")
}
