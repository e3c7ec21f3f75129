// Package main provides the entry point for the API server.
package main

import (
	"context"
	"os"
	"time"

	"github.com/narvanalabs/keyrelay/internal/api"
	"github.com/narvanalabs/keyrelay/internal/auth"
	"github.com/narvanalabs/keyrelay/internal/mailer"
	"github.com/narvanalabs/keyrelay/internal/ratelimit"
	"github.com/narvanalabs/keyrelay/internal/shutdown"
	"github.com/narvanalabs/keyrelay/internal/store/sqlstore"
	"github.com/narvanalabs/keyrelay/pkg/config"
	"github.com/narvanalabs/keyrelay/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.ParseLevel(cfg.Log.Level), cfg.Log.JSON)

	// Initialize credential store
	store, err := sqlstore.Open(sqlstore.DefaultConfig(cfg.Database.Driver, cfg.Database.DSN), log.WithComponent("store").Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}

	// Components are stopped in reverse registration order.
	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.WithComponent("shutdown").Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("store", store))

	// Initialize auth services
	tokens := auth.NewTokenService(&auth.TokenConfig{
		Secret: []byte(cfg.Auth.Secret),
		TTL:    cfg.Auth.TokenTTL,
	}, log.WithComponent("tokens").Logger)
	credentials := auth.NewCredentialService(store, auth.NewHasher(cfg.Auth.BcryptCost), tokens, log.WithComponent("credentials").Logger)

	// Initialize the mail relay
	var sender mailer.Sender
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Sender:   cfg.SMTP.Sender,
			Password: cfg.SMTP.Password,
		}, log.WithComponent("mailer").Logger)
	} else {
		log.Warn("SMTP_HOST not set, outbound email will be logged and dropped")
		sender = mailer.NewLogSender(log.WithComponent("mailer").Logger)
	}

	// Initialize the login rate limiter
	var limiter ratelimit.Limiter
	var redisLimiter *ratelimit.RedisLimiter
	if cfg.Redis.Addr != "" {
		redisLimiter, err = ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("failed to configure redis rate limiter", "error", err)
			os.Exit(1)
		}
		coordinator.Register(shutdown.NewCloserComponent("redis", redisLimiter))
		limiter = redisLimiter
	} else {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{})
	}

	// Create the API server
	server, err := api.NewServer(cfg, api.Dependencies{
		Store:       store,
		Tokens:      tokens,
		Admin:       auth.NewAdminGate(cfg.Auth.AdminKey),
		Credentials: credentials,
		Mailer:      sender,
		Limiter:     limiter,
	}, log.Logger)
	if err != nil {
		log.Error("failed to create API server", "error", err)
		os.Exit(1)
	}
	if redisLimiter != nil {
		server.HealthChecker().AddComponent("redis", redisLimiter, false)
	}

	coordinator.Register(shutdown.NewFuncComponent("api", server.Shutdown))

	log.Info("starting API server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
		"env", cfg.Env,
		"database", cfg.Database.Driver,
		"rate_limit", cfg.RateLimit.Requests,
	)

	// A listener failure cancels ctx so the coordinator still releases the
	// store and redis client.
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	serveErr := make(chan error, 1)
	go func() {
		err := server.Start(context.Background())
		if err != nil {
			log.Error("server error", "error", err)
			cancel(err)
		}
		serveErr <- err
	}()

	coordinator.WaitForSignal(ctx)
	coordinator.Wait()

	code := coordinator.ExitCode()
	if err := <-serveErr; err != nil {
		code = 1
	}

	// Give time for in-flight logs to flush
	time.Sleep(100 * time.Millisecond)
	log.Info("server stopped", "exit_code", code)
	os.Exit(code)
}
