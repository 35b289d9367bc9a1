// Command server runs the Pegasus chat backend HTTP API.
//
// @title                      Pegasus API
// @version                    1.0
// @description                Chat backend: text generation, web search, investigations and image generation with per-role quotas.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/genproxy"
	httpapi "github.com/tbourn/pegasus-backend/internal/http"
	"github.com/tbourn/pegasus-backend/internal/investigation"
	"github.com/tbourn/pegasus-backend/internal/observability"
	"github.com/tbourn/pegasus-backend/internal/quota"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const (
	shutdownTimeout = 15 * time.Second
	tokenPurgeEvery = time.Hour
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger(os.Stderr, "error", false, "pegasus-backend")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server exited gracefully")
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	genClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GenAI.APIKey))
	if err != nil {
		return err
	}
	defer genClient.Close()

	provider := &auth.Provider{
		DB:         db,
		Secret:     []byte(cfg.Auth.JWTSecret),
		TTL:        cfg.Auth.TokenTTL,
		OwnerEmail: cfg.Auth.OwnerEmail,
	}
	unsubscribe := provider.Subscribe(func(ev auth.Event) {
		e := log.Info().Str("event", string(ev.Kind)).Str("uid", ev.UID)
		if ev.User != nil {
			e = e.Str("role", string(ev.User.Role))
		}
		e.Msg("auth state changed")
	})
	defer unsubscribe()

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:           db,
		Auth:         provider,
		Gen:          genproxy.NewGemini(genClient, cfg.GenAI, genproxy.MockSearchTool{}),
		Investigator: investigation.New(cfg.Investigation),
		Quota:        quota.NewGate(quota.NewMemoryCounter()),
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.APIBasePath).
			Str("version", ver).
			Bool("swagger", cfg.SwaggerEnabled).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(tokenPurgeEvery)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				n, err := repo.PurgeExpiredTokens(gctx, db, now.UTC())
				if err != nil {
					log.Warn().Err(err).Msg("purge revoked tokens")
					continue
				}
				log.Debug().Int64("purged", n).Msg("revoked tokens purged")
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
