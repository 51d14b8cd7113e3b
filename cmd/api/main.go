package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	app "github.com/mark3748/intranet-portal/cmd/api/app"
	"github.com/mark3748/intranet-portal/cmd/api/auth"
	"github.com/mark3748/intranet-portal/cmd/api/migrations"
	"github.com/mark3748/intranet-portal/cmd/api/ws"
	"github.com/mark3748/intranet-portal/internal/audit"
	"github.com/mark3748/intranet-portal/internal/lifecycle"
	"github.com/mark3748/intranet-portal/internal/ratelimit"
	"github.com/mark3748/intranet-portal/internal/s3"
	"github.com/mark3748/intranet-portal/internal/sla"
	"github.com/mark3748/intranet-portal/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := app.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	var keyf jwt.Keyfunc
	if cfg.JWKSURL != "" {
		keyf, err = jwksKeyfunc(ctx, cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second}, 10*time.Minute)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("fetch jwks")
		}
	}

	var mc *minio.Client
	if cfg.MinIOEndpoint != "" {
		mc, err = minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
			Secure: cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio init")
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	var d deps
	var objects app.ObjectStore
	switch {
	case mc != nil:
		objects = mc
		d.Presigner = s3.Service{Client: mc, Bucket: cfg.MinIOBucket}
	case cfg.FileStorePath != "":
		if err := os.MkdirAll(cfg.FileStorePath, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.FileStorePath).Msg("create filestore path")
		}
		objects = &app.FsObjectStore{Base: cfg.FileStorePath}
	}

	if cfg.AuthMode == "local" && cfg.Env == "dev" {
		if err := auth.SeedLocalAdmin(ctx, pool, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("seed local admin")
		}
	}

	st := store.New(pool)
	sink := audit.NewPGSink(pool)
	a := app.NewApp(cfg, pool, keyf, objects, rdb)
	a.Audit = sink
	a.Svc = &lifecycle.Service{
		Store:        st,
		Directory:    st,
		Due:          sla.Resolver{DB: pool, Calendar: sla.DefaultCalendar()},
		Approvers:    lifecycle.NewResolvers(st),
		Audit:        sink,
		Events:       ws.Publisher{RDB: rdb},
		TargetSector: cfg.HelpdeskTargetSector,
	}
	d.Categories = st
	if rdb != nil {
		d.Hub = ws.NewHub(rdb)
		go d.Hub.Run(ctx)
		d.Login = ratelimit.New(rdb, cfg.LoginRateLimit, cfg.LoginRateWindow, "login:")
		d.Uploads = ratelimit.New(rdb, cfg.UploadRateLimit, time.Hour, "uploads:")
	}
	routes(a, d)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}
