package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"slate/api/internal/app"
	"slate/api/internal/assets"
	"slate/api/internal/authpw"
	"slate/api/internal/authz"
	"slate/api/internal/config"
	"slate/api/internal/email"
	"slate/api/internal/export"
	"slate/api/internal/invite"
	"slate/api/internal/progress"
	"slate/api/internal/search"
	"slate/api/internal/session"
	"slate/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	authzService := authz.New(dataStore)
	progressService := progress.New(dataStore)
	exportService := export.NewService(dataStore)
	authpwService := authpw.NewService(dataStore)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	inviteService := invite.New(dataStore, authzService, mailer, cfg.AppBaseURL, cfg.InviteExpiryDays, cfg.EmailTimeout)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		searchService.ReindexAllFromPG(ctx)
	}

	deps := app.Deps{
		Store:    dataStore,
		Sessions: dataStore,
		Authz:    authzService,
		Invites:  inviteService,
		Progress: progressService,
		Search:   searchService,
		Exporter: exportService,
		AuthPW:   authpwService,
		Mailer:   mailer,
	}

	// Redis is the preferred refresh-token backend; Postgres serves
	// when REDIS_URL is empty.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	if strings.TrimSpace(cfg.S3AccessKey) != "" {
		assetStore, err := assets.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
		if err := assetStore.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: bucket check failed (uploads may fail): %v", err)
		}
		deps.Assets = assetStore
	} else {
		log.Printf("Object storage not configured; asset uploads disabled")
	}

	service := app.NewService(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Slate API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
