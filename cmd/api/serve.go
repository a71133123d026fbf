package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kanban/api/internal/app"
	"kanban/api/internal/config"
	"kanban/api/internal/email"
	"kanban/api/internal/events"
	"kanban/api/internal/export"
	"kanban/api/internal/logging"
	"kanban/api/internal/realtime"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
	"kanban/api/internal/webhook"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "Do not apply migrations on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if !skipMigrations {
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "count", len(applied), "latest", applied[len(applied)-1])
		}
	}

	dataStore := store.NewPostgresStore(db)

	hub := realtime.NewHub(log.With("component", "realtime"))
	var publisher realtime.Publisher = hub
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := realtime.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()
		relay := realtime.NewRelay(rdb, hub)
		go func() {
			if err := relay.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime relay stopped", "error", err)
			}
		}()
		publisher = relay
		log.Info("using redis for realtime fan-out")
	}

	dispatcher := webhook.NewDispatcher(dataStore, cfg.WebhookTimeout, log.With("component", "webhook"))
	emitter := events.NewEmitter(publisher, dispatcher, cfg.WebhookTimeout, log.With("component", "events"))

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.With("component", "search"))
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log.With("component", "search"))
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx, pgfts)
	}

	var archive *export.Archive
	if cfg.MinIO.Enabled() {
		archive, err = export.NewMinioArchive(ctx, export.ArchiveConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			LinkTTL:   cfg.MinIO.LinkTTL,
		}, log.With("component", "export"))
		if err != nil {
			// Exports still work as downloads without the archive.
			log.Warn("export archive unavailable", "error", err)
			archive = nil
		}
	}
	exportService := export.NewService(archive, log.With("component", "export"))

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		AppURL:   cfg.AppURL,
	})

	service := app.New(cfg, dataStore, app.Deps{
		Events: emitter,
		Search: searchService,
		Export: exportService,
		Mail:   mailService,
		Log:    log.With("component", "app"),
	})

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, log.With("component", "http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("kanban API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	emitter.Wait()
	return nil
}
