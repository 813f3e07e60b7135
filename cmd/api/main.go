package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"classboard/api/internal/app"
	"classboard/api/internal/archive"
	"classboard/api/internal/broadcast"
	"classboard/api/internal/config"
	"classboard/api/internal/replicate"
	"classboard/api/internal/snapshot"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}

	var mirror snapshot.Mirror
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		s3, err := snapshot.NewS3Mirror(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Fatalf("s3 mirror setup failed: %v", err)
		}
		log.Printf("Mirroring hourly snapshots to s3 bucket %s", cfg.S3Bucket)
		mirror = s3
	}

	store, err := snapshot.NewFileStore(cfg.DataDir, cfg.Location(), mirror)
	if err != nil {
		log.Fatalf("snapshot store setup failed: %v", err)
	}
	if err := store.StartupSnapshot(); err != nil {
		log.Printf("WARNING: startup restore point failed: %v", err)
	}

	var keeper *snapshot.Keeper
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		keeper, err = snapshot.OpenKeeper(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer keeper.Close()
		log.Printf("Keeping a healthy snapshot copy in PostgreSQL")
	}

	archiveDir := cfg.ArchiveDir
	if archiveDir == "" {
		archiveDir = filepath.Join(cfg.DataDir, "sync_archive")
	}
	archiveService := archive.New(archiveDir)

	var broker broadcast.Broker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBroker, err := broadcast.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		broker = redisBroker
		log.Printf("Relaying sync events through Redis")
	} else {
		broker = broadcast.NewHub()
	}
	defer broker.Close()

	forwarder := replicate.NewForwarder(cfg.SyncSharedKey, 0, 0)
	defer forwarder.Close()

	service := app.NewService(cfg, store, keeper, archiveService, forwarder, broker)
	go service.Bootstrap(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout, the event stream stays open for hours
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Classboard sync API listening on %s", cfg.Addr)
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
