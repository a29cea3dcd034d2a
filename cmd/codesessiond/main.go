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

	"codesession/internal/archive"
	"codesession/internal/config"
	"codesession/internal/engine"
	"codesession/internal/relay"
	"codesession/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config failed: %v", err)
	}
	ctx := context.Background()

	var archiver archive.Archiver
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Using PostgreSQL snapshot archive")
		pg, err := archive.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		archiver = pg
	} else {
		log.Printf("Using git snapshot archive at %s", cfg.ArchiveDir)
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		archiver = archive.NewGitStore(cfg.ArchiveDir)
	}
	defer archiver.Close()

	var eventRelay engine.Relay
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Relaying session events to redis")
		redisRelay, err := relay.NewRedisRelay(cfg.RedisURL, 0)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisRelay.Close()
		eventRelay = redisRelay
	}

	eng := engine.New(engine.Options{
		GracePeriod:            cfg.GracePeriod,
		IdleGrace:              cfg.IdleGrace,
		QueueWait:              cfg.QueueWait,
		DefaultMaxParticipants: cfg.MaxParticipants,
		ChatTail:               cfg.ChatTail,
		SendBuffer:             cfg.SendBuffer,
		AutosaveInterval:       cfg.AutosaveInterval,
		Archiver:               archiver,
		Relay:                  eventRelay,
	})

	wsServer := ws.NewServer(eng)
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: wsServer.Handler(),
		// No Read/Write timeouts: WebSocket connections are long-lived and
		// manage their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("codesessiond listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	eng.Shutdown("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
