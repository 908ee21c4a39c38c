package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"signal-systemv1/internal/sigengine"

	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Printf("[sigengine] no .env file, using environment")
	}

	cfg := sigengine.LoadConfig()
	log.Printf("[sigengine] source=%s redis=%s sqlite=%s", cfg.SourceMode, cfg.RedisAddr, cfg.SQLitePath)

	svc, err := sigengine.New(cfg)
	if err != nil {
		log.Fatalf("[sigengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[sigengine] fatal: %v", err)
	}
}
