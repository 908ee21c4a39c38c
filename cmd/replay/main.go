// Command replay feeds a recorded JSON-lines event file into the Redis
// market stream, where the signal engine consumes it like a live feed.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/marketdata/replay"
	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[replay] no .env file, using environment")
	}

	cfg := config.Load()

	replayer, err := replay.New(replay.Config{
		Path:  cfg.ReplayPath,
		Speed: cfg.ReplaySpeed,
		Loop:  cfg.ReplayLoop,
	})
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("[replay] redis ping: %v", err)
	}
	pingCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	eventCh := make(chan model.MarketEvent, 1024)
	go func() {
		defer close(eventCh)
		if err := replayer.Run(ctx, eventCh); err != nil && ctx.Err() == nil {
			log.Printf("[replay] run error: %v", err)
		}
	}()

	written := 0
	for ev := range eventCh {
		err := client.XAdd(ctx, &goredis.XAddArgs{
			Stream: cfg.MarketStream,
			Values: map[string]interface{}{"data": string(ev.JSON())},
		}).Err()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("[replay] xadd error: %v", err)
			continue
		}
		written++
	}

	log.Printf("[replay] done, wrote %d events to %s", written, cfg.MarketStream)
	client.Close()
}
