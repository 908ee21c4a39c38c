// Package config holds the shared infrastructure configuration used by the
// auxiliary commands. The service itself parses its richer config in
// internal/sigengine.
package config

import (
	"os"
	"strconv"
)

// Config holds infrastructure settings loaded from environment variables.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Stream the replay feeder writes market events to.
	MarketStream string

	// Replay input file and playback speed (0 = as fast as possible).
	ReplayPath  string
	ReplaySpeed float64
	ReplayLoop  bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		MarketStream: getEnv("MARKET_STREAM", "stream:market.events"),

		ReplayPath:  getEnv("REPLAY_PATH", "data/events.jsonl"),
		ReplaySpeed: getFloat("REPLAY_SPEED", 0),
		ReplayLoop:  getEnv("REPLAY_LOOP", "") == "1",
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
