package sigengine

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Source modes for market events.
const (
	SourceRedis  = "redis"  // Redis Streams consumer group
	SourceWS     = "ws"     // WebSocket feed
	SourceReplay = "replay" // JSON-lines file replay
)

// Config holds all env-parsed configuration for the signal engine service.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string

	SourceMode    string
	MarketStreams []string // redis mode
	ConsumerGroup string
	ConsumerName  string
	WSURL         string   // ws mode
	WSSymbols     []string // ws mode
	ReplayPath    string   // replay mode
	ReplaySpeed   float64

	HTTPAddr    string // admin API
	MetricsAddr string // /metrics + /healthz

	Workers        int
	Concurrency    int
	ComputeTimeout time.Duration
	HistorySize    int
	QueueSize      int

	BufferMin    int
	BufferMax    int
	BufferMargin float64

	SweepInterval time.Duration
	SweepTTL      time.Duration

	StrategiesPath string
}

// LoadConfig reads all environment variables and returns a Config.
func LoadConfig() Config {
	return Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/variants.db"),

		SourceMode:    getEnv("SOURCE_MODE", SourceRedis),
		MarketStreams: parseList(getEnv("MARKET_STREAMS", "stream:market.events")),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "sigengine"),
		ConsumerName:  getEnv("CONSUMER_NAME", "worker-1"),
		WSURL:         getEnv("WS_URL", "ws://localhost:9001/ws"),
		WSSymbols:     parseList(getEnv("WS_SYMBOLS", "")),
		ReplayPath:    getEnv("REPLAY_PATH", "data/events.jsonl"),
		ReplaySpeed:   getEnvFloat("REPLAY_SPEED", 0),

		HTTPAddr:    getEnv("SIGENGINE_HTTP_ADDR", ":9095"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		Workers:        getEnvInt("ENGINE_WORKERS", 4),
		Concurrency:    getEnvInt("COMPUTE_CONCURRENCY", 12),
		ComputeTimeout: time.Duration(getEnvInt("COMPUTE_TIMEOUT_MS", 500)) * time.Millisecond,
		HistorySize:    getEnvInt("VALUE_HISTORY_SIZE", 256),
		QueueSize:      getEnvInt("WORKER_QUEUE_SIZE", 2048),

		BufferMin:    getEnvInt("BUFFER_MIN_SIZE", 100),
		BufferMax:    getEnvInt("BUFFER_MAX_SIZE", 10000),
		BufferMargin: getEnvFloat("BUFFER_MARGIN", 1.2),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SEC", 300)) * time.Second,
		SweepTTL:      time.Duration(getEnvInt("SWEEP_TTL_SEC", 600)) * time.Second,

		StrategiesPath: getEnv("STRATEGIES_PATH", ""),
	}
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[sigengine] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[sigengine] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
