package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	StoreDriver          string
	LogLevel             string
	LogFormat            string
	Location             *time.Location
	RecentCalledLimit    int
	SLAScanInterval      time.Duration
	SLADedupWindow       time.Duration
	NoShowGrace          time.Duration
	NoShowInterval       time.Duration
	NoShowBatchSize      int
	RealtimePollInterval time.Duration
	RealtimeBatchSize    int
	OutboxRetention      time.Duration
	KafkaBrokers         []string
	KafkaTopic           string
	RateLimitPerMinute   int
	RateLimitBurst       int
	SessionTTL           time.Duration
	OTLPEndpoint         string
	OTLPInsecure         bool
	TraceSampleRatio     float64
}

// Load reads the configuration from the environment, after merging a .env
// file from the working directory when there is one. Variables already set
// win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	tz := readString("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("TIMEZONE %q: %w", tz, err)
	}

	cfg := Config{
		Port:                 port,
		DatabaseURL:          os.Getenv("DB_DSN"),
		StoreDriver:          readString("STORE_DRIVER", DriverPostgres),
		LogLevel:             readString("LOG_LEVEL", "info"),
		LogFormat:            readString("LOG_FORMAT", "text"),
		Location:             loc,
		RecentCalledLimit:    readInt("RECENT_CALLED_LIMIT", 5),
		SLAScanInterval:      readDurationSeconds("SLA_SCAN_SECONDS", 30),
		SLADedupWindow:       readDurationSeconds("SLA_DEDUP_SECONDS", 300),
		NoShowGrace:          readDurationSeconds("NO_SHOW_GRACE_SECONDS", 0),
		NoShowInterval:       readDurationSeconds("NO_SHOW_SCAN_SECONDS", 30),
		NoShowBatchSize:      readInt("NO_SHOW_BATCH_SIZE", 100),
		RealtimePollInterval: time.Duration(readInt("REALTIME_POLL_MILLIS", 500)) * time.Millisecond,
		RealtimeBatchSize:    readInt("REALTIME_BATCH_SIZE", 100),
		OutboxRetention:      time.Duration(readInt("OUTBOX_RETENTION_HOURS", 24)) * time.Hour,
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           readString("KAFKA_TOPIC", "qms.events"),
		RateLimitPerMinute:   readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:       readInt("RATE_LIMIT_BURST", 30),
		SessionTTL:           time.Duration(readInt("SESSION_TTL_HOURS", 8)) * time.Hour,
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:         os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		TraceSampleRatio:     readFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DB_DSN is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RecentCalledLimit <= 0 {
		return errors.New("RECENT_CALLED_LIMIT must be positive")
	}
	if c.RealtimePollInterval <= 0 {
		return errors.New("REALTIME_POLL_MILLIS must be positive")
	}
	return nil
}

func readString(key, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		return raw
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || value > 1 {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
