package config

import (
	"log/slog"
	"strconv"
	"strings"

	"os"
)

type Config struct {
	Port                  string
	LogLevel              string
	APIKeys               []string
	Postgres              DBConfig
	Redis                 RedisConfig
	MaxOpenConns          int
	MaxIdleConns          int
	RequestTimeoutSeconds int
	PlaceDetector         PlaceDetectorConfig
}

// PlaceDetectorConfig tunes the cluster-discovery and visit-detection
// passes. Defaults favor a personal GPS history sampled every few
// minutes; a denser or sparser source should override them.
type PlaceDetectorConfig struct {
	EpsMeters          float64
	MinSamples         int
	MinVisitCount      int
	MinTotalDwellHours float64
	MaxGapMinutes      int
	MinDwellMinutes    int
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("TIMELINE_PORT", "8090"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		APIKeys:  splitCSV(os.Getenv("TIMELINE_API_KEYS")),
		Postgres: DBConfig{
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
		},
		MaxOpenConns:          parseInt(getEnv("TIMELINE_DB_MAX_OPEN_CONNS", "20"), 20),
		MaxIdleConns:          parseInt(getEnv("TIMELINE_DB_MAX_IDLE_CONNS", "5"), 5),
		RequestTimeoutSeconds: parseInt(getEnv("TIMELINE_REQUEST_TIMEOUT_SECONDS", "30"), 30),
		PlaceDetector: PlaceDetectorConfig{
			EpsMeters:          parseFloat(getEnv("TIMELINE_PLACE_EPS_METERS", "150"), 150),
			MinSamples:         parseInt(getEnv("TIMELINE_PLACE_MIN_SAMPLES", "5"), 5),
			MinVisitCount:      parseInt(getEnv("TIMELINE_PLACE_MIN_VISIT_COUNT", "3"), 3),
			MinTotalDwellHours: parseFloat(getEnv("TIMELINE_PLACE_MIN_TOTAL_DWELL_HOURS", "1"), 1),
			MaxGapMinutes:      parseInt(getEnv("TIMELINE_PLACE_MAX_GAP_MINUTES", "20"), 20),
			MinDwellMinutes:    parseInt(getEnv("TIMELINE_PLACE_MIN_DWELL_MINUTES", "10"), 10),
		},
	}

	slog.Info("timeline-engine config loaded", "port", cfg.Port, "db_host", cfg.Postgres.Host, "redis", cfg.Redis.Addr != "")
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func parseFloat(v string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}
