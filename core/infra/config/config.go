package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	defaultNATSURL          = "nats://localhost:4222"
	defaultRedisURL         = "redis://localhost:6379"
	defaultEventSink        = "none"
	defaultMetricsAddr      = ":9090"
	defaultSchedulePath     = "config/schedule.yaml"
	defaultEventLogCapacity = 1000
	defaultHistoryCapacity  = 1000
	envNATSURL              = "NATS_URL"
	envRedisURL             = "REDIS_URL"
	envEventSink            = "JOBCORE_EVENT_SINK"
	envMetricsAddr          = "JOBCORE_METRICS_ADDR"
	envSchedulePath         = "JOBCORE_SCHEDULE_PATH"
	envEventLogCapacity     = "JOBCORE_EVENT_LOG_CAPACITY"
	envHistoryCapacity      = "JOBCORE_HISTORY_CAPACITY"
	envMaxParallel          = "JOBCORE_MAX_PARALLEL"
	envExprVars             = "JOBCORE_PYTHON_VARS"
	envDriverLock           = "JOBCORE_DRIVER_LOCK"
)

// Event sink selectors for JOBCORE_EVENT_SINK.
const (
	SinkNone  = "none"
	SinkRedis = "redis"
	SinkNATS  = "nats"
)

// Config holds runtime configuration for the jobcore daemon.
type Config struct {
	NatsURL          string
	RedisURL         string
	EventSink        string
	MetricsAddr      string
	SchedulePath     string
	EventLogCapacity int
	HistoryCapacity  int
	// MaxParallel caps concurrent jobs within a workflow level; 0 is unbounded.
	MaxParallel int
	// ExprVars are extra variables visible to expression steps.
	ExprVars map[string]string
	// DriverLock makes replicas share one scheduler driver through a Redis lease.
	DriverLock bool
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	natsURL := os.Getenv(envNATSURL)
	if natsURL == "" {
		natsURL = defaultNATSURL
	}

	redisURL := os.Getenv(envRedisURL)
	if redisURL == "" {
		redisURL = defaultRedisURL
	}

	sink := strings.ToLower(strings.TrimSpace(os.Getenv(envEventSink)))
	switch sink {
	case SinkRedis, SinkNATS:
	default:
		sink = defaultEventSink
	}

	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	schedulePath := os.Getenv(envSchedulePath)
	if schedulePath == "" {
		schedulePath = defaultSchedulePath
	}

	return &Config{
		NatsURL:          natsURL,
		RedisURL:         redisURL,
		EventSink:        sink,
		MetricsAddr:      metricsAddr,
		SchedulePath:     schedulePath,
		EventLogCapacity: envInt(envEventLogCapacity, defaultEventLogCapacity),
		HistoryCapacity:  envInt(envHistoryCapacity, defaultHistoryCapacity),
		MaxParallel:      envInt(envMaxParallel, 0),
		ExprVars:         parseVars(os.Getenv(envExprVars)),
		DriverLock:       os.Getenv(envDriverLock) == "true",
	}
}

// envInt reads a non-negative integer, falling back to def when unset or invalid.
func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// parseVars parses "k=v,k2=v2". Entries without a key are ignored.
func parseVars(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, _ := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
