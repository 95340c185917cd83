// Package config loads Grace's runtime configuration from the
// environment, following the teacher's Load()-returns-struct-with-
// defaults convention rather than pulling in a config library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-wide configuration for a Grace node.
type Config struct {
	LogLevel string

	LedgerPath  string // sqlite file for the Immutable Log
	DatabaseURL string // postgres DSN for parliament/memory; empty selects Lite Mode (in-process stores)

	RedisAddr string // empty selects Lite Mode (in-process quota/cache)

	MeshQueueDepth int

	MetaCyclePeriod time.Duration

	HandshakeTimeout          time.Duration
	HandshakeObservationWindow time.Duration

	SafeIOTimeout time.Duration

	OTLPEndpoint string

	S3Bucket  string // non-empty wires an S3 external action adapter
	GCSBucket string // non-empty wires a GCS archival adapter
}

// Load reads configuration from the environment with sane defaults for
// a single-node development deployment.
func Load() *Config {
	return &Config{
		LogLevel:                   getenv("GRACE_LOG_LEVEL", "INFO"),
		LedgerPath:                 getenv("GRACE_LEDGER_PATH", "grace_ledger.db"),
		DatabaseURL:                getenv("GRACE_DATABASE_URL", ""),
		RedisAddr:                  getenv("GRACE_REDIS_ADDR", ""),
		MeshQueueDepth:             getenvInt("GRACE_MESH_QUEUE_DEPTH", 4096),
		MetaCyclePeriod:            getenvDuration("GRACE_META_CYCLE_PERIOD", 2*time.Minute),
		HandshakeTimeout:           getenvDuration("GRACE_HANDSHAKE_TIMEOUT", 60*time.Second),
		HandshakeObservationWindow: getenvDuration("GRACE_HANDSHAKE_OBSERVATION_WINDOW", time.Hour),
		SafeIOTimeout:              getenvDuration("GRACE_SAFE_IO_TIMEOUT", 2*time.Second),
		OTLPEndpoint:               getenv("GRACE_OTLP_ENDPOINT", ""),
		S3Bucket:                   getenv("GRACE_S3_BUCKET", ""),
		GCSBucket:                  getenv("GRACE_GCS_BUCKET", ""),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
