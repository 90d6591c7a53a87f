// Package config loads configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all lfs configuration.
type Config struct {
	// Mount
	Mountpoint  string
	FUSEBackend string // gofuse or cgofuse
	AllowOther  bool
	FUSEDebug   bool

	// Logging
	LogLevel  string
	LogFormat string // empty picks console on a terminal

	// Metrics and /healthz; empty disables the server.
	MetricsAddr string

	// Namespace
	WriteMode   string // append or offset
	MaxFileSize int64  // bytes; 0 = unlimited

	// Mirror ("" disables, "rsync", "local" or "s3")
	MirrorBackend  string
	MirrorDest     string
	MirrorConfig   json.RawMessage // storage backend config for local/s3
	MirrorInterval time.Duration
	MirrorPoll     time.Duration
	MirrorSkipIdle bool
	RsyncPath      string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Mountpoint:     envOr("LFS_MOUNTPOINT", ""),
		FUSEBackend:    envOr("LFS_FUSE_BACKEND", "gofuse"),
		AllowOther:     envBool("LFS_ALLOW_OTHER", false),
		FUSEDebug:      envBool("LFS_FUSE_DEBUG", false),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", ""),
		MetricsAddr:    envOr("LFS_METRICS_ADDR", ""),
		WriteMode:      envOr("LFS_WRITE_MODE", "append"),
		MaxFileSize:    envInt64("LFS_MAX_FILE_SIZE", 0),
		MirrorBackend:  envOr("LFS_MIRROR_BACKEND", ""),
		MirrorDest:     envOr("LFS_MIRROR_DEST", ""),
		MirrorInterval: envDuration("LFS_MIRROR_INTERVAL", 10*time.Second),
		MirrorPoll:     envDuration("LFS_MIRROR_POLL", time.Second),
		MirrorSkipIdle: envBool("LFS_MIRROR_SKIP_IDLE", true),
		RsyncPath:      envOr("LFS_RSYNC_PATH", "rsync"),
	}
	if raw := os.Getenv("LFS_MIRROR_CONFIG"); raw != "" {
		cfg.MirrorConfig = json.RawMessage(raw)
	}
	return cfg, nil
}

// Validate reports the first invalid setting. It runs after flag
// overrides have been applied.
func (c *Config) Validate() error {
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required (LFS_MOUNTPOINT or -mount)")
	}
	switch c.FUSEBackend {
	case "gofuse", "cgofuse":
	default:
		return fmt.Errorf("unknown FUSE backend %q (want gofuse or cgofuse)", c.FUSEBackend)
	}
	switch strings.ToLower(c.WriteMode) {
	case "append", "offset":
	default:
		return fmt.Errorf("unknown write mode %q (want append or offset)", c.WriteMode)
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max file size must not be negative, got %d", c.MaxFileSize)
	}

	switch c.MirrorBackend {
	case "":
		return nil
	case "rsync":
		if c.MirrorDest == "" {
			return fmt.Errorf("rsync mirror requires LFS_MIRROR_DEST")
		}
	case "local", "s3":
		if c.MirrorDest == "" && len(c.MirrorConfig) == 0 {
			return fmt.Errorf("%s mirror requires LFS_MIRROR_DEST or LFS_MIRROR_CONFIG", c.MirrorBackend)
		}
		if len(c.MirrorConfig) > 0 && !json.Valid(c.MirrorConfig) {
			return fmt.Errorf("LFS_MIRROR_CONFIG is not valid JSON")
		}
	default:
		return fmt.Errorf("unknown mirror backend %q (want rsync, local or s3)", c.MirrorBackend)
	}
	if c.MirrorInterval <= 0 {
		return fmt.Errorf("mirror interval must be positive, got %s", c.MirrorInterval)
	}
	if c.MirrorPoll <= 0 {
		return fmt.Errorf("mirror poll interval must be positive, got %s", c.MirrorPoll)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
