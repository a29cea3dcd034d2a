package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr string

	// DatabaseURL selects the Postgres archive backend when set; otherwise
	// snapshots are committed to per-session git repositories under
	// ArchiveDir.
	DatabaseURL string
	ArchiveDir  string

	// RedisURL enables the pub/sub event relay when set.
	RedisURL string

	GracePeriod      time.Duration
	IdleGrace        time.Duration
	QueueWait        time.Duration
	AutosaveInterval time.Duration

	MaxParticipants int
	ChatTail        int
	SendBuffer      int
}

func defaults() Config {
	return Config{
		Addr:             ":8790",
		ArchiveDir:       "./data/sessions",
		GracePeriod:      30 * time.Second,
		IdleGrace:        60 * time.Second,
		QueueWait:        5 * time.Second,
		AutosaveInterval: 30 * time.Second,
		MaxParticipants:  16,
		ChatTail:         50,
		SendBuffer:       64,
	}
}

// duration lets TOML files spell durations as strings like "45s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for TOML decoding; only set keys override
// defaults.
type fileConfig struct {
	Addr             string   `toml:"addr"`
	DatabaseURL      string   `toml:"database_url"`
	ArchiveDir       string   `toml:"archive_dir"`
	RedisURL         string   `toml:"redis_url"`
	GracePeriod      duration `toml:"grace_period"`
	IdleGrace        duration `toml:"idle_grace"`
	QueueWait        duration `toml:"queue_wait"`
	AutosaveInterval duration `toml:"autosave_interval"`
	MaxParticipants  int      `toml:"max_participants"`
	ChatTail         int      `toml:"chat_tail"`
	SendBuffer       int      `toml:"send_buffer"`
}

func (f fileConfig) apply(cfg *Config) {
	if f.Addr != "" {
		cfg.Addr = f.Addr
	}
	if f.DatabaseURL != "" {
		cfg.DatabaseURL = f.DatabaseURL
	}
	if f.ArchiveDir != "" {
		cfg.ArchiveDir = f.ArchiveDir
	}
	if f.RedisURL != "" {
		cfg.RedisURL = f.RedisURL
	}
	if f.GracePeriod > 0 {
		cfg.GracePeriod = time.Duration(f.GracePeriod)
	}
	if f.IdleGrace > 0 {
		cfg.IdleGrace = time.Duration(f.IdleGrace)
	}
	if f.QueueWait > 0 {
		cfg.QueueWait = time.Duration(f.QueueWait)
	}
	if f.AutosaveInterval > 0 {
		cfg.AutosaveInterval = time.Duration(f.AutosaveInterval)
	}
	if f.MaxParticipants > 0 {
		cfg.MaxParticipants = f.MaxParticipants
	}
	if f.ChatTail > 0 {
		cfg.ChatTail = f.ChatTail
	}
	if f.SendBuffer > 0 {
		cfg.SendBuffer = f.SendBuffer
	}
}

// Load builds the configuration from an optional TOML file (path taken from
// CODESESSION_CONFIG) with environment variables overriding file values.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CODESESSION_CONFIG"); path != "" {
		var file fileConfig
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
		file.apply(&cfg)
	}

	cfg.Addr = getenv("CODESESSION_ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ArchiveDir = getenv("CODESESSION_ARCHIVE_DIR", cfg.ArchiveDir)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.GracePeriod = getenvDuration("CODESESSION_GRACE_PERIOD", cfg.GracePeriod)
	cfg.IdleGrace = getenvDuration("CODESESSION_IDLE_GRACE", cfg.IdleGrace)
	cfg.QueueWait = getenvDuration("CODESESSION_QUEUE_WAIT", cfg.QueueWait)
	cfg.AutosaveInterval = getenvDuration("CODESESSION_AUTOSAVE_INTERVAL", cfg.AutosaveInterval)
	cfg.MaxParticipants = getenvInt("CODESESSION_MAX_PARTICIPANTS", cfg.MaxParticipants)
	cfg.ChatTail = getenvInt("CODESESSION_CHAT_TAIL", cfg.ChatTail)
	cfg.SendBuffer = getenvInt("CODESESSION_SEND_BUFFER", cfg.SendBuffer)

	return cfg, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
