package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func mustAtof(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func isTrue(s string) bool {
	return s == "1" || strings.EqualFold(s, "true")
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel:         strings.ToLower(getenv("LOG_LEVEL", "info")),
		Debug:            isTrue(getenv("DEBUG", "false")),
		ImmediateSeconds: mustAtof(getenv("AURAL_IMMEDIATE_SECONDS", "5")),
		DeferredSeconds:  mustAtof(getenv("AURAL_DEFERRED_SECONDS", "10")),
		DeviceID:         os.Getenv("AURAL_DEVICE_ID"),
		PeriodMS: func() int {
			i, _ := strconv.Atoi(getenv("AURAL_PERIOD_MS", "10"))
			return i
		}(),
		NoAudio:     isTrue(getenv("AURAL_NO_AUDIO", "false")),
		MetricsAddr: os.Getenv("AURAL_METRICS_ADDR"),
	}

	if cfg.ImmediateSeconds <= 0 {
		return nil, ErrConfig("AURAL_IMMEDIATE_SECONDS must be a positive number")
	}
	if cfg.DeferredSeconds <= 0 {
		return nil, ErrConfig("AURAL_DEFERRED_SECONDS must be a positive number")
	}
	if cfg.DeferredSeconds < cfg.ImmediateSeconds {
		return nil, ErrConfig(fmt.Sprintf("AURAL_DEFERRED_SECONDS (%g) must not be less than AURAL_IMMEDIATE_SECONDS (%g)",
			cfg.DeferredSeconds, cfg.ImmediateSeconds))
	}
	if cfg.PeriodMS <= 0 {
		return nil, ErrConfig("AURAL_PERIOD_MS must be a positive integer")
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level is the slog level for LogLevel. Debug forces slog.LevelDebug.
func (c *Config) Level() (slog.Level, error) {
	if c.Debug {
		return slog.LevelDebug, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, ErrConfig("unknown LOG_LEVEL " + strconv.Quote(c.LogLevel))
	}
	return l, nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
