package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "CampSuite"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultHoldTTL        = 15 * time.Minute
	defaultGuardWindow    = 60 * time.Second
	defaultSweepInterval  = time.Minute
	defaultDriftThreshold = 100
	defaultRedeemPerMin   = 10

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	holdTTLEnvVar          = "HOLD_TTL"
	guardWindowEnvVar      = "IDEMPOTENCY_GUARD_WINDOW"
	sweepIntervalEnvVar    = "SWEEP_INTERVAL"
	driftThresholdEnvVar   = "DRIFT_ALERT_THRESHOLD_CENTS"
	redeemPerMinEnvVar     = "REDEEM_RATE_LIMIT_PER_MIN"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName             string
	AppEnv              string
	Port                string
	LogLevel            string
	DatabaseURL         string
	RedisURL            string
	ShutdownPeriod      time.Duration
	HoldTTL             time.Duration
	GuardWindow         time.Duration
	SweepInterval       time.Duration
	DriftThresholdCents int64
	RedeemRatePerMin    int
}

// Load reads configuration values from the environment and populates a Config instance.
// DATABASE_URL and REDIS_URL are mandatory outside of development; in development the
// server falls back to in-memory stores when they are absent.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ShutdownPeriod:      defaultShutdownDelay,
		HoldTTL:             defaultHoldTTL,
		GuardWindow:         defaultGuardWindow,
		SweepInterval:       defaultSweepInterval,
		DriftThresholdCents: defaultDriftThreshold,
		RedeemRatePerMin:    defaultRedeemPerMin,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	for _, dur := range []struct {
		envVar string
		dst    *time.Duration
	}{
		{holdTTLEnvVar, &cfg.HoldTTL},
		{guardWindowEnvVar, &cfg.GuardWindow},
		{sweepIntervalEnvVar, &cfg.SweepInterval},
	} {
		if v := os.Getenv(dur.envVar); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", dur.envVar, err)
			}
			if d <= 0 {
				return Config{}, fmt.Errorf("%s must be positive", dur.envVar)
			}
			*dur.dst = d
		}
	}

	if v := os.Getenv(driftThresholdEnvVar); v != "" {
		cents, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", driftThresholdEnvVar, err)
		}
		cfg.DriftThresholdCents = cents
	}

	if v := os.Getenv(redeemPerMinEnvVar); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", redeemPerMinEnvVar, err)
		}
		cfg.RedeemRatePerMin = n
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app is running in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
