package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StddevMode selects how the rater standard deviation is computed.
type StddevMode string

const (
	StddevPopulation StddevMode = "population"
	StddevSample     StddevMode = "sample"
)

// Config holds all environment-driven settings. The scoring thresholds are
// passed into the evaluation service explicitly instead of being read from
// ambient globals at request time.
type Config struct {
	Port    string
	DataDir string

	// Scoring engine thresholds.
	MinRatings  int        // minimum contributing evaluations before a summary row is exposed
	RepeatDays  int        // cooldown window for re-rating the same (subject, criterion)
	MinOutbound int        // outbound evaluations a subject needs before incoming ones go ACTIVE
	ScaleMin    int        // lowest allowed score; scores at the ends count as extreme
	ScaleMax    int        // highest allowed score
	StddevMode  StddevMode // population or sample stddev for normalization

	SummaryCacheTTL time.Duration

	// Rate limiting.
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RateLimitPerMin int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnvOrDefault("PORT", "8080"),
		DataDir:         getEnvOrDefault("DATA_DIR", "./data"),
		MinRatings:      getEnvInt("EVALUATIONS_MIN_RATINGS", 10),
		RepeatDays:      getEnvInt("EVALUATIONS_REPEAT_DAYS", 7),
		MinOutbound:     getEnvInt("EVALUATIONS_MIN_OUTBOUND", 10),
		ScaleMin:        getEnvInt("EVALUATIONS_SCALE_MIN", 1),
		ScaleMax:        getEnvInt("EVALUATIONS_SCALE_MAX", 5),
		StddevMode:      StddevMode(getEnvOrDefault("EVALUATIONS_STDDEV_MODE", string(StddevPopulation))),
		SummaryCacheTTL: getEnvDuration("SUMMARY_CACHE_TTL", 30*time.Second),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 60),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the thresholds form a usable scoring configuration.
func (c *Config) Validate() error {
	if c.ScaleMin >= c.ScaleMax {
		return fmt.Errorf("invalid score scale [%d, %d]", c.ScaleMin, c.ScaleMax)
	}
	if c.MinRatings < 1 {
		return fmt.Errorf("EVALUATIONS_MIN_RATINGS must be >= 1, got %d", c.MinRatings)
	}
	if c.RepeatDays < 0 {
		return fmt.Errorf("EVALUATIONS_REPEAT_DAYS must be >= 0, got %d", c.RepeatDays)
	}
	if c.MinOutbound < 0 {
		return fmt.Errorf("EVALUATIONS_MIN_OUTBOUND must be >= 0, got %d", c.MinOutbound)
	}
	if c.StddevMode != StddevPopulation && c.StddevMode != StddevSample {
		return fmt.Errorf("EVALUATIONS_STDDEV_MODE must be %q or %q, got %q",
			StddevPopulation, StddevSample, c.StddevMode)
	}
	if c.SummaryCacheTTL <= 0 {
		return fmt.Errorf("SUMMARY_CACHE_TTL must be positive, got %s", c.SummaryCacheTTL)
	}
	return nil
}

// RepeatWindow returns the cooldown window as a duration.
func (c *Config) RepeatWindow() time.Duration {
	return time.Duration(c.RepeatDays) * 24 * time.Hour
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
