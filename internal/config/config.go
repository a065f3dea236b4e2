// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Directory holding history.db and portfolio.db (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Statistics   StatisticsConfig
	Cache        CacheConfig
	Workers      WorkerConfig
	Risk         RiskConfig
	Optimization OptimizationConfig

	RequestTimeout time.Duration
	RedisURL       string // Optional shared L2 cache; empty disables it
}

// StatisticsConfig tunes the statistics substrate
type StatisticsConfig struct {
	MinObservations int
}

// CacheConfig tunes the substrate cache
type CacheConfig struct {
	TTL           time.Duration
	MaxEntries    int
	SweepSchedule string // cron expression for expired-entry eviction
}

// WorkerConfig tunes the parallel execution coordinator
type WorkerConfig struct {
	MaxInFlight       int // 0 = logical core count
	ParallelThreshold int
}

// RiskConfig tunes the VaR calculator
type RiskConfig struct {
	Simulations int
	Budget      time.Duration
}

// OptimizationConfig tunes the optimizer
type OptimizationConfig struct {
	MaxIterations  int
	FrontierPoints int
}

// HistoryDBPath is the price history store read by the engine
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// PortfolioDBPath is the stored portfolio store read by the engine
func (c *Config) PortfolioDBPath() string {
	return filepath.Join(c.DataDir, "portfolio.db")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISK_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("RISK_PORT", 8002),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Statistics: StatisticsConfig{
			MinObservations: getEnvAsInt("RISK_MIN_OBSERVATIONS", 30),
		},
		Cache: CacheConfig{
			TTL:           getEnvAsDuration("RISK_CACHE_TTL", 5*time.Minute),
			MaxEntries:    getEnvAsInt("RISK_CACHE_MAX_ENTRIES", 256),
			SweepSchedule: getEnv("RISK_CACHE_SWEEP", "@every 1m"),
		},
		Workers: WorkerConfig{
			MaxInFlight:       getEnvAsInt("RISK_MAX_IN_FLIGHT", 0),
			ParallelThreshold: getEnvAsInt("RISK_PARALLEL_THRESHOLD", 4),
		},
		Risk: RiskConfig{
			Simulations: getEnvAsInt("RISK_MC_SIMULATIONS", 10000),
			Budget:      getEnvAsDuration("RISK_MC_BUDGET", 10*time.Second),
		},
		Optimization: OptimizationConfig{
			MaxIterations:  getEnvAsInt("RISK_OPT_MAX_ITERATIONS", 500),
			FrontierPoints: getEnvAsInt("RISK_FRONTIER_POINTS", 50),
		},
		RequestTimeout: getEnvAsDuration("RISK_REQUEST_TIMEOUT", 30*time.Second),
		RedisURL:       getEnv("REDIS_URL", ""),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every setting is within range
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("RISK_PORT %d out of range", c.Port))
	}
	if c.Statistics.MinObservations < 2 {
		problems = append(problems, "RISK_MIN_OBSERVATIONS must be at least 2")
	}
	if c.Cache.TTL <= 0 {
		problems = append(problems, "RISK_CACHE_TTL must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		problems = append(problems, "RISK_CACHE_MAX_ENTRIES must be positive")
	}
	if c.Cache.SweepSchedule != "" {
		parser := cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		)
		if _, err := parser.Parse(c.Cache.SweepSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("RISK_CACHE_SWEEP invalid: %v", err))
		}
	}
	if c.Workers.MaxInFlight < 0 {
		problems = append(problems, "RISK_MAX_IN_FLIGHT must not be negative")
	}
	if c.Workers.ParallelThreshold <= 0 {
		problems = append(problems, "RISK_PARALLEL_THRESHOLD must be positive")
	}
	if c.Risk.Simulations <= 0 || c.Risk.Simulations > 1_000_000 {
		problems = append(problems, "RISK_MC_SIMULATIONS must be within 1..1000000")
	}
	if c.Risk.Budget <= 0 {
		problems = append(problems, "RISK_MC_BUDGET must be positive")
	}
	if c.Optimization.MaxIterations <= 0 {
		problems = append(problems, "RISK_OPT_MAX_ITERATIONS must be positive")
	}
	if c.Optimization.FrontierPoints < 2 || c.Optimization.FrontierPoints > 500 {
		problems = append(problems, "RISK_FRONTIER_POINTS must be within 2..500")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "RISK_REQUEST_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
