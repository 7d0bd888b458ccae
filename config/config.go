package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full decision-engine configuration.
type Config struct {
	Research  ResearchConfig  `yaml:"research"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Risk      RiskConfig      `yaml:"risk"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Portfolio PortfolioConfig `yaml:"portfolio"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ResearchConfig holds the entry thresholds applied to estimates.
type ResearchConfig struct {
	MinConfidence float64 `yaml:"min_confidence"` // [0,1]
	MinEdge       float64 `yaml:"min_edge"`
}

// SizingConfig selects and tunes the position-sizing policy.
type SizingConfig struct {
	Policy      string  `yaml:"policy"` // flat | capped-kelly
	Bankroll    float64 `yaml:"bankroll"`
	RiskBudget  float64 `yaml:"risk_budget"`
	MaxFraction float64 `yaml:"max_fraction"`
	MinStake    float64 `yaml:"min_stake"`
}

// RiskConfig holds the portfolio-level caps checked at acceptance.
type RiskConfig struct {
	GasReserve            float64 `yaml:"gas_reserve"`
	MaxPositionPct        float64 `yaml:"max_position_pct"`
	CapitalUtilizationPct float64 `yaml:"capital_utilization_pct"`
}

// MonitorConfig controls the risk-monitor loop.
type MonitorConfig struct {
	PriceRefreshSeconds int `yaml:"price_refresh_seconds"`
}

// PortfolioConfig holds accounting baselines.
type PortfolioConfig struct {
	StartingCash float64 `yaml:"starting_cash"`
}

// StorageConfig controls where the ledger persists.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config plus a .env file if present. Environment
// variables override matching YAML keys.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// RefreshInterval returns the monitor interval as a time.Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Monitor.PriceRefreshSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LEDGER_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BANKROLL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sizing.Bankroll = f
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Research.MinConfidence <= 0 {
		cfg.Research.MinConfidence = 0.6
	}
	if cfg.Research.MinEdge <= 0 {
		cfg.Research.MinEdge = 0.05
	}
	if cfg.Sizing.Policy == "" {
		cfg.Sizing.Policy = "flat"
	}
	if cfg.Sizing.Bankroll <= 0 {
		cfg.Sizing.Bankroll = 1000
	}
	if cfg.Sizing.RiskBudget <= 0 {
		cfg.Sizing.RiskBudget = 0.05
	}
	if cfg.Sizing.MaxFraction <= 0 {
		cfg.Sizing.MaxFraction = 0.10
	}
	if cfg.Sizing.MinStake <= 0 {
		cfg.Sizing.MinStake = 1
	}
	if cfg.Risk.MaxPositionPct <= 0 {
		cfg.Risk.MaxPositionPct = 0.25
	}
	if cfg.Risk.CapitalUtilizationPct <= 0 {
		cfg.Risk.CapitalUtilizationPct = 0.9
	}
	if cfg.Monitor.PriceRefreshSeconds <= 0 {
		cfg.Monitor.PriceRefreshSeconds = 3600
	}
	if cfg.Portfolio.StartingCash <= 0 {
		cfg.Portfolio.StartingCash = cfg.Sizing.Bankroll
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polledge.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.Sizing.Policy {
	case "flat", "capped-kelly":
	default:
		return fmt.Errorf("unknown sizing policy %q", cfg.Sizing.Policy)
	}
	if cfg.Research.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f out of [0,1]", cfg.Research.MinConfidence)
	}
	if cfg.Risk.MaxPositionPct > 1 || cfg.Risk.CapitalUtilizationPct > 1 {
		return fmt.Errorf("risk percentages must be fractions in (0,1]")
	}
	return nil
}
