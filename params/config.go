// Package params loads the simulator configuration from a YAML file with
// environment-variable overrides. Sensitive or deployment-specific
// fields can be set through MKSIM_* variables; a .env file is honoured
// when present.
package params

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	FeePolicy  FeePolicyConfig  `mapstructure:"fee_policy"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Store      StoreConfig      `mapstructure:"store"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ExchangeConfig holds the per-book precisions and the margin limits.
// All decimal counts must be at least 2.
type ExchangeConfig struct {
	Books             int     `mapstructure:"books"`
	PriceDecimals     int32   `mapstructure:"price_decimals"`
	VolumeDecimals    int32   `mapstructure:"volume_decimals"`
	BaseDecimals      int32   `mapstructure:"base_decimals"`
	QuoteDecimals     int32   `mapstructure:"quote_decimals"`
	InitialPrice      float64 `mapstructure:"initial_price"`
	MaintenanceMargin float64 `mapstructure:"maintenance_margin"`
	MaxLeverage       float64 `mapstructure:"max_leverage"`
	MaxLoan           float64 `mapstructure:"max_loan"`
	MinOrderSize      float64 `mapstructure:"min_order_size"`
	MaxOrdersPerAgent int     `mapstructure:"max_orders_per_agent"`
	InitialBase       float64 `mapstructure:"initial_base"`
	InitialQuote      float64 `mapstructure:"initial_quote"`
}

// TierConfig is one fee tier; volume thresholds must be strictly
// increasing and rates inside (-1, 1).
type TierConfig struct {
	VolumeRequired float64 `mapstructure:"volume_required"`
	MakerFee       float64 `mapstructure:"maker_fee"`
	TakerFee       float64 `mapstructure:"taker_fee"`
}

// FeePolicyConfig is the rolling-volume tier schedule.
type FeePolicyConfig struct {
	HistorySlots int           `mapstructure:"history_slots"`
	SlotPeriod   time.Duration `mapstructure:"slot_period"`
	Tiers        []TierConfig  `mapstructure:"tiers"`
}

// SimulationConfig sizes the run.
type SimulationConfig struct {
	Instances int           `mapstructure:"instances"`
	Horizon   time.Duration `mapstructure:"horizon"`
	Seed      int64         `mapstructure:"seed"`
}

// AgentsConfig describes the local random traders driving the books.
type AgentsConfig struct {
	RandomTraders int           `mapstructure:"random_traders"`
	Tau           time.Duration `mapstructure:"tau"`
	MinQuantity   float64       `mapstructure:"min_quantity"`
	MaxQuantity   float64       `mapstructure:"max_quantity"`
}

// StoreConfig selects where records and checkpoints go; empty disables
// persistence.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// APIConfig enables the market-data server; empty address disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects level and optional log file.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads the configuration from path (optional), layers MKSIM_*
// environment variables on top, and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("MKSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.books", 1)
	v.SetDefault("exchange.price_decimals", 2)
	v.SetDefault("exchange.volume_decimals", 4)
	v.SetDefault("exchange.base_decimals", 4)
	v.SetDefault("exchange.quote_decimals", 8)
	v.SetDefault("exchange.initial_price", 100.0)
	v.SetDefault("exchange.maintenance_margin", 0.25)
	v.SetDefault("exchange.max_leverage", 0.0)
	v.SetDefault("exchange.max_loan", 0.0)
	v.SetDefault("exchange.initial_base", 100.0)
	v.SetDefault("exchange.initial_quote", 10000.0)

	v.SetDefault("fee_policy.history_slots", 4)
	v.SetDefault("fee_policy.slot_period", time.Hour)
	v.SetDefault("fee_policy.tiers", []map[string]any{
		{"volume_required": 0.0, "maker_fee": 0.0, "taker_fee": 0.0},
	})

	v.SetDefault("simulation.instances", 1)
	v.SetDefault("simulation.horizon", time.Hour)
	v.SetDefault("simulation.seed", 42)

	v.SetDefault("agents.random_traders", 8)
	v.SetDefault("agents.tau", 2*time.Second)
	v.SetDefault("agents.min_quantity", 0.01)
	v.SetDefault("agents.max_quantity", 2.0)

	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	e := &c.Exchange
	if e.Books < 1 {
		return fmt.Errorf("exchange.books must be at least 1, got %d", e.Books)
	}
	for name, d := range map[string]int32{
		"price_decimals":  e.PriceDecimals,
		"volume_decimals": e.VolumeDecimals,
		"base_decimals":   e.BaseDecimals,
		"quote_decimals":  e.QuoteDecimals,
	} {
		if d < 2 {
			return fmt.Errorf("exchange.%s must be at least 2, got %d", name, d)
		}
	}
	if e.InitialPrice <= 0 {
		return fmt.Errorf("exchange.initial_price must be positive")
	}
	if e.MaintenanceMargin <= 0 || e.MaintenanceMargin >= 1 {
		return fmt.Errorf("exchange.maintenance_margin must be in (0, 1), got %g",
			e.MaintenanceMargin)
	}
	if e.MaxLeverage < 0 {
		return fmt.Errorf("exchange.max_leverage must be non-negative")
	}
	if e.MaxLoan < 0 {
		return fmt.Errorf("exchange.max_loan must be non-negative")
	}

	f := &c.FeePolicy
	if f.HistorySlots < 1 {
		return fmt.Errorf("fee_policy.history_slots must be at least 1")
	}
	if f.SlotPeriod <= 0 {
		return fmt.Errorf("fee_policy.slot_period must be positive")
	}
	if len(f.Tiers) == 0 {
		return fmt.Errorf("fee_policy.tiers must not be empty")
	}
	prev := -1.0
	for i, t := range f.Tiers {
		if t.MakerFee <= -1 || t.MakerFee >= 1 || t.TakerFee <= -1 || t.TakerFee >= 1 {
			return fmt.Errorf("fee_policy.tiers[%d]: rates must be in (-1, 1)", i)
		}
		if t.VolumeRequired <= prev && i > 0 {
			return fmt.Errorf("fee_policy.tiers[%d]: volume thresholds must be strictly increasing", i)
		}
		prev = t.VolumeRequired
	}

	if c.Simulation.Instances < 1 {
		return fmt.Errorf("simulation.instances must be at least 1")
	}
	if c.Simulation.Horizon <= 0 {
		return fmt.Errorf("simulation.horizon must be positive")
	}
	if c.Agents.Tau <= 0 {
		return fmt.Errorf("agents.tau must be positive")
	}
	return nil
}
