// FILE: config.go
// Package main – Runtime configuration model and loaders.
//
// This file defines the Config struct (every operational knob of the bidder),
// its env loader, and the optional YAML strategy file that holds per-lot
// overrides on top of the env defaults.
//
// Typical flow (see main.go):
//   loadBotEnv(path)
//   cfg := loadConfigFromEnv()
//   sf, _ := loadStrategyFile(cfg.StrategyFile)
//   strat := sf.For(lotID, cfg.DefaultStrategy())
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime knobs.
type Config struct {
	// Ops
	Port         int
	LogLevel     string
	StateFile    string
	PersistState bool

	// Broker
	BridgeURL        string // empty → paper broker
	BridgeJWTSecret  string
	BridgeRetries    int
	BridgeTimeoutSec int

	// Control API
	ControlJWTSecret string

	// Loop control
	CheckIntervalSec     int
	AutopilotDurationSec int // 0 = unbounded
	AdaptivePolling      bool

	// Strategy defaults
	StrategyFile   string
	MaxBid         float64
	TargetValue    float64
	Aggressiveness float64
	Sniping        bool
	SnipeWindowSec float64

	// Fees
	FeeRatePct float64
	FeeFixed   float64

	// Paper broker
	PaperStartPrice  float64
	PaperDurationSec int
	PaperSeed        int64
}

// loadConfigFromEnv reads the process env (already hydrated by loadBotEnv())
// and returns a Config with sane defaults if keys are missing.
func loadConfigFromEnv() Config {
	return Config{
		Port:         getEnvInt("PORT", 8080),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StateFile:    getEnv("STATE_FILE", "/opt/bidpilot/state/tuning.json"),
		PersistState: getEnvBool("PERSIST_STATE", true),

		BridgeURL:        getEnv("BRIDGE_URL", ""),
		BridgeJWTSecret:  getEnv("BRIDGE_JWT_SECRET", ""),
		BridgeRetries:    getEnvInt("BRIDGE_RETRIES", 3),
		BridgeTimeoutSec: getEnvInt("BRIDGE_TIMEOUT_SEC", 15),

		ControlJWTSecret: getEnv("CONTROL_JWT_SECRET", ""),

		CheckIntervalSec:     getEnvInt("CHECK_INTERVAL_SEC", 5),
		AutopilotDurationSec: getEnvInt("AUTOPILOT_DURATION_SEC", 0),
		AdaptivePolling:      getEnvBool("ADAPTIVE_POLLING", false),

		StrategyFile:   getEnv("STRATEGY_FILE", ""),
		MaxBid:         getEnvFloat("MAX_BID", 0),
		TargetValue:    getEnvFloat("TARGET_VALUE", 0),
		Aggressiveness: getEnvFloat("AGGRESSIVENESS", 0.5),
		Sniping:        getEnvBool("SNIPING", false),
		SnipeWindowSec: getEnvFloat("SNIPE_WINDOW_SEC", 15),

		FeeRatePct: getEnvFloat("FEE_RATE_PCT", 9),
		FeeFixed:   getEnvFloat("FEE_FIXED", 3),

		PaperStartPrice:  getEnvFloat("PAPER_START_PRICE", 0),
		PaperDurationSec: getEnvInt("PAPER_DURATION_SEC", 600),
		PaperSeed:        int64(getEnvInt("PAPER_SEED", 0)),
	}
}

// DefaultStrategy is the strategy every lot starts from.
func (c Config) DefaultStrategy() StrategyConfig {
	return StrategyConfig{
		MaxBid:         c.MaxBid,
		TargetValue:    c.TargetValue,
		Aggressiveness: c.Aggressiveness,
		Sniping:        c.Sniping,
		SnipeWindow:    seconds(c.SnipeWindowSec),
	}
}

func (c Config) Fees() FeeSchedule { return FeeSchedule{RatePct: c.FeeRatePct, Fixed: c.FeeFixed} }

func (c Config) CheckInterval() time.Duration {
	if c.CheckIntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CheckIntervalSec) * time.Second
}

func (c Config) AutopilotDuration() time.Duration {
	if c.AutopilotDurationSec <= 0 {
		return 0
	}
	return time.Duration(c.AutopilotDurationSec) * time.Second
}

func (c Config) BridgeOptions() BridgeOptions {
	return BridgeOptions{
		JWTSecret: c.BridgeJWTSecret,
		Retries:   c.BridgeRetries,
		Timeout:   time.Duration(c.BridgeTimeoutSec) * time.Second,
	}
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// ---- YAML strategy file ----

// strategyOverride is one YAML block; nil fields keep the base value.
type strategyOverride struct {
	Profile        *string  `yaml:"profile"`
	MaxBid         *float64 `yaml:"max_bid"`
	TargetValue    *float64 `yaml:"target_value"`
	Aggressiveness *float64 `yaml:"aggressiveness"`
	Sniping        *bool    `yaml:"sniping"`
	SnipeWindowSec *float64 `yaml:"snipe_window_s"`
}

func (o strategyOverride) apply(base StrategyConfig) StrategyConfig {
	if o.Profile != nil {
		base.Profile = *o.Profile
	}
	if o.MaxBid != nil {
		base.MaxBid = *o.MaxBid
	}
	if o.TargetValue != nil {
		base.TargetValue = *o.TargetValue
	}
	if o.Aggressiveness != nil {
		base.Aggressiveness = *o.Aggressiveness
	}
	if o.Sniping != nil {
		base.Sniping = *o.Sniping
	}
	if o.SnipeWindowSec != nil {
		base.SnipeWindow = seconds(*o.SnipeWindowSec)
	}
	return base
}

// StrategyFile holds defaults plus per-lot overrides:
//
//	defaults:
//	  aggressiveness: 0.6
//	  sniping: true
//	lots:
//	  "88123456":
//	    max_bid: 950
type StrategyFile struct {
	Defaults strategyOverride            `yaml:"defaults"`
	Lots     map[string]strategyOverride `yaml:"lots"`
}

// loadStrategyFile parses path; an empty path yields an empty file.
func loadStrategyFile(path string) (*StrategyFile, error) {
	if path == "" {
		return &StrategyFile{}, nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy file: %w", err)
	}
	return parseStrategyFile(bs)
}

func parseStrategyFile(bs []byte) (*StrategyFile, error) {
	var sf StrategyFile
	if err := yaml.Unmarshal(bs, &sf); err != nil {
		return nil, fmt.Errorf("strategy file: %w", err)
	}
	return &sf, nil
}

// For resolves the strategy of one lot: base, then defaults, then the lot block.
func (f *StrategyFile) For(lot string, base StrategyConfig) StrategyConfig {
	if f == nil {
		return base
	}
	out := f.Defaults.apply(base)
	if o, ok := f.Lots[lot]; ok {
		out = o.apply(out)
	}
	return out
}
