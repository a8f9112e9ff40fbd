// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/engine"
)

// Config holds all runtime configuration for the simulator.
type Config struct {
	LogLevel string `validate:"oneof=debug info warn error"`

	MatchOnTouch            bool
	Latency                 time.Duration `validate:"min=0"`
	MaxDepth                int           `validate:"min=0"`
	SpreadSize              int           `validate:"min=1"`
	BufferTime              time.Duration `validate:"min=0"`
	PortfolioRecalcInterval time.Duration `validate:"min=0"`
	CheckMoney              bool
	CheckShortable          bool
	CheckTradingState       bool
	Failing                 float64 `validate:"min=0,max=100"`
	IncreaseDepthVolume     bool
	PriceLimitOffset        float64 `validate:"min=0,max=100"`
	InitialOrderID          int64   `validate:"min=1"`
	InitialTradeID          int64   `validate:"min=1"`
	Seed                    int64
}

// Load reads configuration from environment variables, applies defaults
// and validates values.
func Load() (*Config, error) {
	cfg := &Config{LogLevel: getStr("LOG_LEVEL", "info")}

	var err error
	if cfg.MatchOnTouch, err = getBool("MATCH_ON_TOUCH", true); err != nil {
		return nil, errors.Wrap(err, "invalid MATCH_ON_TOUCH")
	}
	if cfg.Latency, err = getDuration("LATENCY", 0); err != nil {
		return nil, errors.Wrap(err, "invalid LATENCY")
	}
	if cfg.MaxDepth, err = getInt("MAX_DEPTH", 5); err != nil {
		return nil, errors.Wrap(err, "invalid MAX_DEPTH")
	}
	if cfg.SpreadSize, err = getInt("SPREAD_SIZE", 2); err != nil {
		return nil, errors.Wrap(err, "invalid SPREAD_SIZE")
	}
	if cfg.BufferTime, err = getDuration("BUFFER_TIME", 0); err != nil {
		return nil, errors.Wrap(err, "invalid BUFFER_TIME")
	}
	if cfg.PortfolioRecalcInterval, err = getDuration("PORTFOLIO_RECALC_INTERVAL", 0); err != nil {
		return nil, errors.Wrap(err, "invalid PORTFOLIO_RECALC_INTERVAL")
	}
	if cfg.CheckMoney, err = getBool("CHECK_MONEY", false); err != nil {
		return nil, errors.Wrap(err, "invalid CHECK_MONEY")
	}
	if cfg.CheckShortable, err = getBool("CHECK_SHORTABLE", false); err != nil {
		return nil, errors.Wrap(err, "invalid CHECK_SHORTABLE")
	}
	if cfg.CheckTradingState, err = getBool("CHECK_TRADING_STATE", false); err != nil {
		return nil, errors.Wrap(err, "invalid CHECK_TRADING_STATE")
	}
	if cfg.Failing, err = getFloat("FAILING", 0); err != nil {
		return nil, errors.Wrap(err, "invalid FAILING")
	}
	if cfg.IncreaseDepthVolume, err = getBool("INCREASE_DEPTH_VOLUME", true); err != nil {
		return nil, errors.Wrap(err, "invalid INCREASE_DEPTH_VOLUME")
	}
	if cfg.PriceLimitOffset, err = getFloat("PRICE_LIMIT_OFFSET", 40); err != nil {
		return nil, errors.Wrap(err, "invalid PRICE_LIMIT_OFFSET")
	}
	if cfg.InitialOrderID, err = getInt64("INITIAL_ORDER_ID", 1); err != nil {
		return nil, errors.Wrap(err, "invalid INITIAL_ORDER_ID")
	}
	if cfg.InitialTradeID, err = getInt64("INITIAL_TRADE_ID", 1); err != nil {
		return nil, errors.Wrap(err, "invalid INITIAL_TRADE_ID")
	}
	if cfg.Seed, err = getInt64("SEED", 1); err != nil {
		return nil, errors.Wrap(err, "invalid SEED")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// EngineSettings converts the configuration into engine settings.
func (c *Config) EngineSettings() engine.Settings {
	return engine.Settings{
		MatchOnTouch:            c.MatchOnTouch,
		Latency:                 c.Latency,
		MaxDepth:                c.MaxDepth,
		SpreadSize:              c.SpreadSize,
		BufferTime:              c.BufferTime,
		PortfolioRecalcInterval: c.PortfolioRecalcInterval,
		CheckMoney:              c.CheckMoney,
		CheckShortable:          c.CheckShortable,
		CheckTradingState:       c.CheckTradingState,
		Failing:                 c.Failing,
		IncreaseDepthVolume:     c.IncreaseDepthVolume,
		PriceLimitOffset:        decimal.NewFromFloat(c.PriceLimitOffset),
		InitialOrderID:          c.InitialOrderID,
		InitialTradeID:          c.InitialTradeID,
		Seed:                    c.Seed,
	}
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}
