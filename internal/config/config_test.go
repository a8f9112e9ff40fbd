package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if !cfg.MatchOnTouch {
		t.Error("MatchOnTouch must default to true")
	}
	if cfg.MaxDepth != 5 || cfg.SpreadSize != 2 {
		t.Errorf("depth defaults = %d/%d, want 5/2", cfg.MaxDepth, cfg.SpreadSize)
	}
	if cfg.InitialOrderID != 1 || cfg.InitialTradeID != 1 || cfg.Seed != 1 {
		t.Errorf("id defaults = %d/%d/%d, want 1/1/1",
			cfg.InitialOrderID, cfg.InitialTradeID, cfg.Seed)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LATENCY", "150ms")
	t.Setenv("MAX_DEPTH", "10")
	t.Setenv("CHECK_MONEY", "true")
	t.Setenv("FAILING", "2.5")
	t.Setenv("SEED", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Latency != 150*time.Millisecond {
		t.Errorf("Latency = %s, want 150ms", cfg.Latency)
	}
	if cfg.MaxDepth != 10 {
		t.Errorf("MaxDepth = %d, want 10", cfg.MaxDepth)
	}
	if !cfg.CheckMoney {
		t.Error("CheckMoney must be true")
	}
	if cfg.Failing != 2.5 {
		t.Errorf("Failing = %v, want 2.5", cfg.Failing)
	}
	if cfg.Seed != 42 {
		t.Errorf("Seed = %d, want 42", cfg.Seed)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("LATENCY", "soon")
	if _, err := Load(); err == nil {
		t.Error("a malformed duration must fail")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FAILING", "150")
	if _, err := Load(); err == nil {
		t.Error("a failing rate above 100 must fail validation")
	}

	t.Setenv("FAILING", "0")
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := Load(); err == nil {
		t.Error("an unknown log level must fail validation")
	}
}

func TestEngineSettingsConversion(t *testing.T) {
	t.Setenv("PRICE_LIMIT_OFFSET", "12.5")
	t.Setenv("BUFFER_TIME", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := cfg.EngineSettings()
	if s.PriceLimitOffset.String() != "12.5" {
		t.Errorf("PriceLimitOffset = %s, want 12.5", s.PriceLimitOffset)
	}
	if s.BufferTime != 2*time.Second {
		t.Errorf("BufferTime = %s, want 2s", s.BufferTime)
	}
}
