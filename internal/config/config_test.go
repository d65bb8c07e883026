package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "RISK_THRESHOLD", "BAND_BOUNDARIES",
		"RISK_FACTOR_WEIGHTS", "OTLP_ENDPOINT", "EMIT_QUEUE_SIZE",
		"METRICS_INTERVAL", "ENABLE_MOCK_MODE", "DATABASE_URL", "RANDOM_SEED",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %s, want %s", cfg.Port, DefaultPort)
	}
	if cfg.RiskThreshold != DefaultRiskThreshold {
		t.Errorf("RiskThreshold = %v, want %v", cfg.RiskThreshold, DefaultRiskThreshold)
	}
	if len(cfg.BandBoundaries) != 2 || cfg.BandBoundaries[0] != 50 || cfg.BandBoundaries[1] != 1000 {
		t.Errorf("BandBoundaries = %v, want [50 1000]", cfg.BandBoundaries)
	}
	if !cfg.MockMode {
		t.Error("MockMode should default to true")
	}
	if cfg.EmitQueueSize != DefaultEmitQueueSize {
		t.Errorf("EmitQueueSize = %d, want %d", cfg.EmitQueueSize, DefaultEmitQueueSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_THRESHOLD", "85")
	t.Setenv("BAND_BOUNDARIES", "100,2500")
	t.Setenv("RISK_FACTOR_WEIGHTS", "velocity:12,location:3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.RiskThreshold != 85 {
		t.Errorf("RiskThreshold = %v, want 85", cfg.RiskThreshold)
	}
	if cfg.BandBoundaries[1] != 2500 {
		t.Errorf("BandBoundaries = %v, want [100 2500]", cfg.BandBoundaries)
	}
	if cfg.RiskFactorWeights["velocity"] != 12 {
		t.Errorf("velocity weight = %v, want 12", cfg.RiskFactorWeights["velocity"])
	}
	if _, ok := cfg.RiskFactorWeights["merchant_category"]; ok {
		t.Error("override should replace the default weight set entirely")
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_THRESHOLD", "150")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range threshold")
	}
}

func TestValidateRejectsUnorderedBoundaries(t *testing.T) {
	clearEnv(t)
	t.Setenv("BAND_BOUNDARIES", "1000,50")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for descending boundaries")
	}
}

func TestLoadRejectsMalformedWeights(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_FACTOR_WEIGHTS", "velocity=12")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed weight entry")
	}
}

func TestFactorNamesStableOrder(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	names := cfg.FactorNames()
	want := []string{"location", "merchant_category", "velocity"}
	if len(names) != len(want) {
		t.Fatalf("FactorNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("FactorNames() = %v, want %v", names, want)
		}
	}
}
