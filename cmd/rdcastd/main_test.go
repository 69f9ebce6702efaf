package main

import "testing"

func TestLoadOrBuildConfigFromFlags(t *testing.T) {
	cfg, err := loadOrBuildConfig("", ":9443", "0123456789abcdef", 6_000_000, true, "127.0.0.1:9090", "EF")
	if err != nil {
		t.Fatalf("loadOrBuildConfig: %v", err)
	}
	if cfg.Listen != ":9443" {
		t.Errorf("Listen = %q, want :9443", cfg.Listen)
	}
	if cfg.InitialBitrate != 6_000_000 {
		t.Errorf("InitialBitrate = %d, want 6_000_000", cfg.InitialBitrate)
	}
	if len(cfg.Key) != 16 {
		t.Errorf("Key length = %d, want 16", len(cfg.Key))
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9090" {
		t.Errorf("Metrics = %+v, want enabled on 127.0.0.1:9090", cfg.Metrics)
	}
}

func TestLoadOrBuildConfigRejectsBadKey(t *testing.T) {
	if _, err := loadOrBuildConfig("", ":9443", "too-short", 0, false, "", ""); err == nil {
		t.Fatal("expected an error for an invalid key")
	}
}

func TestLoadOrBuildConfigRejectsBadDSCP(t *testing.T) {
	if _, err := loadOrBuildConfig("", ":9443", "0123456789abcdef", 0, false, "", "NOT-A-DSCP"); err == nil {
		t.Fatal("expected an error for an invalid dscp name")
	}
}
