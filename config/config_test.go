package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdcast.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nkey: \"0123456789abcdef\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InitialBitrate != 5_000_000 {
		t.Errorf("InitialBitrate = %d, want default 5_000_000", cfg.InitialBitrate)
	}
	if cfg.LivenessWindow != 3*time.Second {
		t.Errorf("LivenessWindow = %v, want default 3s", cfg.LivenessWindow)
	}
	if cfg.ExitAfter != -1 {
		t.Errorf("ExitAfter = %v, want -1 (disabled)", cfg.ExitAfter)
	}
	if len(cfg.Key) != 16 {
		t.Errorf("Key length = %d, want 16", len(cfg.Key))
	}
}

func TestLoadRejectsMissingListen(t *testing.T) {
	path := writeConfig(t, "key: \"0123456789abcdef\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for missing listen")
	}
}

func TestLoadRejectsInvalidKey(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nkey: \"too-short\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid key")
	}
}

func TestEnvOverridesFileValues(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nkey: \"0123456789abcdef\"\ninitial_bitrate_bps: 1000\n")

	t.Setenv("RDCAST_BITRATE", "8000000")
	t.Setenv("RDCAST_LIVENESS_WINDOW", "5s")
	t.Setenv("RDCAST_KEY", "00112233445566778899aabbccddeeff")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InitialBitrate != 8_000_000 {
		t.Errorf("InitialBitrate = %d, want env override 8000000", cfg.InitialBitrate)
	}
	if cfg.LivenessWindow != 5*time.Second {
		t.Errorf("LivenessWindow = %v, want env override 5s", cfg.LivenessWindow)
	}
}

func TestLoadRejectsInvalidDSCP(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\nkey: \"0123456789abcdef\"\ndscp: \"NOT-A-DSCP\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid dscp name")
	}
}

func TestParseKeyAcceptsHexAndRaw(t *testing.T) {
	hexKey := "00112233445566778899aabbccddeeff"[:32]
	if b, err := ParseKey(hexKey); err != nil || len(b) != 16 {
		t.Fatalf("ParseKey(hex) = %v, %v", b, err)
	}

	raw := "0123456789abcdef"
	if b, err := ParseKey(raw); err != nil || len(b) != 16 {
		t.Fatalf("ParseKey(raw) = %v, %v", b, err)
	}

	if _, err := ParseKey("too-short"); err == nil {
		t.Fatal("expected an error for a key of the wrong length")
	}
}
