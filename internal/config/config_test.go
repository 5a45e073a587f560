package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.SinkDriver != "sqlite" {
		t.Errorf("SinkDriver = %q, want sqlite", cfg.SinkDriver)
	}
	if cfg.PlayerReadyTimeout != 30*time.Second {
		t.Errorf("PlayerReadyTimeout = %v, want 30s", cfg.PlayerReadyTimeout)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want 2h", cfg.SessionTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADTRIAL_ADDR", ":9999")
	t.Setenv("ADTRIAL_SINK_DRIVER", "memory")
	t.Setenv("ADTRIAL_PLAYER_READY_TIMEOUT", "45s")
	t.Setenv("ADTRIAL_CORS_ORIGINS", "https://study.example.com, https://alt.example.com")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.SinkDriver != "memory" {
		t.Errorf("SinkDriver = %q", cfg.SinkDriver)
	}
	if cfg.PlayerReadyTimeout != 45*time.Second {
		t.Errorf("PlayerReadyTimeout = %v", cfg.PlayerReadyTimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://study.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadDurationAsBareSeconds(t *testing.T) {
	t.Setenv("ADTRIAL_PLAYER_READY_TIMEOUT", "45")
	cfg := Load()
	if cfg.PlayerReadyTimeout != 45*time.Second {
		t.Errorf("PlayerReadyTimeout = %v, want 45s", cfg.PlayerReadyTimeout)
	}
}

func TestLoadMalformedDurationFallsBack(t *testing.T) {
	t.Setenv("ADTRIAL_SESSION_TTL", "soon")
	cfg := Load()
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v, want default 2h", cfg.SessionTTL)
	}
}
