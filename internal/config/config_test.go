package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FrontDeviceID != 1 || cfg.RearDeviceID != 0 {
		t.Errorf("device ids = %d/%d, want 1/0", cfg.FrontDeviceID, cfg.RearDeviceID)
	}
	if cfg.RecoveryAttempts != 3 {
		t.Errorf("RecoveryAttempts = %d, want 3", cfg.RecoveryAttempts)
	}
	if cfg.DetectTimeout != 250*time.Millisecond {
		t.Errorf("DetectTimeout = %v, want 250ms", cfg.DetectTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DUOCAM_FRONT_DEVICE", "3")
	t.Setenv("DUOCAM_MAX_DETECT_FPS", "12.5")
	t.Setenv("DUOCAM_RECOVERY_BACKOFF", "2s")
	t.Setenv("DUOCAM_TRAY", "true")
	t.Setenv("DUOCAM_CAPTURE_FPS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.FrontDeviceID != 3 {
		t.Errorf("FrontDeviceID = %d, want 3", cfg.FrontDeviceID)
	}
	if cfg.MaxDetectFPS != 12.5 {
		t.Errorf("MaxDetectFPS = %v, want 12.5", cfg.MaxDetectFPS)
	}
	if cfg.RecoveryBackoff != 2*time.Second {
		t.Errorf("RecoveryBackoff = %v, want 2s", cfg.RecoveryBackoff)
	}
	if !cfg.Tray {
		t.Error("Tray should be enabled")
	}
	if cfg.CaptureFPS != 30 {
		t.Errorf("unparsable value should fall back to default, got %d", cfg.CaptureFPS)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DUOCAM_HTTP_ADDR=:9999\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("DUOCAM_HTTP_ADDR") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantTag string
	}{
		{name: "same device for both streams", mutate: func(c *Config) { c.FrontDeviceID = c.RearDeviceID }, wantTag: "nefield"},
		{name: "zero width", mutate: func(c *Config) { c.FrameWidth = 0 }, wantTag: "gt"},
		{name: "three hands", mutate: func(c *Config) { c.MaxHands = 3 }, wantTag: "lte"},
		{name: "unknown log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantTag: "oneof"},
		{name: "empty http addr", mutate: func(c *Config) { c.HTTPAddr = "" }, wantTag: "required"},
		{name: "infinite viewport width", mutate: func(c *Config) { c.ViewportWidth = math.Inf(1) }, wantTag: "finite"},
		{name: "NaN viewport height", mutate: func(c *Config) { c.ViewportHeight = math.NaN() }, wantTag: "finite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantTag) {
				t.Errorf("error %q should mention tag %q", err, tt.wantTag)
			}
		})
	}
}

func TestDBPath(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/duocam"}
	if got := cfg.DBPath(); got != filepath.Join("/tmp/duocam", "duocam.db") {
		t.Errorf("DBPath() = %q", got)
	}
}
