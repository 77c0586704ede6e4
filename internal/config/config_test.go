package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	p := writeConfig(t, `
database:
  url: postgres://localhost/prospect
redis:
  url: localhost:6379
auth:
  jwt_secret: s3cret
pipeline:
  base_url: http://pipeline.local
`)
	cfg, err := LoadConfig(p, true)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Errorf("expected 3 dispatch attempts, got %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Pipeline.StartTimeout != 5*time.Minute {
		t.Errorf("expected 5m start timeout, got %v", cfg.Pipeline.StartTimeout)
	}
	if cfg.Quota.Cooldown != 24*time.Hour {
		t.Errorf("expected 24h cooldown, got %v", cfg.Quota.Cooldown)
	}
	if cfg.Quota.BatchCeiling != 50 {
		t.Errorf("expected batch ceiling 50, got %d", cfg.Quota.BatchCeiling)
	}
	if cfg.Admission.ContextCacheTTL != 30*time.Second {
		t.Errorf("expected 30s context cache ttl, got %v", cfg.Admission.ContextCacheTTL)
	}
	if cfg.Admission.ActiveJobLease != 0 {
		t.Errorf("lease must be disabled by default, got %v", cfg.Admission.ActiveJobLease)
	}
	if !cfg.Runtime.Dev {
		t.Error("expected dev runtime flag")
	}
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", cfg.Location())
	}
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	p := writeConfig(t, `
redis:
  url: localhost:6379
auth:
  jwt_secret: from-file
pipeline:
  base_url: http://pipeline.local
`)
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected env secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("expected env database url, got %q", cfg.Database.URL)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := map[string]string{
		"missing database": "redis:\n  url: x\nauth:\n  jwt_secret: s\npipeline:\n  base_url: http://p\n",
		"missing pipeline": "database:\n  url: x\nredis:\n  url: x\nauth:\n  jwt_secret: s\n",
		"bad timezone":     "database:\n  url: x\nredis:\n  url: x\nauth:\n  jwt_secret: s\npipeline:\n  base_url: http://p\nquota:\n  timezone: Mars/Olympus\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			if _, err := LoadConfig(writeConfig(t, body), false); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
