package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.AbacatePay.Timeout != 15*time.Second {
		t.Errorf("AbacatePay.Timeout = %v, want 15s", cfg.AbacatePay.Timeout)
	}
	if cfg.Reconcile.Grace != 5*time.Minute {
		t.Errorf("Reconcile.Grace = %v, want 5m", cfg.Reconcile.Grace)
	}
	if cfg.DefaultCountryCode != "55" {
		t.Errorf("DefaultCountryCode = %q, want 55", cfg.DefaultCountryCode)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("ABACATEPAY_API_KEY", "abc_123")
	t.Setenv("ABACATEPAY_WEBHOOK_SECRET", "hook")
	t.Setenv("EVOLUTION_INSTANCE", "cursos")
	t.Setenv("EVOLUTION_TIMEOUT", "3s")
	t.Setenv("RECONCILE_BATCH", "25")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %q, want postgres", cfg.DBDriver)
	}
	if cfg.AbacatePay.APIKey != "abc_123" || cfg.AbacatePay.WebhookSecret != "hook" {
		t.Errorf("AbacatePay = %+v", cfg.AbacatePay)
	}
	if cfg.Evolution.Instance != "cursos" || cfg.Evolution.Timeout != 3*time.Second {
		t.Errorf("Evolution = %+v", cfg.Evolution)
	}
	if cfg.Reconcile.Batch != 25 {
		t.Errorf("Reconcile.Batch = %d, want 25", cfg.Reconcile.Batch)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ADMIN_TOKEN=from-file\nPOSTMARK_FROM=cursos@example.com\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process env; clear it after the test.
	t.Setenv("ADMIN_TOKEN", "")
	os.Unsetenv("ADMIN_TOKEN")
	t.Setenv("POSTMARK_FROM", "")
	os.Unsetenv("POSTMARK_FROM")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AdminToken != "from-file" {
		t.Errorf("AdminToken = %q, want from-file", cfg.AdminToken)
	}
	if cfg.Postmark.From != "cursos@example.com" {
		t.Errorf("Postmark.From = %q", cfg.Postmark.From)
	}
}

func TestLoadInvalidDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
