package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SKUD_ENV", "staging")
	t.Setenv("SKUD_BATCH_CONCURRENCY", "-3")

	cfg := FromEnv()
	if cfg.Env != "dev" {
		t.Errorf("unknown env should fall back to dev, got %q", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Errorf("unexpected addrs %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.BatchConcurrency != 4 {
		t.Errorf("negative concurrency should use default, got %d", cfg.BatchConcurrency)
	}
	if cfg.QRDefaultTTL() != 5*time.Minute {
		t.Errorf("default ttl = %s", cfg.QRDefaultTTL())
	}
	if !cfg.FeatureQR || !cfg.FeatureCards || cfg.FeatureDirectREST {
		t.Errorf("unexpected feature defaults %+v", cfg)
	}
}

func TestFromEnvValues(t *testing.T) {
	t.Setenv("SKUD_WEBDEL_ENABLED", "true")
	t.Setenv("SKUD_WEBDEL_IP_ALLOWLIST", "10.0.0.0/8, 192.168.1.10 ,")
	t.Setenv("SKUD_ADMIN_TOKENS", "alice:t1:admin,t2:viewer")

	cfg := FromEnv()
	if !cfg.WebdelEnabled {
		t.Error("expected webdel enabled")
	}
	if len(cfg.WebdelIPAllowlist) != 2 || cfg.WebdelIPAllowlist[1] != "192.168.1.10" {
		t.Errorf("allow-list = %v", cfg.WebdelIPAllowlist)
	}

	tokens, err := cfg.ParseAdminTokens()
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Actor != "alice" || tokens[0].Role != RoleAdmin {
		t.Errorf("token 0 = %+v", tokens[0])
	}
	if tokens[1].Actor != "viewer" || tokens[1].Role != RoleViewer {
		t.Errorf("token 1 = %+v", tokens[1])
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{Env: "prod"}
	if err := cfg.Validate(); err == nil {
		t.Error("prod without signing key must fail")
	}

	cfg.QRSigningKey = "k"
	cfg.AdminTokens = []string{"bob:x:superuser"}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown role must fail")
	}

	cfg.AdminTokens = []string{"bob:x:operator", "carol:x:viewer"}
	if err := cfg.Validate(); err == nil {
		t.Error("duplicate token must fail")
	}

	cfg.AdminTokens = []string{"bob:x:operator"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.WebdelEnabled = true
	cfg.WebdelUsername = "turnstile"
	if err := cfg.Validate(); err == nil {
		t.Error("webdel enabled without a password must fail")
	}
	cfg.WebdelPassword = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("webdel with credentials rejected: %v", err)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skud.yaml")
	body := "http_addr: \":9999\"\nfeature_cards: false\nwebdel_ip_allowlist:\n  - 10.1.0.0/16\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	base := Config{HTTPAddr: ":8080", DBPath: "./x.db", FeatureCards: true}
	cfg, err := LoadFile(path, base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "./x.db" {
		t.Errorf("absent key should keep base value, got %q", cfg.DBPath)
	}
	if cfg.FeatureCards {
		t.Error("feature_cards should be overridden to false")
	}
	if len(cfg.WebdelIPAllowlist) != 1 {
		t.Errorf("allow-list = %v", cfg.WebdelIPAllowlist)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), base); err == nil {
		t.Error("missing file must fail")
	}
}
