package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role orders admin API privileges: viewer < operator < admin.
type Role int

const (
	RoleViewer Role = iota + 1
	RoleOperator
	RoleAdmin
)

func ParseRole(v string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "viewer":
		return RoleViewer, true
	case "operator":
		return RoleOperator, true
	case "admin":
		return RoleAdmin, true
	}
	return 0, false
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	}
	return "none"
}

// AdminToken is one bearer credential of the admin API.
type AdminToken struct {
	Actor string
	Token string
	Role  Role
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	// DB
	Env    string `yaml:"env"`     // "dev" | "prod"
	DBPath string `yaml:"db_path"` // e.g. "./data/skud.db"

	ExternalSystem string `yaml:"external_system"`

	// QRSigningKey is a secret and is never logged.
	QRSigningKey      string `yaml:"qr_signing_key"`
	QRDefaultTTLSecs  int    `yaml:"qr_default_ttl_seconds"`
	HardwareTimeoutMs int    `yaml:"hardware_timeout_ms"`
	SettingsRefreshS  int    `yaml:"settings_refresh_seconds"`
	BatchConcurrency  int    `yaml:"batch_concurrency"`

	// AdminTokens entries are "actor:token:role".
	AdminTokens []string `yaml:"admin_tokens"`

	// Fallbacks for the runtime settings when nothing is stored yet.
	WebdelEnabled     bool     `yaml:"webdel_enabled"`
	WebdelBaseURL     string   `yaml:"webdel_base_url"`
	WebdelUsername    string   `yaml:"webdel_username"`
	WebdelPassword    string   `yaml:"webdel_password"`
	WebdelIPAllowlist []string `yaml:"webdel_ip_allowlist"`
	IntegrationMode   string   `yaml:"integration_mode"`
	FeatureQR         bool     `yaml:"feature_qr"`
	FeatureCards      bool     `yaml:"feature_cards"`
	FeatureDirectREST bool     `yaml:"feature_direct_rest"`
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("SKUD_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: getenvDefault("SKUD_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvDefault("SKUD_GRPC_ADDR", ":9090"),
		Env:      env,
		DBPath:   getenvDefault("SKUD_DB_PATH", "./data/skud.db"),

		ExternalSystem: getenvDefault("SKUD_EXTERNAL_SYSTEM", "sigur"),

		QRSigningKey:      os.Getenv("SKUD_QR_SIGNING_KEY"),
		QRDefaultTTLSecs:  getenvInt("SKUD_QR_DEFAULT_TTL_SECONDS", 300),
		HardwareTimeoutMs: getenvInt("SKUD_HARDWARE_TIMEOUT_MS", 2000),
		SettingsRefreshS:  getenvInt("SKUD_SETTINGS_REFRESH_SECONDS", 15),
		BatchConcurrency:  getenvInt("SKUD_BATCH_CONCURRENCY", 4),

		AdminTokens: splitCSV(os.Getenv("SKUD_ADMIN_TOKENS")),

		WebdelEnabled:     getenvBool("SKUD_WEBDEL_ENABLED", false),
		WebdelBaseURL:     os.Getenv("SKUD_WEBDEL_BASE_URL"),
		WebdelUsername:    os.Getenv("SKUD_WEBDEL_USERNAME"),
		WebdelPassword:    os.Getenv("SKUD_WEBDEL_PASSWORD"),
		WebdelIPAllowlist: splitCSV(os.Getenv("SKUD_WEBDEL_IP_ALLOWLIST")),
		IntegrationMode:   getenvDefault("SKUD_INTEGRATION_MODE", "mock"),
		FeatureQR:         getenvBool("SKUD_FEATURE_QR", true),
		FeatureCards:      getenvBool("SKUD_FEATURE_CARDS", true),
		FeatureDirectREST: getenvBool("SKUD_FEATURE_DIRECT_REST", false),
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(path string, cfg Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) QRDefaultTTL() time.Duration {
	return time.Duration(c.QRDefaultTTLSecs) * time.Second
}

func (c Config) HardwareTimeout() time.Duration {
	return time.Duration(c.HardwareTimeoutMs) * time.Millisecond
}

func (c Config) SettingsRefresh() time.Duration {
	return time.Duration(c.SettingsRefreshS) * time.Second
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if c.Env == "prod" && strings.TrimSpace(c.QRSigningKey) == "" {
		return fmt.Errorf("SKUD_QR_SIGNING_KEY is required when SKUD_ENV=prod")
	}
	if c.WebdelEnabled && (c.WebdelUsername == "" || c.WebdelPassword == "") {
		return fmt.Errorf("SKUD_WEBDEL_USERNAME and SKUD_WEBDEL_PASSWORD are required when webdel is enabled")
	}
	if _, err := c.ParseAdminTokens(); err != nil {
		return err
	}
	return nil
}

// ParseAdminTokens decodes AdminTokens. A bare "token:role" entry gets the
// role name as its actor.
func (c Config) ParseAdminTokens() ([]AdminToken, error) {
	out := make([]AdminToken, 0, len(c.AdminTokens))
	seen := make(map[string]struct{}, len(c.AdminTokens))
	for _, raw := range c.AdminTokens {
		parts := strings.Split(strings.TrimSpace(raw), ":")
		var actor, token, role string
		switch len(parts) {
		case 2:
			token, role = parts[0], parts[1]
			actor = role
		case 3:
			actor, token, role = parts[0], parts[1], parts[2]
		default:
			return nil, fmt.Errorf("admin token entry must be actor:token:role")
		}
		r, ok := ParseRole(role)
		if !ok {
			return nil, fmt.Errorf("admin token for %q: unknown role %q", actor, role)
		}
		if strings.TrimSpace(token) == "" || strings.TrimSpace(actor) == "" {
			return nil, fmt.Errorf("admin token entry has an empty field")
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("admin token for %q is not unique", actor)
		}
		seen[token] = struct{}{}
		out = append(out, AdminToken{Actor: strings.TrimSpace(actor), Token: strings.TrimSpace(token), Role: r})
	}
	return out, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
