package service

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/controller"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

// Keys of the skud_settings table.
const (
	keyWebdelEnabled     = "webdel_enabled"
	keyBaseURL           = "base_url"
	keyUsername          = "username"
	keyPassword          = "password"
	keyIPAllowlist       = "ip_allowlist"
	keyIntegrationMode   = "integration_mode"
	keyFeatureQR         = "feature_qr"
	keyFeatureCards      = "feature_cards"
	keyFeatureDirectREST = "feature_direct_rest"
	keyUpdatedAt         = "updated_at"
)

// SettingsService serves the runtime settings snapshot. Stored overrides win
// over the environment fallback. Readers on the hardware path only touch the
// in-memory snapshot.
type SettingsService struct {
	store      store.SettingsStore
	fallback   types.Settings
	controller controller.Client
	audit      *Auditor
	clock      Clock

	current atomic.Pointer[types.Settings]
}

func NewSettingsService(s store.SettingsStore, fallback types.Settings, c controller.Client, audit *Auditor, clock Clock) *SettingsService {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback.IntegrationMode == "" {
		fallback.IntegrationMode = types.ModeMock
	}
	svc := &SettingsService{store: s, fallback: fallback, controller: c, audit: audit, clock: clock}
	snap := fallback
	svc.current.Store(&snap)
	return svc
}

func (s *SettingsService) Current() types.Settings {
	return *s.current.Load()
}

// Reload rebuilds the snapshot from the store.
func (s *SettingsService) Reload(ctx context.Context) error {
	values, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	snap := merge(s.fallback, values)
	s.current.Store(&snap)
	return nil
}

func merge(base types.Settings, values map[string]string) types.Settings {
	out := base
	out.IPAllowlist = append([]string(nil), base.IPAllowlist...)
	boolVal := func(key string, dst *bool) {
		if v, ok := values[key]; ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	strVal := func(key string, dst *string) {
		if v, ok := values[key]; ok {
			*dst = v
		}
	}
	boolVal(keyWebdelEnabled, &out.WebdelEnabled)
	strVal(keyBaseURL, &out.BaseURL)
	strVal(keyUsername, &out.Username)
	strVal(keyPassword, &out.Password)
	if v, ok := values[keyIPAllowlist]; ok {
		out.IPAllowlist = splitList(v)
	}
	if v, ok := values[keyIntegrationMode]; ok {
		if m, ok := types.ParseIntegrationMode(v); ok {
			out.IntegrationMode = m
		}
	}
	boolVal(keyFeatureQR, &out.FeatureQR)
	boolVal(keyFeatureCards, &out.FeatureCards)
	boolVal(keyFeatureDirectREST, &out.FeatureDirectREST)
	if v, ok := values[keyUpdatedAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			out.UpdatedAt = &t
		}
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Update persists a partial change and refreshes the snapshot immediately.
// A new password is stored as a bcrypt hash. The result is masked.
func (s *SettingsService) Update(ctx context.Context, patch types.SettingsPatch, actor string) (out types.Settings, err error) {
	var changed []string
	defer func() {
		s.audit.Record(ctx, actor, "settings.update", "settings", "skud", err, map[string]any{"keys": changed})
	}()

	values := map[string]string{}
	setBool := func(key string, v *bool) {
		if v != nil {
			values[key] = strconv.FormatBool(*v)
		}
	}
	setBool(keyWebdelEnabled, patch.WebdelEnabled)
	setBool(keyFeatureQR, patch.FeatureQR)
	setBool(keyFeatureCards, patch.FeatureCards)
	setBool(keyFeatureDirectREST, patch.FeatureDirectREST)
	if patch.BaseURL != nil {
		values[keyBaseURL] = strings.TrimSpace(*patch.BaseURL)
	}
	if patch.Username != nil {
		values[keyUsername] = strings.TrimSpace(*patch.Username)
	}
	if patch.Password != nil {
		pw := *patch.Password
		if pw != "" && !isBcryptHash(pw) {
			h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				return types.Settings{}, fmt.Errorf("hash password: %w", err)
			}
			pw = string(h)
		}
		values[keyPassword] = pw
	}
	if patch.IPAllowlist != nil {
		for _, entry := range *patch.IPAllowlist {
			if _, err := parseAllowEntry(entry); err != nil {
				return types.Settings{}, fmt.Errorf("%w: ip allow-list entry %q", ErrValidation, entry)
			}
		}
		values[keyIPAllowlist] = strings.Join(*patch.IPAllowlist, ",")
	}
	if patch.IntegrationMode != nil {
		m, ok := types.ParseIntegrationMode(*patch.IntegrationMode)
		if !ok {
			return types.Settings{}, fmt.Errorf("%w: integration mode %q", ErrValidation, *patch.IntegrationMode)
		}
		values[keyIntegrationMode] = string(m)
	}
	for k := range values {
		changed = append(changed, k)
	}
	if len(values) == 0 {
		return s.Current().Masked(), nil
	}

	now := s.clock.Now()
	values[keyUpdatedAt] = now.Format(time.RFC3339Nano)
	if err := s.store.Save(ctx, values, actor, now); err != nil {
		return types.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := s.Reload(ctx); err != nil {
		return types.Settings{}, err
	}
	return s.Current().Masked(), nil
}

// Check probes the controller with the current settings.
func (s *SettingsService) Check(ctx context.Context) types.ConnectivityResult {
	cur := s.Current()
	if s.controller == nil {
		return types.ConnectivityResult{Mode: cur.IntegrationMode, Message: "no controller client"}
	}
	return s.controller.Check(ctx, cur)
}

func isBcryptHash(v string) bool {
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}

// parseAllowEntry accepts a single address or a CIDR prefix.
func parseAllowEntry(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	a, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen()), nil
}
