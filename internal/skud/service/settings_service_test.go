package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/controller"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store/memory"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func newSettings(t *testing.T, fallback types.Settings) (*service.SettingsService, *memory.SettingsStore, *controller.Mock) {
	t.Helper()
	st := memory.NewSettingsStore()
	ctrl := &controller.Mock{Result: types.ConnectivityResult{OK: true}}
	svc := service.NewSettingsService(st, fallback, ctrl, service.NewAuditor(memory.NewAuditStore(), nil, silentLogger()), newFakeClock())
	return svc, st, ctrl
}

func ptr[T any](v T) *T { return &v }

func TestSettings_StoredOverridesWinOverFallback(t *testing.T) {
	svc, st, _ := newSettings(t, types.Settings{WebdelEnabled: false, Username: "env-user", FeatureQR: true})
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, map[string]string{"webdel_enabled": "true", "ip_allowlist": "10.0.0.0/8, 192.168.1.5"}, "db", time.Time{}))
	require.NoError(t, svc.Reload(ctx))

	cur := svc.Current()
	assert.True(t, cur.WebdelEnabled)
	assert.Equal(t, "env-user", cur.Username)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cur.IPAllowlist)
	assert.True(t, cur.FeatureQR)
}

func TestSettings_UpdateHashesPasswordAndMasks(t *testing.T) {
	svc, st, _ := newSettings(t, types.Settings{})
	ctx := context.Background()

	out, err := svc.Update(ctx, types.SettingsPatch{
		WebdelEnabled: ptr(true),
		Username:      ptr("turnstile"),
		Password:      ptr("s3cret"),
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "********", out.Password)
	assert.NotNil(t, out.UpdatedAt)

	stored, err := st.Load(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", stored["password"])
	assert.Contains(t, stored["password"], "$2a$")

	gate := service.NewWebdelGate(svc)
	require.NoError(t, gate.Check(service.Credentials{RemoteAddr: "10.1.1.1", Username: "turnstile", Password: "s3cret", HasBasic: true}))
	require.ErrorIs(t, gate.Check(service.Credentials{RemoteAddr: "10.1.1.1", Username: "turnstile", Password: "nope", HasBasic: true}), service.ErrBadCredentials)
}

func TestSettings_UpdateRejectsBadInput(t *testing.T) {
	svc, _, _ := newSettings(t, types.Settings{})
	ctx := context.Background()

	_, err := svc.Update(ctx, types.SettingsPatch{IntegrationMode: ptr("carrier_pigeon")}, "admin")
	require.ErrorIs(t, err, service.ErrValidation)
	_, err = svc.Update(ctx, types.SettingsPatch{IPAllowlist: &[]string{"not-an-ip"}}, "admin")
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestSettings_CheckUsesController(t *testing.T) {
	svc, _, ctrl := newSettings(t, types.Settings{IntegrationMode: types.ModeWebdel})

	res := svc.Check(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, types.ModeWebdel, res.Mode)
	assert.Equal(t, 1, ctrl.Checks())
}

func TestSettingsRefresher_PicksUpStoreChanges(t *testing.T) {
	svc, st, _ := newSettings(t, types.Settings{})
	ctx := context.Background()

	r := service.NewSettingsRefresher(svc, 10*time.Millisecond, silentLogger())
	r.Start(ctx)
	defer r.Stop()

	require.NoError(t, st.Save(ctx, map[string]string{"feature_cards": "true"}, "db", time.Time{}))
	assert.Eventually(t, func() bool { return svc.Current().FeatureCards }, time.Second, 10*time.Millisecond)
}

func TestSettingsRefresher_DisabledStillLoadsOnce(t *testing.T) {
	svc, st, _ := newSettings(t, types.Settings{})
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, map[string]string{"feature_qr": "true"}, "db", time.Time{}))

	r := service.NewSettingsRefresher(svc, 0, silentLogger())
	r.Start(ctx)
	r.Stop()
	assert.True(t, svc.Current().FeatureQR)
}
