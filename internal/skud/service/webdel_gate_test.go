package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
)

func TestWebdelGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cases := []struct {
		name     string
		settings service.StaticSettings
		creds    service.Credentials
		want     error
	}{
		{
			name:     "disabled",
			settings: service.StaticSettings{WebdelEnabled: false},
			creds:    service.Credentials{RemoteAddr: "10.0.0.1"},
			want:     service.ErrWebdelDisabled,
		},
		{
			name:     "enabled without credentials is refused",
			settings: service.StaticSettings{WebdelEnabled: true},
			creds:    service.Credentials{RemoteAddr: "203.0.113.9"},
			want:     service.ErrWebdelMisconfigured,
		},
		{
			name:     "enabled with only a username is refused",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u"},
			creds:    service.Credentials{RemoteAddr: "203.0.113.9", Username: "u", HasBasic: true},
			want:     service.ErrWebdelMisconfigured,
		},
		{
			name:     "no allow-list admits any address",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p"},
			creds:    service.Credentials{RemoteAddr: "203.0.113.9", Username: "u", Password: "p", HasBasic: true},
		},
		{
			name:     "cidr match",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p", IPAllowlist: []string{"10.0.0.0/24"}},
			creds:    service.Credentials{RemoteAddr: "10.0.0.77", Username: "u", Password: "p", HasBasic: true},
		},
		{
			name:     "ipv4-mapped ipv6 matches",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p", IPAllowlist: []string{"10.0.0.5"}},
			creds:    service.Credentials{RemoteAddr: "::ffff:10.0.0.5", Username: "u", Password: "p", HasBasic: true},
		},
		{
			name:     "ip not allowed",
			settings: service.StaticSettings{WebdelEnabled: true, IPAllowlist: []string{"10.0.0.0/24"}},
			creds:    service.Credentials{RemoteAddr: "10.0.1.1"},
			want:     service.ErrIPNotAllowed,
		},
		{
			name:     "basic auth missing",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p"},
			creds:    service.Credentials{RemoteAddr: "10.0.0.1"},
			want:     service.ErrBadCredentials,
		},
		{
			name:     "plain password ok",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p"},
			creds:    service.Credentials{RemoteAddr: "10.0.0.1", Username: "u", Password: "p", HasBasic: true},
		},
		{
			name:     "wrong user",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: "p"},
			creds:    service.Credentials{RemoteAddr: "10.0.0.1", Username: "x", Password: "p", HasBasic: true},
			want:     service.ErrBadCredentials,
		},
		{
			name:     "bcrypt password ok",
			settings: service.StaticSettings{WebdelEnabled: true, Username: "u", Password: string(hash)},
			creds:    service.Credentials{RemoteAddr: "10.0.0.1", Username: "u", Password: "hashed-pw", HasBasic: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := service.NewWebdelGate(tc.settings).Check(tc.creds)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWebdelGate_BcryptRunsOncePerPassword(t *testing.T) {
	first, err := bcrypt.GenerateFromPassword([]byte("pw-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	second, err := bcrypt.GenerateFromPassword([]byte("pw-2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	settings := &service.StaticSettings{WebdelEnabled: true, Username: "u", Password: string(first)}
	gate := service.NewWebdelGate(settings)
	calls := 0
	gate.SetCompare(func(hash, pw []byte) error {
		calls++
		return bcrypt.CompareHashAndPassword(hash, pw)
	})
	creds := func(pw string) service.Credentials {
		return service.Credentials{RemoteAddr: "10.0.0.1", Username: "u", Password: pw, HasBasic: true}
	}

	for i := 0; i < 5; i++ {
		assert.NoError(t, gate.Check(creds("pw-1")))
	}
	assert.Equal(t, 1, calls, "repeat logins reuse the verified password")

	assert.ErrorIs(t, gate.Check(creds("nope")), service.ErrBadCredentials)
	assert.Equal(t, 2, calls)
	assert.NoError(t, gate.Check(creds("pw-1")))
	assert.Equal(t, 2, calls, "a failed attempt does not evict the cached password")

	settings.Password = string(second)
	assert.ErrorIs(t, gate.Check(creds("pw-1")), service.ErrBadCredentials)
	assert.NoError(t, gate.Check(creds("pw-2")))
	assert.Equal(t, 4, calls, "a new hash is verified afresh")
}

func TestWebdelGate_CheckIsFastWithBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	gate := service.NewWebdelGate(service.StaticSettings{WebdelEnabled: true, Username: "u", Password: string(hash)})
	creds := service.Credentials{RemoteAddr: "10.0.0.1", Username: "u", Password: "pw", HasBasic: true}
	assert.NoError(t, gate.Check(creds))

	start := time.Now()
	for i := 0; i < 50; i++ {
		assert.NoError(t, gate.Check(creds))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
