package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// WebdelGate guards the hardware-facing endpoints: the integration must be
// enabled, the caller's address allow-listed and its Basic credentials valid.
type WebdelGate struct {
	settings SettingsSource
	compare  func(hash, password []byte) error

	// The last password that passed bcrypt, as a digest, for the hash it
	// matched. Turnstiles present the same credentials on every call.
	mu         sync.Mutex
	cachedHash string
	cachedSum  [sha256.Size]byte
}

func NewWebdelGate(settings SettingsSource) *WebdelGate {
	return &WebdelGate{settings: settings, compare: bcrypt.CompareHashAndPassword}
}

// Credentials is what the caller presented.
type Credentials struct {
	RemoteAddr string
	Username   string
	Password   string
	HasBasic   bool
}

func (g *WebdelGate) Check(c Credentials) error {
	s := g.settings.Current()
	if !s.WebdelEnabled {
		return ErrWebdelDisabled
	}
	if err := checkAllowlist(s.IPAllowlist, c.RemoteAddr); err != nil {
		return err
	}

	if s.Username == "" || s.Password == "" {
		return ErrWebdelMisconfigured
	}
	if !c.HasBasic {
		return fmt.Errorf("%w: basic auth required", ErrBadCredentials)
	}
	userOK := subtle.ConstantTimeCompare([]byte(c.Username), []byte(s.Username)) == 1
	passOK := g.passwordMatches(s.Password, c.Password)
	if !userOK || !passOK {
		return ErrBadCredentials
	}
	return nil
}

func (g *WebdelGate) passwordMatches(stored, presented string) bool {
	if !isBcryptHash(stored) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
	}

	sum := sha256.Sum256([]byte(presented))
	g.mu.Lock()
	hit := g.cachedHash == stored && subtle.ConstantTimeCompare(g.cachedSum[:], sum[:]) == 1
	g.mu.Unlock()
	if hit {
		return true
	}

	if g.compare([]byte(stored), []byte(presented)) != nil {
		return false
	}
	g.mu.Lock()
	g.cachedHash, g.cachedSum = stored, sum
	g.mu.Unlock()
	return true
}

// checkAllowlist admits everyone when the list is empty. Malformed entries
// never match.
func checkAllowlist(list []string, remote string) error {
	if len(list) == 0 {
		return nil
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(remote))
	if err != nil {
		return fmt.Errorf("%w: unparseable address %q", ErrIPNotAllowed, remote)
	}
	addr = addr.Unmap()
	for _, entry := range list {
		p, err := parseAllowEntry(entry)
		if err != nil {
			continue
		}
		if p.Contains(addr) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrIPNotAllowed, addr)
}
