package types

import (
	"strings"
	"time"
)

type IntegrationMode string

const (
	ModeMock      IntegrationMode = "mock"
	ModeWebdel    IntegrationMode = "webdel"
	ModeSigurREST IntegrationMode = "sigur_rest"
)

func ParseIntegrationMode(v string) (IntegrationMode, bool) {
	switch IntegrationMode(strings.ToLower(strings.TrimSpace(v))) {
	case ModeMock:
		return ModeMock, true
	case ModeWebdel:
		return ModeWebdel, true
	case ModeSigurREST:
		return ModeSigurREST, true
	}
	return "", false
}

// Settings is the runtime configuration of the integration. Every field can
// be changed without a redeploy.
type Settings struct {
	WebdelEnabled     bool            `json:"webdelEnabled"`
	BaseURL           string          `json:"baseUrl"`
	Username          string          `json:"username"`
	Password          string          `json:"password,omitempty"`
	IPAllowlist       []string        `json:"ipAllowlist"`
	IntegrationMode   IntegrationMode `json:"integrationMode"`
	FeatureQR         bool            `json:"featureQr"`
	FeatureCards      bool            `json:"featureCards"`
	FeatureDirectREST bool            `json:"featureDirectRest"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
}

// Masked returns a copy safe to hand to API clients.
func (s Settings) Masked() Settings {
	out := s
	out.IPAllowlist = append([]string(nil), s.IPAllowlist...)
	if out.Password != "" {
		out.Password = "********"
	}
	return out
}

// SettingsPatch carries a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	WebdelEnabled     *bool     `json:"webdelEnabled"`
	BaseURL           *string   `json:"baseUrl" validate:"omitempty,url"`
	Username          *string   `json:"username"`
	Password          *string   `json:"password"`
	IPAllowlist       *[]string `json:"ipAllowlist"`
	IntegrationMode   *string   `json:"integrationMode" validate:"omitempty,oneof=mock webdel sigur_rest"`
	FeatureQR         *bool     `json:"featureQr"`
	FeatureCards      *bool     `json:"featureCards"`
	FeatureDirectREST *bool     `json:"featureDirectRest"`
}

type ConnectivityResult struct {
	OK        bool            `json:"ok"`
	Mode      IntegrationMode `json:"mode"`
	Message   string          `json:"message,omitempty"`
	LatencyMs int64           `json:"latencyMs"`
}
