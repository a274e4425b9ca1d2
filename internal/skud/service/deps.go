package service

import (
	"io"
	"log"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

const DefaultExternalSystem = "sigur"

// Deps bundles the stores and collaborators shared by the SKUD services.
// Each service uses the subset it needs.
type Deps struct {
	ExternalSystem string

	States   store.AccessStateStore
	Bindings store.PersonBindingStore
	Cards    store.CardStore
	QRTokens store.QRTokenStore
	Events   store.AccessEventStore
	Persons  store.PersonStore

	Ledger   *SyncLedger
	Audit    *Auditor
	Notifier StateNotifier
	Settings SettingsSource

	Clock  Clock
	Logger *log.Logger
}

func (d Deps) withDefaults() Deps {
	if d.ExternalSystem == "" {
		d.ExternalSystem = DefaultExternalSystem
	}
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Settings == nil {
		d.Settings = StaticSettings{FeatureQR: true, FeatureCards: true}
	}
	return d
}

// SettingsSource hands out the current runtime settings snapshot.
type SettingsSource interface {
	Current() types.Settings
}

// StaticSettings is a fixed snapshot.
type StaticSettings types.Settings

func (s StaticSettings) Current() types.Settings { return types.Settings(s) }
