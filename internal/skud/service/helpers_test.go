package service_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store/memory"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []types.StateChange
}

func (n *recordingNotifier) Notify(_ context.Context, c types.StateChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
}

func (n *recordingNotifier) Changes() []types.StateChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.StateChange(nil), n.changes...)
}

type harness struct {
	clock    *fakeClock
	states   *memory.AccessStateStore
	bindings *memory.PersonBindingStore
	cards    *memory.CardStore
	qrTokens *memory.QRTokenStore
	events   *memory.AccessEventStore
	persons  *memory.PersonStore
	jobs     *memory.SyncJobStore
	audit    *memory.AuditStore
	notifier *recordingNotifier
	settings *service.StaticSettings // flags can be flipped after build
	deps     service.Deps

	access   *service.AccessService
	cardSvc  *service.CardService
	qr       *service.QRService
	delegate *service.DelegateResolver
	ingest   *service.EventIngestor
}

const (
	p1 int64 = 1
	p2 int64 = 2
	p3 int64 = 3 // inactive
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	jobs := memory.NewSyncJobStore()
	bindings := memory.NewPersonBindingStore()
	events := memory.NewAccessEventStore()
	h := &harness{
		clock:    newFakeClock(),
		states:   memory.NewAccessStateStore(bindings, jobs),
		bindings: bindings,
		cards:    memory.NewCardStore(jobs),
		qrTokens: memory.NewQRTokenStore(events, jobs),
		events:   events,
		persons: memory.NewPersonStore(
			types.Person{ID: p1, FullName: "Person One", IsActive: true},
			types.Person{ID: p2, FullName: "Person Two", IsActive: true},
			types.Person{ID: p3, FullName: "Person Three", IsActive: false},
		),
		jobs:     jobs,
		audit:    memory.NewAuditStore(),
		notifier: &recordingNotifier{},
		settings: &service.StaticSettings{FeatureQR: true, FeatureCards: true},
	}
	h.deps = service.Deps{
		ExternalSystem: "sigur",
		States:         h.states,
		Bindings:       h.bindings,
		Cards:          h.cards,
		QRTokens:       h.qrTokens,
		Events:         h.events,
		Persons:        h.persons,
		Ledger:         service.NewSyncLedger(h.jobs, "sigur", h.clock),
		Audit:          service.NewAuditor(h.audit, h.clock, silentLogger()),
		Notifier:       h.notifier,
		Settings:       h.settings,
		Clock:          h.clock,
		Logger:         silentLogger(),
	}

	h.access = service.NewAccessService(h.deps, 3)
	h.cardSvc = service.NewCardService(h.deps)
	qr, err := service.NewQRService(h.deps, service.QRConfig{SigningKey: []byte("test-signing-key-0123456789abcdef")})
	require.NoError(t, err)
	h.qr = qr
	h.delegate = service.NewDelegateResolver(h.deps, qr)
	h.ingest = service.NewEventIngestor(h.deps)
	return h
}

func delegateReq(empID, key string) types.DelegateRequest {
	return types.DelegateRequest{
		EmpID:  types.FlexString(empID),
		KeyHex: types.FlexString(key),
		Raw:    []byte(`{"keyHex":"` + key + `","empid":"` + empID + `"}`),
	}
}
