package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BrandonDHaskell/Portunus/skud/internal/config"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
)

const defaultHardwareTimeout = 2 * time.Second

type Dependencies struct {
	Logger *log.Logger
	Addr   string

	// HardwareTimeout bounds a delegate decision; past it the call is denied.
	HardwareTimeout time.Duration
	AdminTokens     []config.AdminToken

	Gate     *service.WebdelGate
	Delegate *service.DelegateResolver
	Events   *service.EventIngestor
	Access   *service.AccessService
	Cards    *service.CardService
	QR       *service.QRService
	Ledger   *service.SyncLedger
	Settings *service.SettingsService
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	validate   *validator.Validate

	hardwareTimeout time.Duration
	tokens          []config.AdminToken

	gate     *service.WebdelGate
	delegate *service.DelegateResolver
	events   *service.EventIngestor
	access   *service.AccessService
	cards    *service.CardService
	qr       *service.QRService
	ledger   *service.SyncLedger
	settings *service.SettingsService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:          d.Logger,
		mux:             mux,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		hardwareTimeout: d.HardwareTimeout,
		tokens:          d.AdminTokens,
		gate:            d.Gate,
		delegate:        d.Delegate,
		events:          d.Events,
		access:          d.Access,
		cards:           d.Cards,
		qr:              d.QR,
		ledger:          d.Ledger,
		settings:        d.Settings,
	}
	if s.hardwareTimeout <= 0 {
		s.hardwareTimeout = defaultHardwareTimeout
	}

	// Hardware-facing.
	mux.HandleFunc("POST /webdel/delegate", s.webdelGate(s.handleDelegate))
	mux.HandleFunc("POST /webdel/events", s.webdelGate(s.handleEvents))

	// Admin.
	const p = "/api/v1/skud"
	viewer := func(h http.HandlerFunc) http.HandlerFunc { return s.requireRole(config.RoleViewer, h) }
	operator := func(h http.HandlerFunc) http.HandlerFunc { return s.requireRole(config.RoleOperator, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return s.requireRole(config.RoleAdmin, h) }

	mux.HandleFunc("POST "+p+"/persons/{id}/grant", operator(s.handleAccessMutation(s.access.Grant)))
	mux.HandleFunc("POST "+p+"/persons/{id}/block", operator(s.handleAccessMutation(s.access.Block)))
	mux.HandleFunc("POST "+p+"/persons/{id}/revoke", operator(s.handleAccessMutation(s.access.Revoke)))
	mux.HandleFunc("POST "+p+"/persons/{id}/delete", operator(s.handleAccessMutation(s.access.Remove)))
	mux.HandleFunc("GET "+p+"/persons/{id}/access", viewer(s.handlePersonAccess))
	mux.HandleFunc("POST "+p+"/access/batch", operator(s.handleBatch))

	mux.HandleFunc("POST "+p+"/cards", operator(s.handleCardRegister))
	mux.HandleFunc("GET "+p+"/cards/{id}", viewer(s.handleCardGet))
	mux.HandleFunc("POST "+p+"/cards/{id}/bind", operator(s.handleCardBind))
	mux.HandleFunc("POST "+p+"/cards/{id}/unbind", operator(s.handleCardReason(s.cards.Unbind)))
	mux.HandleFunc("POST "+p+"/cards/{id}/block", operator(s.handleCardReason(s.cards.Block)))
	mux.HandleFunc("POST "+p+"/cards/{id}/allow", operator(s.handleCardReason(s.cards.Allow)))
	mux.HandleFunc("POST "+p+"/cards/{id}/lost", operator(s.handleCardReason(s.cards.MarkLost)))
	mux.HandleFunc("POST "+p+"/cards/{id}/revoke", operator(s.handleCardReason(s.cards.Revoke)))

	mux.HandleFunc("POST "+p+"/qr", operator(s.handleQRIssue))
	mux.HandleFunc("POST "+p+"/qr/validate", operator(s.handleQRValidate))
	mux.HandleFunc("POST "+p+"/qr/{jti}/revoke", operator(s.handleQRRevoke))

	mux.HandleFunc("GET "+p+"/access-states", viewer(listHandler(s, s.access.List)))
	mux.HandleFunc("GET "+p+"/events", viewer(listHandler(s, s.events.List)))
	mux.HandleFunc("GET "+p+"/cards", viewer(listHandler(s, s.cards.List)))
	mux.HandleFunc("GET "+p+"/qr-tokens", viewer(listHandler(s, s.qr.List)))
	mux.HandleFunc("GET "+p+"/sync-jobs", viewer(listHandler(s, s.ledger.List)))

	mux.HandleFunc("GET "+p+"/settings", admin(s.handleSettingsGet))
	mux.HandleFunc("PUT "+p+"/settings", admin(s.handleSettingsUpdate))
	mux.HandleFunc("POST "+p+"/settings/check", admin(s.handleSettingsCheck))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
