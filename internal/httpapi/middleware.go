package httpapi

import (
	"context"
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/skud/internal/config"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("method=%s path=%s from=%s status=%d dur=%s",
			r.Method, r.URL.Path, r.RemoteAddr, rec.status, time.Since(start))
	})
}

// remoteIP is the TCP peer address. Forwarding headers are not trusted.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// webdelGate rejects hardware calls the gate does not admit: 503 when the
// integration is off, 403 for a foreign address, 401 for bad credentials.
func (s *Server) webdelGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		err := s.gate.Check(service.Credentials{
			RemoteAddr: remoteIP(r),
			Username:   user,
			Password:   pass,
			HasBasic:   ok,
		})
		if err != nil {
			status := statusFor(err)
			if status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Basic realm="webdel"`)
			}
			s.logger.Printf("webdel rejected from=%s code=%s", remoteIP(r), service.ErrorCode(err))
			writeError(w, status, service.ErrorCode(err), err.Error())
			return
		}
		next(w, r)
	}
}

type ctxKey int

const actorKey ctxKey = iota

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey).(string); ok {
		return a
	}
	return "unknown"
}

// requireRole authenticates a bearer token and checks it carries at least min.
func (s *Server) requireRole(min config.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="skud"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}
		var match *config.AdminToken
		for i := range s.tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.tokens[i].Token)) == 1 {
				match = &s.tokens[i]
			}
		}
		if match == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="skud"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "unknown token")
			return
		}
		if match.Role < min {
			writeError(w, http.StatusForbidden, "forbidden", "requires role "+min.String())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey, match.Actor)))
	}
}
