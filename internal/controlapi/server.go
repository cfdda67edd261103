// Package controlapi is the loopback-only, token-authenticated HTTP
// surface (§4.9, §6): enqueue/pause/resume/retry/delete downloads and
// batches, plus an SSE event stream. Grounded on the chi router
// (promoted from an indirect pack dependency) and on
// internal/server/rpc_auth.go's constant-time Bearer-token middleware,
// adapted from a JSON-RPC error body to plain HTTP status codes.
package controlapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// Server wires the Engine and Progress Bus behind token auth.
type Server struct {
	engine *zdmr.Engine
	bus    *zdmr.Bus
	token  string
	router chi.Router
}

// New builds the chi router and registers every route in §6's table.
func New(engine *zdmr.Engine, bus *zdmr.Bus, token string) *Server {
	s := &Server{engine: engine, bus: bus, token: token}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requireToken)

	r.Post("/downloads", s.handleCreateDownloads)
	r.Post("/batches", s.handleCreateBatch)
	r.Post("/downloads/{id}/pause", s.handlePause)
	r.Post("/downloads/{id}/resume", s.handleResume)
	r.Post("/downloads/{id}/retry", s.handleRetry)
	r.Delete("/downloads/{id}", s.handleDelete)
	r.Get("/events", s.handleEvents)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireToken enforces §4.9: "Authorization: Bearer <token> OR
// X-ZDMR-Token: <token>, compared constant-time against the stored
// token." Grounded on internal/server/rpc_auth.go's requireToken, kept
// as a chi middleware instead of a bare http.Handler wrapper.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.validToken(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validToken(r *http.Request) bool {
	if s.token == "" {
		return false
	}
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) == 1 {
			return true
		}
	}
	if tok := r.Header.Get("X-ZDMR-Token"); tok != "" {
		return subtle.ConstantTimeCompare([]byte(tok), []byte(s.token)) == 1
	}
	return false
}
