// Package api exposes the scheduling service's REST surface. Handlers stay
// thin: request resolution and validation live in the models package, state
// rules in the store's guarded updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"suiterunner/internal/models"
	"suiterunner/internal/store"
)

// Error codes carried in the 4xx envelope. Clients branch on these, the
// message next to them is display-only.
const (
	codeBadRequest   = "bad_request"
	codeValidation   = "validation_error"
	codeNotFound     = "not_found"
	codeInvalidState = "invalid_state"
	codeInternal     = "internal_error"
)

type Server struct {
	ctx    context.Context
	store  *store.Store
	router *chi.Mux
}

// New creates a new API server instance around the given store
func New(ctx context.Context, st *store.Store) *Server {
	s := &Server{
		ctx:    ctx,
		store:  st,
		router: chi.NewRouter(),
	}

	// Set up middleware
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Route("/api", func(r chi.Router) {
		r.Mount("/schedules", NewScheduleRouter(ctx, st))
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// errorResponse is the uniform rejection payload
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func readJson(w http.ResponseWriter, r *http.Request, payload any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Could not close request body")
		}
	}()

	err := json.NewDecoder(r.Body).Decode(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "could not parse request body")
	}
	return err
}

func serveJson(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("JSON encoding issue")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	serveJson(w, status, errorResponse{Error: message, Code: code})
}

// storeError maps storage failures onto the error envelope. Anything
// unrecognised is logged and served as an opaque 500 so internals never
// leak to clients.
func storeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, codeValidation, verr.Message)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrRunNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidState):
		writeError(w, http.StatusConflict, codeInvalidState, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled storage error")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
