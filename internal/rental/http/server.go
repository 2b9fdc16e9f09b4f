// Package rentalhttp exposes reservation actions, listing, mark-seen and
// push registration over HTTP.
package rentalhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/go-playground/validator/v10"
	"github.com/justinas/alice"

	"rentalBack/internal/rental/fsm"
	"rentalBack/internal/rental/lifecycle"
	"rentalBack/internal/rental/listen"
	"rentalBack/internal/rental/models"
	"rentalBack/internal/rental/seen"
)

const requestTimeout = 5 * time.Second

// Logger provides minimal logging required by the server.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Reservations is the role-gated action surface.
type Reservations interface {
	Create(ctx context.Context, renterUID string, in lifecycle.CreateInput) (models.Reservation, error)
	Get(ctx context.Context, id, viewerUID string) (models.Reservation, error)
	Do(ctx context.Context, action fsm.Action, id, actorUID string) (models.Reservation, error)
	SubmitReview(ctx context.Context, id, actorUID string, in lifecycle.ReviewInput) (models.Reservation, error)
}

// Lister returns a one-shot aggregated list.
type Lister interface {
	List(ctx context.Context, viewerUID string, opts listen.Options) ([]models.Reservation, error)
}

// Seen is the mark-seen procedure.
type Seen interface {
	MarkSeen(ctx context.Context, uid, category string) (seen.Result, error)
	Watermark(ctx context.Context, uid string) (models.Watermark, error)
}

// Counters reads the per-user counter aggregate.
type Counters interface {
	GetCounters(ctx context.Context, uid string) (models.Counters, error)
}

// Tokens stores push registration tokens.
type Tokens interface {
	AddToken(ctx context.Context, uid, token string) error
	RemoveToken(ctx context.Context, uid, token string) error
}

// Streamer serves the live reservation list.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, uid string)
}

// Server handles HTTP endpoints for the rental module.
type Server struct {
	logger       Logger
	reservations Reservations
	lister       Lister
	seen         Seen
	counters     Counters
	tokens       Tokens
	streamer     Streamer
	validate     *validator.Validate
}

// NewServer constructs Server. tokens and streamer may be nil, which leaves
// their routes unregistered.
func NewServer(logger Logger, reservations Reservations, lister Lister, seenSvc Seen, counters Counters, tokens Tokens, streamer Streamer) *Server {
	return &Server{
		logger:       logger,
		reservations: reservations,
		lister:       lister,
		seen:         seenSvc,
		counters:     counters,
		tokens:       tokens,
		streamer:     streamer,
		validate:     validator.New(),
	}
}

// RegisterRoutes registers every route on mux behind chain, which must
// establish the actor (see Authenticate).
func (s *Server) RegisterRoutes(mux *pat.PatternServeMux, chain alice.Chain) {
	mux.Post("/api/v1/reservations", chain.ThenFunc(s.createReservation))
	mux.Get("/api/v1/reservations", chain.ThenFunc(s.listReservations))
	mux.Get("/api/v1/reservations/:id", chain.ThenFunc(s.getReservation))
	mux.Post("/api/v1/reservations/:id/:action", chain.ThenFunc(s.reservationAction))

	mux.Post("/api/v1/seen/:category", chain.ThenFunc(s.markSeen))
	mux.Get("/api/v1/seen", chain.ThenFunc(s.getWatermark))
	mux.Get("/api/v1/counters", chain.ThenFunc(s.getCounters))

	if s.tokens != nil {
		mux.Post("/api/v1/push/tokens", chain.ThenFunc(s.addToken))
		mux.Del("/api/v1/push/tokens/:token", chain.ThenFunc(s.removeToken))
	}
	if s.streamer != nil {
		mux.Get("/ws/reservations", chain.ThenFunc(s.reservationsWS))
	}
}

func (s *Server) createReservation(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	var in lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := s.reservations.Create(ctx, actor, in)
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listReservations(w http.ResponseWriter, r *http.Request) {
	opts, err := listen.ParseOptions(r.URL.Query().Get("view"), r.URL.Query()["status"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	items, err := s.lister.List(ctx, ActorFrom(r.Context()), opts)
	if err != nil {
		s.logger.Errorf("list reservations: %v", err)
		writeError(w, http.StatusServiceUnavailable, "list failed")
		return
	}
	if items == nil {
		items = []models.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": items})
}

func (s *Server) getReservation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := s.reservations.Get(ctx, r.URL.Query().Get(":id"), ActorFrom(r.Context()))
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) reservationAction(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(":id")
	action := fsm.Action(r.URL.Query().Get(":action"))
	if !action.Valid() {
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	actor := ActorFrom(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		res models.Reservation
		err error
	)
	if action == fsm.ActionReview {
		var in lifecycle.ReviewInput
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeError(w, http.StatusBadRequest, "invalid json")
				return
			}
		}
		if err := s.validate.Struct(in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err = s.reservations.SubmitReview(ctx, id, actor, in)
	} else {
		res, err = s.reservations.Do(ctx, action, id, actor)
	}
	if err != nil {
		s.writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) markSeen(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := s.seen.MarkSeen(ctx, ActorFrom(r.Context()), r.URL.Query().Get(":category"))
	if err != nil {
		if errors.Is(err, models.ErrInvalidCategory) {
			writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		s.logger.Errorf("mark seen: %v", err)
		writeError(w, http.StatusServiceUnavailable, "mark seen failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getWatermark(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	wm, err := s.seen.Watermark(ctx, ActorFrom(r.Context()))
	if err != nil {
		s.logger.Errorf("get watermark: %v", err)
		writeError(w, http.StatusServiceUnavailable, "fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, wm)
}

func (s *Server) getCounters(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	c, err := s.counters.GetCounters(ctx, ActorFrom(r.Context()))
	if err != nil {
		s.logger.Errorf("get counters: %v", err)
		writeError(w, http.StatusServiceUnavailable, "fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type tokenPayload struct {
	Token string `json:"token" validate:"required,max=4096"`
}

func (s *Server) addToken(w http.ResponseWriter, r *http.Request) {
	var req tokenPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.tokens.AddToken(ctx, ActorFrom(r.Context()), req.Token); err != nil {
		s.logger.Errorf("add push token: %v", err)
		writeError(w, http.StatusServiceUnavailable, "save failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) removeToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.tokens.RemoveToken(ctx, ActorFrom(r.Context()), r.URL.Query().Get(":token")); err != nil {
		s.logger.Errorf("remove push token: %v", err)
		writeError(w, http.StatusServiceUnavailable, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reservationsWS(w http.ResponseWriter, r *http.Request) {
	s.streamer.ServeWS(w, r, ActorFrom(r.Context()))
}
