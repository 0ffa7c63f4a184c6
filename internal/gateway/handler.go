// Package gateway serves the battle solver over HTTP.
package gateway

import (
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"lnm/internal/battle"
	"lnm/internal/httpserver"
	"lnm/internal/logging"

	"github.com/gorilla/mux"
)

// Handler answers battle solve requests.
type Handler struct {
	maxBodyBytes int64
	seed         func() int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithSeed replaces the time-based seed of requests that carry none.
func WithSeed(seed func() int64) Option {
	return func(h *Handler) {
		if seed != nil {
			h.seed = seed
		}
	}
}

// NewHandler creates the gateway handler.
func NewHandler(maxBodyBytes int64, opts ...Option) *Handler {
	h := &Handler{
		maxBodyBytes: maxBodyBytes,
		seed:         func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gateway routes.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/battles/solve", h.handleSolve).Methods(http.MethodPost)
	return r
}

// SolveRequest carries a battle state in notation form. Seed makes the
// outcome reproducible.
type SolveRequest struct {
	Notation string `json:"notation"`
	Seed     *int64 `json:"seed,omitempty"`
}

// SolveResponse is the solved battle log.
type SolveResponse struct {
	Log         string `json:"log"`
	Phases      int    `json:"phases"`
	AttackerWon bool   `json:"attacker_won"`
	Seed        int64  `json:"seed"`
}

func (h *Handler) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := httpserver.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		httpserver.WriteError(w, httpserver.StatusForDecodeError(err), err.Error())
		return
	}
	notation := strings.TrimSpace(req.Notation)
	if notation == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "notation is required")
		return
	}

	initial, err := battle.ParseState(notation)
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	seed := h.seed()
	if req.Seed != nil {
		seed = *req.Seed
	}
	logger := httpserver.RequestLogger(r, logging.CategoryBattle)
	timer := logging.StartTimer(logging.CategoryBattle, "solve")
	res, err := battle.Solve(initial, rand.New(rand.NewSource(seed)))
	timer.StopWithThreshold(100 * time.Millisecond)
	switch {
	case errors.Is(err, battle.ErrAlreadyFinished), errors.Is(err, battle.ErrEmptyTroop):
		httpserver.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.Error("solve failed: %v", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	logger.WithField("seed", seed).Info("solved in %d phases", len(res.Log))
	httpserver.WriteJSON(w, http.StatusOK, SolveResponse{
		Log:         res.Log.String(),
		Phases:      len(res.Log),
		AttackerWon: res.AttackerWon,
		Seed:        seed,
	})
}
