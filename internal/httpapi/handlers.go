package httpapi

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
	"github.com/DoyleJ11/guessr-backend/internal/hub"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
	"github.com/DoyleJ11/guessr-backend/internal/session"
	"github.com/DoyleJ11/guessr-backend/internal/store"
	"github.com/DoyleJ11/guessr-backend/internal/types"
	wire "github.com/DoyleJ11/guessr-backend/pkg/types"
)

const maxCodeAttempts = 10

type api struct {
	store  store.Store
	broker *relay.Broker
	hub    *hub.Hub
	log    *zap.Logger
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateGameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	g := store.NewGame{
		IsMulti: req.IsMulti,
		Rounds:  types.Rounds(req.Rounds),
		Owner:   engine.Player{Name: req.Owner.Name, Icon: req.Owner.Icon},
	}
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			writeError(w, http.StatusInternalServerError, "failed to create game")
			return
		}
		code, err := GenerateCode()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate code")
			return
		}
		g.Code = code

		game, owner, err := a.store.CreateGame(r.Context(), g)
		if errors.Is(err, store.ErrCodeTaken) {
			a.log.Debug("collision on code, regenerating", zap.String("code", code))
			continue
		}
		if err != nil {
			a.fail(w, err)
			return
		}

		a.log.Info("game created", zap.String("code", game.Code), zap.Int("rounds", game.TotalRounds), zap.Bool("multi", game.IsMulti))
		writeJSON(w, http.StatusCreated, wire.CreateGameResponse{
			Code:        game.Code,
			TotalRounds: game.TotalRounds,
			Owner:       types.Player(owner),
		})
		return
	}
}

func (a *api) joinGame(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req wire.NewPlayer
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := a.store.JoinGame(r.Context(), code, engine.Player{Name: req.Name, Icon: req.Icon})
	if err != nil {
		a.fail(w, err)
		return
	}

	// A running session only learns about new players from the store.
	if s, _ := a.hub.Get(r.Context(), code); s != nil {
		if err := s.Notify(r.Context(), session.Resync{}); err != nil {
			a.log.Warn("notifying session of join", zap.String("code", code), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, wire.JoinResponse{Player: types.Player(p)})
}

func (a *api) submitEntry(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req wire.Entry
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := a.broker.SubmitEntry(r.Context(), code, types.ToEntry(req))
	if errors.Is(err, engine.ErrStaleWrite) {
		writeJSON(w, http.StatusOK, wire.SubmitEntryResponse{Duplicate: true})
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.SubmitEntryResponse{})
}

func (a *api) advance(w http.ResponseWriter, r *http.Request) {
	var req wire.AdvanceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Round < 1 {
		writeError(w, http.StatusBadRequest, "round is required")
		return
	}

	s, ok := a.session(w, r)
	if !ok {
		return
	}
	intent, err := s.RequestAdvance(r.Context(), req.PlayerID, req.Round)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.AdvanceResponse{Intent: types.Intent(intent)})
}

func (a *api) summary(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	sum, err := s.Summary(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.Summary(sum))
}

func (a *api) canAdvance(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		writeError(w, http.StatusBadRequest, "missing player_id")
		return
	}

	s, ok := a.session(w, r)
	if !ok {
		return
	}
	can, err := s.CanAdvance(r.Context(), playerID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.CanAdvanceResponse{CanAdvance: can})
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.log.Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.hub.Ensure(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		a.fail(w, err)
		return nil, false
	}
	return s, true
}

// fail maps domain errors to status codes.
func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case errors.Is(err, engine.ErrUnknownPlayer):
		writeError(w, http.StatusNotFound, "unknown player")
	case errors.Is(err, engine.ErrNotReady):
		writeError(w, http.StatusConflict, "round not complete")
	case errors.Is(err, engine.ErrNotOwner):
		writeError(w, http.StatusConflict, "only the owner can start the next round")
	case errors.Is(err, engine.ErrStateDesync):
		writeError(w, http.StatusConflict, "round has not started")
	case errors.Is(err, engine.ErrInvalidEntry), errors.Is(err, store.ErrInvalidGame), errors.Is(err, session.ErrMissingRound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "try again")
	default:
		a.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
