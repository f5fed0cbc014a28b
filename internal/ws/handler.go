package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/guessr-backend/internal/engine"
	"github.com/DoyleJ11/guessr-backend/internal/hub"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
	"github.com/DoyleJ11/guessr-backend/internal/session"
	"github.com/DoyleJ11/guessr-backend/internal/store"
	"github.com/DoyleJ11/guessr-backend/internal/types"
	wire "github.com/DoyleJ11/guessr-backend/pkg/types"
)

const (
	idleTimeout  = 2 * time.Minute
	writeTimeout = 3 * time.Second
)

func Handler(h *hub.Hub, b *relay.Broker, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		playerID := r.URL.Query().Get("player_id")
		if code == "" || playerID == "" {
			http.Error(w, "missing code or player_id", http.StatusBadRequest)
			return
		}

		s, err := h.Ensure(r.Context(), code)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("starting session", zap.String("code", code), zap.Error(err))
			http.Error(w, "failed to open game", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Snapshot, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("code", code), zap.String("player_id", playerID), zap.String("client_id", clientID))

		if err := s.Notify(r.Context(), session.Join{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "game unavailable")
			return
		}
		// Leave closes out, which ends the writer. If the session is gone it
		// already closed out on shutdown.
		defer func() { _ = s.Notify(context.Background(), session.Leave{ClientID: clientID}) }()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for snap := range out {
				sum := types.Summary(snap.Summary)
				send(writeCtx, conn, wire.ServerMessage{Type: types.MsgRoundSummary, Version: snap.Version, Resync: snap.Resync, Summary: &sum})
			}
			// Dropped as a slow client or the session stopped. The client reconnects.
			conn.Close(websocket.StatusTryAgainLater, "resubscribe")
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), idleTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read failed", zap.Error(err))
				}
				return
			}

			var cm wire.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(r.Context(), conn, errorMessage("bad json"))
				continue
			}

			switch cm.Type {
			case types.MsgSubmitEntry:
				if cm.Entry == nil {
					send(r.Context(), conn, errorMessage("missing entry"))
					continue
				}
				e := types.ToEntry(*cm.Entry)
				e.PlayerID = playerID
				err := b.SubmitEntry(r.Context(), code, e)
				if err != nil && !errors.Is(err, engine.ErrStaleWrite) {
					clog.Info("entry rejected", zap.Int("round", e.Round), zap.Error(err))
					send(r.Context(), conn, errorMessage(err.Error()))
				}

			case types.MsgAdvance:
				if cm.Round < 1 {
					send(r.Context(), conn, errorMessage("missing round"))
					continue
				}
				intent, err := s.RequestAdvance(r.Context(), playerID, cm.Round)
				msg := wire.ServerMessage{Type: types.MsgAdvanceResult}
				in := types.Intent(intent)
				msg.Intent = &in
				if err != nil {
					msg.Error = err.Error()
				}
				send(r.Context(), conn, msg)

			default:
				send(r.Context(), conn, errorMessage("unknown type"))
			}
		}
	}
}

func errorMessage(msg string) wire.ServerMessage {
	return wire.ServerMessage{Type: types.MsgError, Error: msg}
}

func send(ctx context.Context, conn *websocket.Conn, msg wire.ServerMessage) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, msg)
}
