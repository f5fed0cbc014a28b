package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/session"
)

// Factory starts the session for a game code.
type Factory func(ctx context.Context, code string) (*session.Session, error)

type HubMsg interface{ isHubMsg() }

type Result struct {
	Session *session.Session
	Err     error
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type EnsureSession struct {
	Code  string
	Reply chan Result
}

type RemoveSession struct {
	Code string
}

type ShutdownHub struct {
	Done chan struct{} // closed once every session stopped; may be nil
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	factory  Factory
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

func NewHub(parent context.Context, factory Factory, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		factory:  factory,
		log:      log.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetSession:
				msg.Reply <- h.live(msg.Code) // May be nil

			case EnsureSession:
				if s := h.live(msg.Code); s != nil {
					msg.Reply <- Result{Session: s}
					break
				}

				s, err := h.factory(h.ctx, msg.Code)
				if err != nil {
					msg.Reply <- Result{Err: err}
					break
				}
				h.sessions[msg.Code] = s
				h.log.Info("session started", zap.String("code", msg.Code), zap.Int("sessions", len(h.sessions)))
				msg.Reply <- Result{Session: s}

			case RemoveSession:
				if s, ok := h.sessions[msg.Code]; ok {
					stop(s)
					delete(h.sessions, msg.Code)
				}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				if msg.Done != nil {
					close(msg.Done)
				}
				return
			}
		}
	}
}

// live returns the session for code unless it has already stopped.
func (h *Hub) live(code string) *session.Session {
	s := h.sessions[code]
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		delete(h.sessions, code)
		return nil
	default:
		return s
	}
}

func (h *Hub) shutdown() {
	for code, s := range h.sessions {
		stop(s)
		delete(h.sessions, code)
	}
}

func stop(s *session.Session) {
	select {
	case s.Inbox() <- session.Shutdown{}:
	case <-s.Done():
		return
	}
	<-s.Done()
}

// Ensure returns the running session for code, starting it if needed.
func (h *Hub) Ensure(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan Result, 1)
	select {
	case h.inbox <- EnsureSession{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.Session, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the running session for code or nil.
func (h *Hub) Get(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	select {
	case h.inbox <- GetSession{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
