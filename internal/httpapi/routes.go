package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/guessr-backend/internal/hub"
	"github.com/DoyleJ11/guessr-backend/internal/metrics"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
	"github.com/DoyleJ11/guessr-backend/internal/store"
	"github.com/DoyleJ11/guessr-backend/internal/ws"
)

type Deps struct {
	Store   store.Store
	Broker  *relay.Broker
	Hub     *hub.Hub
	Metrics *metrics.Recorder
	Log     *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	api := &api{store: d.Store, broker: d.Broker, hub: d.Hub, log: d.Log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(api.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", api.healthz)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	r.Get("/ws", ws.Handler(d.Hub, d.Broker, d.Log))

	r.Route("/games", func(r chi.Router) {
		r.Post("/", api.createGame)
		r.Route("/{code}", func(r chi.Router) {
			r.Post("/players", api.joinGame)
			r.Post("/entries", api.submitEntry)
			r.Post("/advance", api.advance)
			r.Get("/summary", api.summary)
			r.Get("/can-advance", api.canAdvance)
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
