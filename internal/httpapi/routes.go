package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/hub"
	"github.com/DoyleJ11/geoguess-server/internal/ws"
)

type Options struct {
	PublicURL string
	WS        ws.Deps
	Logger    *zap.Logger
}

func SetupRoutes(h *hub.Hub, o Options) http.Handler {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h))
	r.Get("/parties/{code}/qr", PartyQR(h, o.PublicURL, o.Logger))
	r.Get("/ws", ws.Handler(h, o.WS))
	return r
}
