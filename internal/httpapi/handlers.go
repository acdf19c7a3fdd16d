package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/hub"
	"github.com/DoyleJ11/geoguess-server/internal/party"
)

const (
	qrSize      = 256
	lookupLimit = 2 * time.Second
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), lookupLimit)
		defer cancel()
		st, err := h.Stats(ctx)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}

// PartyQR renders the join link of a live party as a PNG.
func PartyQR(h *hub.Hub, publicURL string, log *zap.Logger) http.HandlerFunc {
	base := strings.TrimRight(publicURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		code := party.NormalizeCode(chi.URLParam(r, "code"))
		if !party.ValidCode(code) {
			http.Error(w, "invalid code", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), lookupLimit)
		defer cancel()
		if _, err := h.Cache().Get(ctx, cache.PartyKey(code)); err != nil {
			if errors.Is(err, cache.ErrMiss) {
				http.Error(w, "party not found", http.StatusNotFound)
				return
			}
			log.Error("party lookup", zap.String("party", code), zap.Error(err))
			http.Error(w, "lookup failed", http.StatusServiceUnavailable)
			return
		}

		png, err := qrcode.Encode(base+"/join/"+code, qrcode.Medium, qrSize)
		if err != nil {
			log.Error("rendering qr code", zap.String("party", code), zap.Error(err))
			http.Error(w, "failed to render code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}
