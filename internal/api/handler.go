package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"equipment-custody-backend/internal/lifecycle"
	"equipment-custody-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc     *lifecycle.Service
	store   store.Store
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler. webpushOptions is nil when push
// notifications are disabled.
func NewHandler(svc *lifecycle.Service, s store.Store, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	return &Handler{
		svc:     svc,
		store:   s,
		webpush: webpushOptions,
		log:     log,
	}
}
