package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"equipment-custody-backend/config"
	"equipment-custody-backend/internal/lifecycle"
	"equipment-custody-backend/internal/mw"
	"equipment-custody-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(svc *lifecycle.Service, s store.Store, webpushOptions *webpush.Options, cfg config.ServerConfig, log *zap.Logger) (*gin.Engine, error) {
	if err := RegisterValidations(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log), mw.Metrics())

	handler := NewHandler(svc, s, webpushOptions, log)

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 10*time.Minute)

	// Only the catalog is cached; it changes with configuration alone.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/health", Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(mw.RateLimiter(limiter))
	{
		api.GET("/catalog", caching, handler.GetCatalog)
		api.GET("/stats", handler.GetStats)

		equipment := api.Group("/equipment")
		equipment.GET("", handler.ListEquipment)
		equipment.POST("", handler.RegisterEquipment)
		equipment.GET("/export", handler.ExportEquipment)
		equipment.PUT("/batch-exit", handler.BatchExit)
		equipment.GET("/:id", handler.GetEquipment)
		equipment.PUT("/:id", handler.UpdateEquipment)
		equipment.PATCH("/:id", handler.PatchEquipment)
		equipment.DELETE("/:id", handler.DeleteEquipment)
		equipment.POST("/:id/intake", handler.MarkIntake)
		equipment.POST("/:id/exit", handler.MarkExit)
		equipment.DELETE("/:id/purge", handler.PurgeEquipment)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r, nil
}
