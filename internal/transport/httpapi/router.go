// Package httpapi: REST-интерфейс маркетплейса поверх gin.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmarket/internal/service/idempotency"
)

// RouterConfig задаёт поведение middleware.
type RouterConfig struct {
	Auth           AuthConfig
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *log.Entry
}

// NewRouter собирает gin.Engine со всеми маршрутами /api.
// guard может быть nil, тогда Idempotency-Key игнорируется.
func NewRouter(cfg RouterConfig, svc Services, guard *idempotency.Guard) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(Recovery(logger), RequestLogger(logger), cors.New(corsConfig(cfg.CORSOrigins)))
	router.NoRoute(func(c *gin.Context) {
		abortWith(c, http.StatusNotFound, "NotFound", "route not found")
	})

	txh := &transactionHandlers{lifecycle: svc.Lifecycle, timeline: svc.Timeline, logger: logger}
	lh := &listingHandlers{listings: svc.Listings, timeline: svc.Timeline, logger: logger}
	rh := &reviewHandlers{reviews: svc.Reviews, ratings: svc.Ratings, logger: logger}

	verified := RequireVerified(logger)
	idem := Idempotency(guard, logger)

	api := router.Group("/api")
	api.Use(Authenticate(cfg.Auth, logger), RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	transactions := api.Group("/transactions", verified)
	{
		transactions.POST("", idem, txh.reserve)
		transactions.GET("/my-transactions", txh.mine)
		transactions.GET("/:id", txh.get)
		transactions.PUT("/:id/status", txh.updateStatus)
		transactions.PUT("/:id/complete", txh.complete)
		transactions.PUT("/:id/cancel", txh.cancel)
		if svc.Timeline != nil {
			transactions.GET("/:id/timeline", txh.history)
		}
	}

	listings := api.Group("/listings")
	{
		listings.GET("", lh.list)
		listings.GET("/:id", lh.get)
		listings.POST("", verified, lh.create)
		listings.PUT("/:id", verified, lh.update)
		listings.DELETE("/:id", verified, lh.remove)
		listings.POST("/:id/reserve", verified, idem, txh.reserveListing)
		if svc.Timeline != nil {
			listings.GET("/:id/timeline", lh.history)
		}
	}

	admin := api.Group("/admin", verified)
	{
		admin.PUT("/listings/:id/hide", lh.hide)
		admin.PUT("/listings/:id/restore", lh.restore)
	}

	reviews := api.Group("/reviews")
	{
		reviews.POST("", verified, rh.submit)
		reviews.PUT("/:id", verified, rh.update)
		reviews.DELETE("/:id", verified, rh.remove)
		reviews.GET("/user/:userId", rh.forUser)
		reviews.GET("/listing/:listingId", rh.forListing)
	}

	api.GET("/users/:id/rating", rh.rating)

	if svc.Realtime != nil {
		api.GET("/ws", func(c *gin.Context) {
			actor, _ := actorFrom(c)
			// После upgrade ответ пишет websocket, поэтому ошибка только логируется.
			if err := svc.Realtime.ServeWS(c.Writer, c.Request, actor.ID); err != nil {
				logger.WithError(err).WithField("actor_id", actor.ID).Warn("websocket upgrade failed")
			}
		})
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", HeaderIdempotencyKey}
	config.ExposeHeaders = []string{HeaderIdempotentReplay}
	config.MaxAge = 12 * time.Hour

	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = allowed
	return config
}
