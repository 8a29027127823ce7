package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"teampulse/internal/config"
	"teampulse/internal/db"
	"teampulse/internal/oauth"
	"teampulse/internal/orchestrator"
	"teampulse/internal/redis"
	"teampulse/internal/security"
	"teampulse/internal/store"
)

type Server struct {
	log      *slog.Logger
	db       *db.DB
	redis    *redis.Client
	store    *store.Store
	oauth    *oauth.Manager
	orch     *orchestrator.Orchestrator
	cfg      config.Config
	router   *gin.Engine
	limiters *security.LimiterStore
}

func NewServer(log *slog.Logger, dbConn *db.DB, redisClient *redis.Client, st *store.Store, om *oauth.Manager, orch *orchestrator.Orchestrator, cfg config.Config) *Server {
	s := &Server{
		log:    log,
		db:     dbConn,
		redis:  redisClient,
		store:  st,
		oauth:  om,
		orch:   orch,
		cfg:    cfg,
		router: gin.New(),
		// in-process burst guard in front of the redis sliding window
		limiters: security.NewLimiterStore(rate.Limit(5), 10, 10*time.Minute),
	}

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())
	r.Use(s.loggingMiddleware())
	r.Use(s.inputValidationMiddleware())
	r.Use(s.rateLimitMiddleware())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)

		// oauth callback carries no session header; identity rides on the state nonce
		v1.GET("/integrations/callback", s.oauthCallback)

		authed := v1.Group("")
		authed.Use(s.userAuthMiddleware())
		{
			authed.GET("/data/:type", s.getData)
			authed.GET("/integrations", s.listIntegrations)
			authed.POST("/integrations/:service/connect", s.connectIntegration)
			authed.DELETE("/integrations/:service", s.disconnectIntegration)
		}
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 30*time.Second)
}
