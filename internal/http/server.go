package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/outreach/internal/config"
	"github.com/jmehdipour/outreach/internal/http/middleware"
	"github.com/jmehdipour/outreach/internal/metrics"
	"github.com/jmehdipour/outreach/internal/repository"
	"github.com/jmehdipour/outreach/internal/service/runs"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// Routes are the collaborators the API is built from.
type Routes struct {
	Runs       *runs.Service
	Owners     repository.OwnersRepository
	Recipients repository.CHRecipientsRepository
	RateLimit  middleware.RateLimitConfig
}

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, log *zap.Logger) *Server {
	// repos (MySQL)
	accountsRepo := repository.NewAccountsRepository(mysqlDB)
	channelsRepo := repository.NewChannelsRepository(mysqlDB)
	recipientsRepo := repository.NewRecipientsRepository(mysqlDB)
	runsRepo := repository.NewRunsRepository(mysqlDB)
	outboxRepo := repository.NewOutboxRepository(mysqlDB)

	svc := runs.New(
		accountsRepo,
		channelsRepo,
		recipientsRepo,
		runsRepo,
		runs.NewOutboxEnqueuer(mysqlDB, runsRepo, outboxRepo),
	)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e := NewRouter(Routes{
		Runs:       svc,
		Owners:     repository.NewOwnersRepository(mysqlDB),
		Recipients: repository.NewCHRecipientsRepository(clickhouseDB),
		RateLimit: middleware.RateLimitConfig{
			Redis:      rds,
			DefaultRPS: cfg.RateLimit.RPS,
			Window:     time.Second,
		},
	})
	return &Server{e: e, log: log}
}

// NewRouter wires middlewares and routes onto a fresh echo instance.
func NewRouter(r Routes) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.APIKeyMiddleware(r.Owners)
	rlMW := middleware.RateLimitMiddleware(r.RateLimit)

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/runs/invite", startInviteRunHandler(r.Runs))
	v1.POST("/runs/send", startSendRunHandler(r.Runs))
	v1.GET("/runs/:id", getRunHandler(r.Runs))
	v1.POST("/accounts/:id/stop", stopAccountHandler(r.Runs))
	v1.GET("/accounts/:id", accountStatusHandler(r.Runs))
	v1.GET("/reports/recipients", listRecipientsHandler(r.Recipients))
	v1.GET("/reports/summary", recipientSummaryHandler(r.Runs))

	return e
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
