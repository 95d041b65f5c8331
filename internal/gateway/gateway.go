// Package gateway exposes the worker over local HTTP for development and for
// deployments that cannot speak NATS: POST /run submits one job, GET /health
// reports liveness, and GET /metrics serves the Prometheus scrape endpoint
// when telemetry is enabled.
package gateway

import (
	"context"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
	"github.com/parrotlabs/voiceclone-worker/internal/telemetry"
)

const serviceName = "voiceclone-worker"

// Gateway is the local HTTP front end for the job handler.
type Gateway struct {
	echo       *echo.Echo
	jobHandler *handler.Handler
	engineMode string
	bind       string
	log        *logger.Logger
}

// New builds the gateway and registers its routes.
func New(
	cfg config.GatewayConfig,
	jobHandler *handler.Handler,
	metrics *telemetry.Metrics,
	engineMode string,
	log *logger.Logger,
) *Gateway {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	gw := &Gateway{
		echo:       e,
		jobHandler: jobHandler,
		engineMode: engineMode,
		bind:       cfg.Bind,
		log:        log,
	}

	e.POST("/run", gw.handleRun)
	e.GET("/health", gw.handleHealth)

	if metricsHandler := metrics.Handler(); metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}

	return gw
}

// Start serves until Shutdown is called. It returns http.ErrServerClosed on
// graceful shutdown, like net/http.
func (g *Gateway) Start() error {
	return g.echo.Start(g.bind)
}

// Shutdown stops the gateway gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.echo.Shutdown(ctx)
}

// handleRun submits one job. Validation failures come back as 200 with a
// structured error response, matching the reply a NATS requester would see.
// Failures past validation are the gateway's to report, as a 500.
func (g *Gateway) handleRun(c echo.Context) error {
	var job handler.Job

	err := c.Bind(&job)
	if err != nil {
		g.log.Warn("Rejected malformed job submission: %v", err)

		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	resp, err := g.jobHandler.Handle(c.Request().Context(), job)
	if err != nil {
		g.log.Error("Job %s failed: %v", job.ID, err)

		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, resp)
}

func (g *Gateway) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":      "ok",
		"service":     serviceName,
		"engine_mode": g.engineMode,
	})
}
