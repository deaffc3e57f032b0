// Package httpapi is the service boundary: a single read endpoint accepting
// the three enumerated parameters, plus liveness/readiness probes. HTTP
// parsing and parameter validation are the "out of scope, external
// collaborator" pieces the design names; this package is exactly that
// collaborator, built with gin the way the rest of the retrieved corpus
// wires its HTTP front doors.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/pricing"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

// Router builds the gin engine serving the rate endpoint and health probes.
type Router struct {
	facade *pricing.Facade
	store  kvstore.Store
	log    zerolog.Logger
}

// New returns a Router. Call Engine to obtain the http.Handler.
func New(facade *pricing.Facade, store kvstore.Store, log zerolog.Logger) *Router {
	return &Router{facade: facade, store: store, log: log}
}

// Engine assembles and returns the gin.Engine.
func (rt *Router) Engine() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(rt.logMiddleware())

	e.GET("/v1/rates", rt.getRate)
	e.GET("/healthz", rt.healthz)
	e.GET("/readyz", rt.readyz)

	return e
}

func (rt *Router) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		rt.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

type rateResponse struct {
	Rate string `json:"rate"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// getRate implements the service boundary: GET /v1/rates?period=&hotel=&room=.
func (rt *Router) getRate(c *gin.Context) {
	req, verr := parseRequest(c)
	if verr != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error()})
		return
	}

	rate, err := rt.facade.Rate(c.Request.Context(), req)
	if err != nil {
		status, msg := statusFor(err)
		c.JSON(status, errorResponse{Error: msg})
		return
	}

	c.JSON(http.StatusOK, rateResponse{Rate: rate})
}

func parseRequest(c *gin.Context) (pricing.Request, error) {
	period := c.Query("period")
	hotel := c.Query("hotel")
	room := c.Query("room")

	if period == "" || hotel == "" || room == "" {
		return pricing.Request{}, pricingerr.NewValidation("period, hotel, and room are all required")
	}
	return pricing.Request{Period: period, Hotel: hotel, Room: room}, nil
}

// statusFor maps a tagged error to an HTTP status and a client-safe message,
// per the design's error propagation policy: recoverable errors never
// surface past the facade as anything but ServiceUnavailable; ApiError
// preserves the upstream status code; everything else is 500.
func statusFor(err error) (int, string) {
	var perr *pricingerr.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError, "internal error"
	}

	switch perr.Kind {
	case pricingerr.Validation:
		return http.StatusBadRequest, perr.Msg
	case pricingerr.API:
		return perr.APICode, "upstream error"
	case pricingerr.ServiceUnavailable, pricingerr.BreakerOpen, pricingerr.Timeout, pricingerr.Lock:
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (rt *Router) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rt *Router) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := rt.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
