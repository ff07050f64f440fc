// Package api exposes the local REST surface that a dashboard UI uses to
// mutate the Client Registry: trusting a client, adding manual IP
// candidates, and listing known clients. Building the dashboard itself is
// explicitly out of scope (spec.md Non-goals); this package only provides
// the HTTP surface it would call.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"alvr/server/internal/store"
)

// Server serves the Client Registry REST API on its own port, separate from
// the control/stream listeners.
type Server struct {
	store *store.Store
	echo  *echo.Echo
}

// New constructs a Server and registers all routes. Mutating routes are
// rate-limited to guard the registry against a runaway local UI bug, not
// against hostile traffic — this surface is meant to be bound to loopback
// or the LAN interface only.
func New(st *store.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			echo.New().Logger.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.HTTPErrorHandler = jsonErrorHandler

	limiter := rate.NewLimiter(rate.Limit(5), 10)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodGet {
				return next(c)
			}
			if !limiter.Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	})

	s := &Server{store: st, echo: e}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/clients", s.handleListClients)
	s.echo.GET("/api/clients/:hostname", s.handleGetClient)
	s.echo.PUT("/api/clients/:hostname/trusted", s.handleSetTrusted)
	s.echo.POST("/api/clients/:hostname/manual-ips", s.handleAddManualIP)
}

// Run starts the Echo HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Printf("[api] server error: %v", err)
		}
	}()
	<-ctx.Done()
	_ = s.Shutdown()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// clientView is the JSON shape for one Client Registry entry.
type clientView struct {
	Hostname    string   `json:"hostname"`
	DisplayName string   `json:"display_name"`
	Trusted     bool     `json:"trusted"`
	ManualIPs   []string `json:"manual_ips"`
}

func toView(r store.ClientRow) clientView {
	return clientView{
		Hostname:    r.Hostname,
		DisplayName: r.DisplayName,
		Trusted:     r.Trusted,
		ManualIPs:   r.ManualIPs,
	}
}

func (s *Server) handleListClients(c echo.Context) error {
	rows, err := s.store.AllClients()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]clientView, 0, len(rows))
	for _, r := range rows {
		views = append(views, toView(r))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetClient(c echo.Context) error {
	row, err := s.store.GetClient(c.Param("hostname"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return c.JSON(http.StatusOK, toView(row))
}

type setTrustedRequest struct {
	Trusted bool `json:"trusted"`
}

func (s *Server) handleSetTrusted(c echo.Context) error {
	var req setTrustedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.store.SetClientTrusted(c.Param("hostname"), req.Trusted); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return c.NoContent(http.StatusNoContent)
}

type addManualIPRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleAddManualIP(c echo.Context) error {
	var req addManualIPRequest
	if err := c.Bind(&req); err != nil || req.IP == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ip is required")
	}
	if err := s.store.AddManualIP(c.Param("hostname"), req.IP); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func jsonErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			c.NoContent(code) //nolint:errcheck
		} else {
			c.JSON(code, map[string]string{"error": msg}) //nolint:errcheck
		}
	}
}

// Shutdown gracefully stops the Echo server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
