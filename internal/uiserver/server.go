// Package uiserver exposes the local control API and the live feed consumed
// by the interpreter UI.
package uiserver

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/device"
	"github.com/Raikerian/go-live-interpreter/internal/language"
	"github.com/Raikerian/go-live-interpreter/internal/session"
)

// Controller is the session surface driven by the API.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Snapshot() session.Snapshot
	UpdateSettings(ctx context.Context, s session.Settings) error
	Subscribe(fn func(session.Snapshot)) (cancel func())
	SubscribeLevel(fn func(float32)) (cancel func())
}

// DeviceLister lists audio devices.
type DeviceLister interface {
	Devices() ([]device.Info, error)
}

// DevicesResponse is returned by GET /api/devices.
type DevicesResponse struct {
	Inputs  []device.Info `json:"inputs"`
	Outputs []device.Info `json:"outputs"`
}

// Server serves the control API.
type Server struct {
	logger  *zap.Logger
	echo    *echo.Echo
	ctrl    Controller
	devices DeviceLister
	hub     *Hub

	mu          sync.Mutex
	unsubscribe []func()
}

// NewServer creates a Server with every route registered.
func NewServer(logger *zap.Logger, ctrl Controller, devices DeviceLister, hub *Hub, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("Request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.Error(v.Error))
			return nil
		},
	}))

	s := &Server{
		logger:  logger,
		echo:    e,
		ctrl:    ctrl,
		devices: devices,
		hub:     hub,
	}

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.GET("/status", s.status)
	api.POST("/session/start", s.start)
	api.POST("/session/stop", s.stop)
	api.POST("/session/restart", s.restart)
	api.GET("/devices", s.listDevices)
	api.GET("/languages", s.listLanguages)
	api.PUT("/settings", s.updateSettings)
	api.GET("/ws", s.liveFeed)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Attach forwards controller updates to the live feed.
func (s *Server) Attach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubscribe = append(s.unsubscribe,
		s.ctrl.Subscribe(s.hub.PublishStatus),
		s.ctrl.SubscribeLevel(s.hub.PublishLevel),
	)
}

// Start attaches to the controller and listens on addr in the background.
func (s *Server) Start(addr string) {
	s.Attach()

	go func() {
		s.logger.Info("Control API listening", zap.String("address", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Control API stopped", zap.Error(err))
		}
	}()
}

// Shutdown detaches from the controller, disconnects clients and stops listening.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
	s.mu.Unlock()

	s.hub.Close()
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) start(c echo.Context) error {
	if err := s.ctrl.Start(sessionContext(c)); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) stop(c echo.Context) error {
	s.ctrl.Stop()
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) restart(c echo.Context) error {
	if err := s.ctrl.Restart(sessionContext(c)); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) listDevices(c echo.Context) error {
	devices, err := s.devices.Devices()
	if err != nil {
		s.logger.Warn("Failed to list devices", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, DevicesResponse{
		Inputs:  device.Filter(devices, device.KindInput),
		Outputs: device.Filter(devices, device.KindOutput),
	})
}

func (s *Server) listLanguages(c echo.Context) error {
	return c.JSON(http.StatusOK, language.All())
}

func (s *Server) updateSettings(c echo.Context) error {
	var settings session.Settings
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid settings body")
	}
	for _, code := range []string{settings.UserLanguage, settings.GuestLanguage} {
		if _, ok := language.Lookup(code); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unsupported language: "+code)
		}
	}

	if err := s.ctrl.UpdateSettings(sessionContext(c), settings); err != nil {
		return sessionError(err)
	}
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) liveFeed(c echo.Context) error {
	if err := s.hub.Serve(c.Response(), c.Request(), s.ctrl.Snapshot()); err != nil {
		s.logger.Warn("Live feed upgrade failed", zap.Error(err))
		return err
	}
	return nil
}

// sessionContext detaches the session from the request so it outlives it.
func sessionContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrStopped):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
