package uiserver

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/config"
	"github.com/Raikerian/go-live-interpreter/internal/device"
	"github.com/Raikerian/go-live-interpreter/internal/session"
)

// Module provides the control API server and runs it when enabled.
var Module = fx.Module("uiserver",
	fx.Provide(NewServerFromConfig),
	fx.Invoke(func(*Server) {}),
)

// NewServerParams holds dependencies for NewServerFromConfig.
type NewServerParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Cfg        *config.Config
	Logger     *zap.Logger
	Controller *session.Controller
	Devices    *device.Manager
	Gatherer   prometheus.Gatherer
}

// NewServerFromConfig creates the Server and binds it to the app lifecycle.
func NewServerFromConfig(params NewServerParams) *Server {
	logger := params.Logger.Named("uiserver")
	hub := NewHub(logger, params.Cfg.Server.LevelUpdatesPerSecond)
	srv := NewServer(logger, params.Controller, params.Devices, hub, params.Gatherer)

	if !params.Cfg.Server.Enabled {
		logger.Info("Control API disabled")
		return srv
	}

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start(params.Cfg.Server.Address)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	return srv
}
