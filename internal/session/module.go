package session

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/internal/config"
	"github.com/Raikerian/go-live-interpreter/internal/duplex"
	"github.com/Raikerian/go-live-interpreter/internal/metrics"
	"github.com/Raikerian/go-live-interpreter/internal/playback"
	"github.com/Raikerian/go-live-interpreter/internal/router"
)

// Module provides the capture pipeline and the session Controller.
var Module = fx.Module("session",
	fx.Provide(
		NewPipeline,
		NewControllerFromConfig,
	),
)

// NewPipelineParams holds dependencies for NewPipeline.
type NewPipelineParams struct {
	fx.In
	Cfg    *config.Config
	Logger *zap.Logger
	Opener capture.Opener
}

// NewPipeline creates the capture pipeline for the configured service.
func NewPipeline(params NewPipelineParams) *capture.Pipeline {
	return capture.NewPipeline(params.Logger.Named("capture"), params.Opener, capture.Config{
		TargetSampleRate:   params.Cfg.Service.InputSampleRate,
		NoiseGateThreshold: params.Cfg.Audio.NoiseGateThreshold,
		EchoCancellation:   params.Cfg.Audio.EchoCancellation,
	})
}

// NewControllerParams holds dependencies for NewControllerFromConfig.
type NewControllerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Cfg       *config.Config
	Logger    *zap.Logger
	Pipeline  *capture.Pipeline
	Outputs   playback.OutputOpener
	Dialer    duplex.Dialer
	Metrics   *metrics.Metrics
}

// NewControllerFromConfig creates the Controller and closes it on shutdown.
func NewControllerFromConfig(params NewControllerParams) *Controller {
	cfg := params.Cfg

	ctrl := NewController(
		params.Logger.Named("session"),
		params.Pipeline,
		params.Outputs,
		params.Dialer,
		params.Metrics,
		OptionsFromConfig(cfg),
		Settings{
			UserLanguage:  cfg.Languages.User,
			GuestLanguage: cfg.Languages.Guest,
			InputDevice:   cfg.Audio.InputDevice,
			OutputDevice:  cfg.Audio.OutputDevice,
		},
	)

	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			ctrl.Close()
			return nil
		},
	})

	return ctrl
}

// OptionsFromConfig maps the configuration onto controller options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Routing: router.Config{
			UserTag:               cfg.Routing.UserTag,
			GuestTag:              cfg.Routing.GuestTag,
			ClearOppositeOnSwitch: cfg.Routing.ClearOppositeOnSwitch,
			MaxScratch:            cfg.Routing.MaxScratchBytes,
		},
		Service: duplex.Config{
			Model:            cfg.Service.Model,
			Voice:            cfg.Service.Voice,
			InputSampleRate:  cfg.Service.InputSampleRate,
			OutputSampleRate: cfg.Service.OutputSampleRate,
		},
		Reconnect: ReconnectPolicy{
			Enabled:      cfg.Reconnect.Enabled,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
		NoiseGateThreshold: cfg.Audio.NoiseGateThreshold,
	}
}
