package device

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/internal/config"
	"github.com/Raikerian/go-live-interpreter/internal/playback"
	"github.com/Raikerian/go-live-interpreter/internal/session"
)

// Module provides the PortAudio Manager as the capture and playback opener.
var Module = fx.Module("device",
	fx.Provide(
		NewManagerFromConfig,
		func(m *Manager) capture.Opener { return m },
		func(m *Manager) playback.OutputOpener { return m },
	),
)

// WatcherModule watches for device changes and updates the session's
// input selection.
var WatcherModule = fx.Module("device_watcher",
	fx.Provide(NewWatcherFromConfig),
	fx.Invoke(func(*Watcher) {}),
)

// NewManagerParams holds dependencies for NewManagerFromConfig.
type NewManagerParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Cfg       *config.Config
	Logger    *zap.Logger
}

// NewManagerFromConfig creates the Manager and ties PortAudio to the app lifecycle.
func NewManagerFromConfig(params NewManagerParams) *Manager {
	m := NewManager(params.Logger.Named("device"), params.Cfg.Audio.FramesPerBuffer)

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return m.Initialize()
		},
		OnStop: func(context.Context) error {
			return m.Terminate()
		},
	})

	return m
}

// NewWatcherParams holds dependencies for NewWatcherFromConfig.
type NewWatcherParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Cfg        *config.Config
	Logger     *zap.Logger
	Manager    *Manager
	Controller *session.Controller
}

// NewWatcherFromConfig creates the Watcher and runs it while the app runs.
func NewWatcherFromConfig(params NewWatcherParams) *Watcher {
	w := NewWatcher(params.Logger.Named("device_watcher"), params.Manager, params.Controller, WatcherConfig{
		Interval:          params.Cfg.Devices.WatchInterval,
		Debounce:          params.Cfg.Devices.Debounce,
		PreferredKeywords: params.Cfg.Devices.PreferredKeywords,
	})

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			w.Stop()
			return nil
		},
	})

	return w
}
