// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/config"
	"github.com/Raikerian/go-live-interpreter/internal/session"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	// Combine all provided modules with lifecycle management
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	app := fx.New(options...)

	return &Application{
		app: app,
	}
}

// Run starts the application and blocks until it's stopped.
func (a *Application) Run() {
	a.app.Run()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// registerLifecycleHooks logs the application lifecycle and starts a
// session at boot when auto_start is set. Hooks of the other modules run
// first, so devices are ready by then.
func registerLifecycleHooks(lc fx.Lifecycle, cfg *config.Config, ctrl *session.Controller, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			settings := ctrl.Settings()
			logger.Info("Starting interpreter",
				zap.String("provider", cfg.Service.Provider),
				zap.String("user_language", settings.UserLanguage),
				zap.String("guest_language", settings.GuestLanguage),
				zap.Bool("auto_start", cfg.AutoStart))

			if !cfg.AutoStart {
				logger.Info("Application started successfully")
				return nil
			}

			// A failed start leaves the controller in its error state with
			// a retry available, so it does not abort the application.
			if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
				logger.Error("Failed to auto start session", zap.Error(err))
			}

			logger.Info("Application started successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping interpreter")
			ctrl.Stop()
			logger.Info("Application stopped successfully")
			return nil
		},
	})
}
