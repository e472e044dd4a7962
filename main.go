// Package main provides the entry point for the live interpreter.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/Raikerian/go-live-interpreter/internal/app"
	"github.com/Raikerian/go-live-interpreter/internal/config"
	"github.com/Raikerian/go-live-interpreter/internal/device"
	"github.com/Raikerian/go-live-interpreter/internal/duplex"
	"github.com/Raikerian/go-live-interpreter/internal/infrastructure"
	"github.com/Raikerian/go-live-interpreter/internal/metrics"
	"github.com/Raikerian/go-live-interpreter/internal/session"
	"github.com/Raikerian/go-live-interpreter/internal/uiserver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Create the application with all modules
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		metrics.Module,

		// Audio devices and the remote service
		device.Module,
		duplex.Module,

		// Application modules
		session.Module,
		device.WatcherModule,
		uiserver.Module,

		// Supply the config path
		fx.Supply(*configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
	)

	// Set up a channel to listen for OS signals (like Ctrl+C)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the application in a goroutine
	go application.Run()

	// Block until a signal is received
	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	// Give the application 30 seconds to shut down gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	err := application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
