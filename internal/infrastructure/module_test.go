package infrastructure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Raikerian/go-live-interpreter/internal/config"
)

func TestZapConfigFor(t *testing.T) {
	tests := map[string]struct {
		level         string
		expectedLevel zapcore.Level
		expectedDev   bool
		expectedError bool
	}{
		"debug":   {level: "debug", expectedLevel: zapcore.DebugLevel, expectedDev: true},
		"info":    {level: "info", expectedLevel: zapcore.InfoLevel},
		"warn":    {level: "warn", expectedLevel: zapcore.WarnLevel},
		"error":   {level: "error", expectedLevel: zapcore.ErrorLevel},
		"empty":   {level: "", expectedLevel: zapcore.InfoLevel},
		"invalid": {level: "loud", expectedError: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := zapConfigFor(tt.level)

			if tt.expectedError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLevel, cfg.Level.Level())
			assert.Equal(t, tt.expectedDev, cfg.Development)
		})
	}
}

func TestLoggerModule(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	app := fxtest.New(t,
		fx.Supply(&cfg),
		LoggerModule,
		fx.Invoke(func(logger *zap.Logger) {
			assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
		}),
	)

	app.RequireStart()
	app.RequireStop()
}
