package duplex

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/config"
)

// Module provides the Dialer for the configured provider.
var Module = fx.Module("duplex",
	fx.Provide(NewDialer),
)

// NewDialerParams holds dependencies for NewDialer.
type NewDialerParams struct {
	fx.In
	Cfg    *config.Config
	Logger *zap.Logger
}

// NewDialer creates the Dialer selected by service.provider.
func NewDialer(params NewDialerParams) (Dialer, error) {
	svc := params.Cfg.Service
	logger := params.Logger.Named("duplex")

	switch svc.Provider {
	case config.ProviderGemini:
		return NewGeminiDialer(context.Background(), logger, svc.APIKey, svc.SendQueue)
	case config.ProviderOpenAI:
		return NewOpenAIDialer(logger, svc.APIKey, svc.SendQueue), nil
	default:
		return nil, fmt.Errorf("unknown service provider %q", svc.Provider)
	}
}
