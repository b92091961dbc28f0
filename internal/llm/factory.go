package llm

import (
	"fmt"

	"go.uber.org/zap"

	"assesslab/internal/config"
	"assesslab/internal/port"
)

// ProviderFactory creates a ModelClient from application config.
type ProviderFactory func(cfg *config.Config, log *zap.Logger) (port.ModelClient, error)

// registry of model providers, populated explicitly via RegisterProvider at startup.
var providers = map[string]ProviderFactory{}

// RegisterProvider registers a model provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// NewClient creates the ModelClient named by cfg.Model.Provider.
func NewClient(cfg *config.Config, log *zap.Logger) (port.ModelClient, error) {
	factory, ok := providers[cfg.Model.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Model.Provider)
	}
	return factory(cfg, log)
}
