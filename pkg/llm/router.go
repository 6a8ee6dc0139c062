package llm

import (
	"fmt"

	"github.com/sqldesk/sqldesk/pkg/config"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Resolve returns the ordered provider chain for cfg. Each provider uses its
// own model when set, otherwise cfg.Model.
func Resolve(cfg config.LLMConfig) ([]Route, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	routes := make([]Route, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.URL == "" {
			return nil, fmt.Errorf("provider %q: url is required", p.Name)
		}
		model := p.Model
		if model == "" {
			model = cfg.Model
		}
		routes = append(routes, Route{Provider: p, Model: model})
	}
	return routes, nil
}
