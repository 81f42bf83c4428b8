package sentiment

import (
	"fmt"

	"github.com/commentpulse/commentpulse/internal/config"
	"github.com/commentpulse/commentpulse/pkg/models"
)

// NewAnalyzer constructs the configured sentiment backend.
// Called once at server startup.
func NewAnalyzer(cfg config.AnalyzerConfig) (models.Analyzer, error) {
	switch cfg.Backend {
	case "inference-http":
		return NewHTTPAnalyzer(cfg.BaseURL, cfg.Model, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("unknown analyzer backend %q: must be inference-http", cfg.Backend)
	}
}
