package classifier

import (
	"log/slog"
	"sync/atomic"

	"apishield/internal/model"
)

// Provider owns the classifier lifecycle: load once at startup, serve an
// immutable snapshot, swap atomically on explicit reload. There is no
// ambient global model state.
type Provider struct {
	path   string
	logger *slog.Logger
	model  atomic.Pointer[Model]
}

func NewProvider(path string, logger *slog.Logger) *Provider {
	return &Provider{path: path, logger: logger}
}

// Load reads the artifact from disk. On failure the previously loaded
// model, if any, stays active.
func (p *Provider) Load() error {
	m, err := LoadModel(p.path)
	if err != nil {
		return err
	}
	p.model.Store(m)
	if p.logger != nil {
		p.logger.Info("classifier model loaded", "path", p.path, "version", m.Version())
	}
	return nil
}

// Reload is the explicit reload operation; identical to Load by design of
// the artifact format (self-contained, immutable once parsed).
func (p *Provider) Reload() error {
	return p.Load()
}

func (p *Provider) Loaded() bool {
	return p.model.Load() != nil
}

func (p *Provider) Version() string {
	if m := p.model.Load(); m != nil {
		return m.Version()
	}
	return "none"
}

func (p *Provider) Classify(se model.ScoredEvent) (float64, error) {
	m := p.model.Load()
	if m == nil {
		return 0, ErrModelUnavailable
	}
	return m.Classify(se)
}
