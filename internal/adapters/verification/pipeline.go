package verification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// Plugin is a single verification service
type Plugin interface {
	Name() string
	Verify(ctx context.Context, req usecase.VerifyRequest) error
}

// Pipeline runs an ordered list of plugins. A unit is verified only when
// every plugin succeeds.
type Pipeline struct {
	plugins []Plugin
	log     *slog.Logger
}

// NewPipeline creates a pipeline over plugins
func NewPipeline(log *slog.Logger, plugins ...Plugin) *Pipeline {
	return &Pipeline{plugins: plugins, log: log}
}

// Names returns the plugin names in order
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.plugins))
	for i, pl := range p.plugins {
		names[i] = pl.Name()
	}
	return names
}

// Verify submits req to every plugin, including those after a failure, so
// one run reports every service's verdict
func (p *Pipeline) Verify(ctx context.Context, req usecase.VerifyRequest) error {
	var (
		failed []string
		merr   *multierror.Error
	)
	for _, pl := range p.plugins {
		if err := ctx.Err(); err != nil {
			return &domain.VerificationError{Unit: req.Unit, Err: err}
		}
		err := pl.Verify(ctx, req)
		if err != nil {
			p.log.Debug("verifier failed", "verifier", pl.Name(), "unit", req.Unit, "error", err)
			failed = append(failed, pl.Name())
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", pl.Name(), err))
			continue
		}
		p.log.Debug("verifier succeeded", "verifier", pl.Name(), "unit", req.Unit)
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return strings.Join(msgs, "; ")
	}
	return &domain.VerificationError{
		Unit:     req.Unit,
		Verifier: strings.Join(failed, ", "),
		Err:      merr.ErrorOrNil(),
	}
}

var _ usecase.Verifier = (*Pipeline)(nil)
