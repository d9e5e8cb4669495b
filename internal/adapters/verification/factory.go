// Package verification submits deployed contracts to public source
// verification services.
package verification

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/registry"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

const (
	requestTimeout = 30 * time.Second
	requestRetries = 2
)

// KnownPlugins lists the plugin names a profile may configure
var KnownPlugins = []string{"etherscan", "sourcify", "forge"}

// Factory builds the plugin pipeline configured for a profile
type Factory struct {
	projectRoot string
	http        *resty.Client
	log         *slog.Logger
}

// NewFactory creates a verifier factory sharing one HTTP client
func NewFactory(cfg *config.RuntimeConfig, log *slog.Logger) *Factory {
	return &Factory{
		projectRoot: cfg.ProjectRoot,
		http:        newHTTPClient(),
		log:         log,
	}
}

func newHTTPClient() *resty.Client {
	return resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(requestRetries).
		SetRetryWaitTime(time.Second).
		SetHeader("User-Agent", "bundler")
}

// ForProfile returns a pipeline over the profile's verifiers, in order
func (f *Factory) ForProfile(profile *config.Profile) (usecase.Verifier, error) {
	names := profile.Verifiers
	if len(names) == 0 {
		return nil, fmt.Errorf("network %s enables verification but lists no verifiers", profile.Name)
	}

	plugins := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, err := f.plugin(name, profile)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return NewPipeline(f.log.With("network", profile.Name), plugins...), nil
}

func (f *Factory) plugin(name string, profile *config.Profile) (Plugin, error) {
	switch name {
	case "etherscan":
		if profile.ExplorerAPIURL == "" || profile.ExplorerAPIKey == "" {
			return nil, fmt.Errorf("network %s: etherscan verification needs explorer_api_url and explorer_api_key", profile.Name)
		}
		return NewEtherscanVerifier(f.http, profile.ExplorerAPIURL, profile.ExplorerAPIKey, f.projectRoot, f.log), nil
	case "sourcify":
		return NewSourcifyVerifier(f.http, profile.SourcifyURL, f.projectRoot, f.log), nil
	case "forge":
		backend := "etherscan"
		if profile.ExplorerAPIKey == "" {
			backend = "sourcify"
		}
		return NewForgeVerifier(f.projectRoot, backend, profile.ExplorerAPIURL, profile.ExplorerAPIKey), nil
	}

	msg := fmt.Sprintf("network %s: unknown verifier %q", profile.Name, name)
	if s := registry.Suggest(name, KnownPlugins); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return nil, fmt.Errorf("%s", msg)
}

var _ usecase.VerifierFactory = (*Factory)(nil)
