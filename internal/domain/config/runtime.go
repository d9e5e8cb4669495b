package config

import (
	"time"

	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	ProjectRoot string
	ConfigFile  string // bundler.toml or bundler.yaml that was loaded

	// Context settings
	Network string   // selected network name, "" if not specified
	Profile *Profile // nil if no network was selected

	// Execution settings
	Debug          bool
	NonInteractive bool
	Timeout        time.Duration

	// Resolved configurations
	Project *ProjectConfig
}

// Profile is the per-network environment a run targets
type Profile struct {
	Name              string
	LockFile          string // absolute path
	RPCURL            string
	ChainID           uint64
	Verify            bool
	Verifiers         []string // ordered plugin names
	ExplorerAPIURL    string
	ExplorerAPIKey    string
	SourcifyURL       string
	SenderKeyEnv      string
	Confirmations     uint64
	Local             bool
	Retry             RetryPolicy
	VerifyConcurrency int
}

// RetryPolicy bounds the retries of transient chain-client failures
type RetryPolicy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when a profile does not configure retries
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// ProjectConfig is the parsed project file
type ProjectConfig struct {
	ArtifactsDir   string
	ProxyArtifacts ProxyArtifacts
	Units          []models.DeploymentUnit // declaration order
	Profiles       map[string]*Profile
}

// ProxyArtifacts names the artifacts used to deploy fresh proxies
type ProxyArtifacts struct {
	UUPS        string
	Transparent string
}

// DefaultProxyArtifacts returns the OpenZeppelin artifact names
func DefaultProxyArtifacts() ProxyArtifacts {
	return ProxyArtifacts{
		UUPS:        "ERC1967Proxy",
		Transparent: "TransparentUpgradeableProxy",
	}
}

// For returns the proxy artifact for the given proxy type
func (p ProxyArtifacts) For(t models.ProxyType) string {
	if t == models.ProxyTypeTransparent {
		return p.Transparent
	}
	return p.UUPS
}
