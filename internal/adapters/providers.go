package adapters

import (
	"github.com/google/wire"
	"github.com/trebuchet-org/bundler/internal/adapters/artifacts"
	"github.com/trebuchet-org/bundler/internal/adapters/chain"
	"github.com/trebuchet-org/bundler/internal/adapters/interactive"
	"github.com/trebuchet-org/bundler/internal/adapters/lockfile"
	"github.com/trebuchet-org/bundler/internal/adapters/verification"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// LockSet provides the file-backed lock store
var LockSet = wire.NewSet(
	lockfile.NewOpenerAdapter,
	wire.Bind(new(usecase.LockOpener), new(*lockfile.OpenerAdapter)),
)

// ArtifactSet provides compiled artifacts from the build directory
var ArtifactSet = wire.NewSet(
	artifacts.ProvideRepository,
	wire.Bind(new(usecase.ArtifactSource), new(*artifacts.Repository)),
)

// ChainSet provides JSON-RPC chain clients
var ChainSet = wire.NewSet(
	chain.NewConnectorAdapter,
	wire.Bind(new(usecase.ChainConnector), new(*chain.ConnectorAdapter)),
)

// VerificationSet provides the verifier plugin pipeline
var VerificationSet = wire.NewSet(
	verification.NewFactory,
	wire.Bind(new(usecase.VerifierFactory), new(*verification.Factory)),
)

// InteractiveSet provides interactive implementations
var InteractiveSet = wire.NewSet(
	interactive.NewPrompter,
	wire.Bind(new(usecase.Confirmer), new(*interactive.Prompter)),
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	LockSet,
	ArtifactSet,
	ChainSet,
	VerificationSet,
	InteractiveSet,
)
