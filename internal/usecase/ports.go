package usecase

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// LockStore is the per-network record of deployed units
type LockStore interface {
	Path() string
	Get(network, name string) (models.LockEntry, bool)
	Put(network, name string, entry models.LockEntry) error
	Entries(network string) []models.LockEntry
	Networks() []string
	ResetNetwork(network string) error
	Close() error
}

// LockOpener opens lock stores. An exclusive store holds the advisory lock
// on the file until it is closed.
type LockOpener interface {
	Open(path string, exclusive bool) (LockStore, error)
}

// ArtifactSource provides compiled contract output
type ArtifactSource interface {
	// Load accepts "Name", "path/File.sol:Name" or "File.sol:Name"
	Load(ref string) (*models.Artifact, error)
}

// ChainClient sends transactions to a single network from a single sender.
// Errors worth retrying are returned as *domain.TransientNetworkError.
type ChainClient interface {
	Sender() common.Address
	ChainID() uint64
	// Deploy submits a contract creation with code followed by the encoded
	// constructor arguments and returns the predicted address
	Deploy(ctx context.Context, code []byte, args []byte) (common.Address, common.Hash, error)
	// Call submits a transaction calling to with calldata
	Call(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error)
	// WaitConfirmed blocks until the transaction has the configured number of
	// confirmations
	WaitConfirmed(ctx context.Context, txHash common.Hash) (*models.Receipt, error)
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	Close()
}

// ChainConnector dials a chain client for a network profile
type ChainConnector interface {
	Connect(ctx context.Context, profile *config.Profile) (ChainClient, error)
}

// VerifyRequest describes one contract to submit for source verification
type VerifyRequest struct {
	Network         string
	ChainID         uint64
	Unit            string
	Address         common.Address
	SourceRef       string
	Artifact        *models.Artifact
	ConstructorArgs []byte
	Libraries       map[string]common.Address // fully qualified library name -> address
}

// Verifier submits contracts to public verification services
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) error
}

// VerifierFactory builds the verifier pipeline configured for a profile
type VerifierFactory interface {
	ForProfile(profile *config.Profile) (Verifier, error)
}

// Confirmer asks the operator to confirm an action
type Confirmer interface {
	Confirm(message string) (bool, error)
}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage   string
	Current int
	Total   int
	Unit    string
	Message string
	Spinner bool
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}
