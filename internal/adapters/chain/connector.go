package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// DefaultSenderKeyEnv is read when a profile does not name its key variable
const DefaultSenderKeyEnv = "PRIVATE_KEY"

// anvil and hardhat's first prefunded development account
const localDevKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// ConnectorAdapter dials the profile's RPC endpoint
type ConnectorAdapter struct {
	log *slog.Logger
}

// NewConnectorAdapter creates a new chain connector
func NewConnectorAdapter(log *slog.Logger) *ConnectorAdapter {
	return &ConnectorAdapter{log: log}
}

// Connect dials the node and loads the sender key
func (c *ConnectorAdapter) Connect(ctx context.Context, profile *config.Profile) (usecase.ChainClient, error) {
	if profile.RPCURL == "" {
		return nil, fmt.Errorf("network %s has no rpc_url", profile.Name)
	}
	key, err := senderKey(profile)
	if err != nil {
		return nil, err
	}

	eth, err := ethclient.DialContext(ctx, profile.RPCURL)
	if err != nil {
		return nil, classify("dial "+profile.Name, err)
	}
	client, err := NewClient(ctx, eth, key, profile, c.log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	client.closeFn = eth.Close

	c.log.Debug("connected", "network", profile.Name, "chain", client.ChainID(), "sender", client.Sender().Hex())
	return client, nil
}

// senderKey loads the deployer key from the profile's environment variable.
// Local profiles fall back to the well-known development key.
func senderKey(profile *config.Profile) (*ecdsa.PrivateKey, error) {
	env := profile.SenderKeyEnv
	if env == "" {
		env = DefaultSenderKeyEnv
	}

	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		if !profile.Local {
			return nil, fmt.Errorf("sender key for %s: environment variable %s is not set", profile.Name, env)
		}
		raw = localDevKey
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("sender key in %s is invalid: %w", env, err)
	}
	return key, nil
}

var _ usecase.ChainConnector = (*ConnectorAdapter)(nil)
