// Package chain sends deployment transactions through a JSON-RPC node.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

const (
	gasMarginPercent    = 120
	defaultPollInterval = 2 * time.Second
)

// Backend is the node API the client needs. Both *ethclient.Client and the
// simulated backend's client satisfy it.
type Backend interface {
	ethereum.ChainIDReader
	ethereum.ChainReader
	ethereum.ChainStateReader
	ethereum.BlockNumberReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.GasPricer1559
	ethereum.PendingStateReader
	ethereum.TransactionReader
	ethereum.TransactionSender
}

// Client signs and submits transactions from a single sender key
type Client struct {
	eth           Backend
	closeFn       func()
	key           *ecdsa.PrivateKey
	sender        common.Address
	chainID       *big.Int
	signer        types.Signer
	confirmations uint64
	pollInterval  time.Duration
	log           *slog.Logger
}

// NewClient binds a backend to a sender key. When the profile declares a
// chain id the node must report the same one.
func NewClient(ctx context.Context, eth Backend, key *ecdsa.PrivateKey, profile *config.Profile, log *slog.Logger) (*Client, error) {
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, classify("chain id", err)
	}
	if profile.ChainID != 0 && id.Uint64() != profile.ChainID {
		return nil, fmt.Errorf("chain ID mismatch for %s: expected %d, node reports %d", profile.Name, profile.ChainID, id.Uint64())
	}

	sender := crypto.PubkeyToAddress(key.PublicKey)
	return &Client{
		eth:           eth,
		key:           key,
		sender:        sender,
		chainID:       id,
		signer:        types.LatestSignerForChainID(id),
		confirmations: profile.Confirmations,
		pollInterval:  defaultPollInterval,
		log:           log.With("chain", id.Uint64(), "sender", sender.Hex()),
	}, nil
}

// Sender returns the account transactions are sent from
func (c *Client) Sender() common.Address { return c.sender }

// ChainID returns the id reported by the node
func (c *Client) ChainID() uint64 { return c.chainID.Uint64() }

// Close releases the underlying connection
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Deploy submits a contract creation. The address is derived from the sender
// and the nonce the transaction was signed with.
func (c *Client) Deploy(ctx context.Context, code, args []byte) (common.Address, common.Hash, error) {
	data := make([]byte, 0, len(code)+len(args))
	data = append(data, code...)
	data = append(data, args...)

	tx, err := c.send(ctx, nil, data)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	return crypto.CreateAddress(c.sender, tx.Nonce()), tx.Hash(), nil
}

// Call submits a transaction to an existing contract
func (c *Client) Call(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	tx, err := c.send(ctx, &to, calldata)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// StorageAt reads a storage slot at the latest block
func (c *Client) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	raw, err := c.eth.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return common.Hash{}, classify("read storage", err)
	}
	return common.BytesToHash(raw), nil
}

func (c *Client) send(ctx context.Context, to *common.Address, data []byte) (*types.Transaction, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, classify("pending nonce", err)
	}

	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.sender, To: to, Data: data})
	if err != nil {
		if revert, ok := asRevert(err); ok {
			return nil, revert
		}
		return nil, classify("estimate gas", err)
	}
	gas = gas * gasMarginPercent / 100

	txData, err := c.fees(ctx, nonce, to, gas, data)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(types.NewTx(txData), c.signer, c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		if alreadyKnown(err) {
			return signed, nil
		}
		serr := classify("send transaction", err)
		// The node may have accepted it before the connection dropped
		if domain.IsTransient(serr) {
			if _, _, lerr := c.eth.TransactionByHash(ctx, signed.Hash()); lerr == nil {
				c.log.Warn("send failed but the node knows the transaction", "tx", signed.Hash().Hex(), "error", err)
				return signed, nil
			}
		}
		return nil, serr
	}

	c.log.Debug("transaction sent", "tx", signed.Hash().Hex(), "nonce", nonce, "gas", gas, "create", to == nil)
	return signed, nil
}

// fees builds an EIP-1559 transaction when the chain reports a base fee and
// a legacy one otherwise
func (c *Client) fees(ctx context.Context, nonce uint64, to *common.Address, gas uint64, data []byte) (types.TxData, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, classify("latest header", err)
	}

	if head.BaseFee != nil {
		tip, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, classify("suggest tip", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		return &types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        to,
			Data:      data,
		}, nil
	}

	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classify("suggest gas price", err)
	}
	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: price,
		Gas:      gas,
		To:       to,
		Data:     data,
	}, nil
}

// WaitConfirmed polls until the transaction is mined with the profile's
// number of confirmations
func (c *Client) WaitConfirmed(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			ok, err := c.confirmed(ctx, receipt)
			if err != nil {
				return nil, err
			}
			if ok {
				return c.receipt(ctx, receipt), nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			return nil, classify("receipt "+hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmed(ctx context.Context, r *types.Receipt) (bool, error) {
	if c.confirmations <= 1 {
		return true, nil
	}
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return false, classify("block number", err)
	}
	return head+1 >= r.BlockNumber.Uint64()+c.confirmations, nil
}

func (c *Client) receipt(ctx context.Context, r *types.Receipt) *models.Receipt {
	out := &models.Receipt{
		TxHash:          r.TxHash,
		BlockNumber:     r.BlockNumber.Uint64(),
		ContractAddress: r.ContractAddress,
		GasUsed:         r.GasUsed,
		Success:         r.Status == types.ReceiptStatusSuccessful,
	}
	if !out.Success {
		out.RevertReason = c.revertReason(ctx, r)
	}
	return out
}

// revertReason replays a failed transaction on its parent block to recover
// the revert message. Nodes without archive state return "".
func (c *Client) revertReason(ctx context.Context, r *types.Receipt) string {
	tx, _, err := c.eth.TransactionByHash(ctx, r.TxHash)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{
		From:  c.sender,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	parent := new(big.Int).Sub(r.BlockNumber, big.NewInt(1))
	_, err = c.eth.CallContract(ctx, msg, parent)
	if revert, ok := asRevert(err); ok {
		return revert.Reason
	}
	return ""
}

var _ usecase.ChainClient = (*Client)(nil)
