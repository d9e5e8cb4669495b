package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/resolver"
)

// ERC-1967 slots: bytes32(uint256(keccak256("eip1967.proxy.<name>")) - 1)
var (
	adminSlot          = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
	implementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
)

const upgradeABIJSON = `[
	{"type":"function","name":"upgradeToAndCall","stateMutability":"payable",
	 "inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"upgradeAndCall","stateMutability":"payable",
	 "inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

var upgradeABI = mustParseABI(upgradeABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// executor runs a plan unit by unit against one chain client. It is the only
// writer of the lock store while a deployment runs.
type executor struct {
	client    ChainClient
	store     LockStore
	artifacts ArtifactSource
	proxies   config.ProxyArtifacts
	network   string
	retry     config.RetryPolicy
	progress  ProgressSink
	log       *slog.Logger
	now       func() time.Time
}

// run walks the plan in order. A failed unit stops the run; every unit
// completed before it keeps its lock entry.
func (e *executor) run(ctx context.Context, plan *DeploymentPlan, report *models.DeployReport) error {
	res := resolver.NewResolution(e.network, e.store)
	total := len(plan.Units)

	for i, pu := range plan.Units {
		result := report.Units[i]
		name := pu.Unit.Name

		if pu.Action == models.ActionSkip {
			res.Record(name, pu.Existing.Address)
			continue
		}

		// Stop before starting new work; in-flight transactions are never abandoned
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run stopped before unit %s: %w", name, err)
		}

		log := e.log.With("unit", name, "action", string(pu.Action))
		e.progress.OnProgress(ctx, ProgressEvent{
			Stage:   "deploying",
			Current: i + 1,
			Total:   total,
			Unit:    name,
			Message: fmt.Sprintf("%s %s", actionVerb(pu.Action), name),
			Spinner: true,
		})
		log.Info("executing unit", "reason", pu.Reason)

		// A started unit runs to completion; cancellation only stops the next one
		start := e.now()
		out, err := e.execute(context.WithoutCancel(ctx), pu, res)
		result.Duration = e.now().Sub(start)
		if out != nil {
			result.TxHashes = out.txs
		}
		if err != nil {
			result.Status = models.StatusFailed
			result.Err = err
			log.Error("unit failed", "error", err)
			e.progress.Error(fmt.Sprintf("%s failed: %v", name, err))
			return err
		}

		if err := e.store.Put(e.network, name, out.entry); err != nil {
			err = fmt.Errorf("unit %s is on chain at %s but the lock entry could not be written: %w", name, out.entry.Address.Hex(), err)
			result.Status = models.StatusFailed
			result.Err = err
			return err
		}
		res.Record(name, out.entry.Address)

		result.Address = out.entry.Address
		result.Implementation = out.entry.ImplementationAddress
		if pu.Action == models.ActionUpgrade {
			result.Status = models.StatusUpgraded
		} else {
			result.Status = models.StatusDeployed
		}
		log.Info("unit complete", "address", out.entry.Address.Hex(), "txs", len(out.txs))
		e.progress.Info(fmt.Sprintf("%s %s at %s", name, result.Status, out.entry.Address.Hex()))
	}

	e.progress.OnProgress(ctx, ProgressEvent{Stage: "completed", Current: total, Total: total})
	return nil
}

func actionVerb(a models.UnitAction) string {
	switch a {
	case models.ActionUpgrade:
		return "Upgrading"
	case models.ActionRedeploy:
		return "Redeploying"
	}
	return "Deploying"
}

type unitOutcome struct {
	entry models.LockEntry
	txs   []common.Hash
}

func (e *executor) execute(ctx context.Context, pu *PlannedUnit, res *resolver.Resolution) (*unitOutcome, error) {
	var (
		out *unitOutcome
		err error
	)
	switch {
	case pu.Unit.IsProxy() && pu.Action == models.ActionUpgrade:
		out, err = e.upgradeProxy(ctx, pu, res)
	case pu.Unit.IsProxy():
		out, err = e.deployProxy(ctx, pu.Unit, res)
	default:
		out, err = e.deployContract(ctx, pu.Unit, res)
	}
	if err != nil {
		return out, attachUnit(err, pu.Unit.Name)
	}
	return out, nil
}

func attachUnit(err error, unit string) error {
	var revert *domain.ContractRevertError
	if errors.As(err, &revert) {
		if revert.Unit == "" {
			revert.Unit = unit
		}
		return err
	}
	var unsafe *domain.UnsafeUpgradeError
	var unresolved *domain.UnresolvedReferenceError
	if errors.As(err, &unsafe) || errors.As(err, &unresolved) {
		return err
	}
	return fmt.Errorf("unit %s: %w", unit, err)
}

// linked loads and links the unit's artifact with resolved library addresses
func (e *executor) linked(unit models.DeploymentUnit, res *resolver.Resolution) (*models.Artifact, []byte, map[string]common.Address, error) {
	art, err := e.artifacts.Load(unit.ArtifactRef())
	if err != nil {
		return nil, nil, nil, err
	}
	libs, err := res.ResolveLibraries(unit.Name, unit.LibraryLinks)
	if err != nil {
		return nil, nil, nil, err
	}
	code, err := art.Link(libs)
	if err != nil {
		return nil, nil, nil, err
	}
	return art, code, libs, nil
}

func (e *executor) deployContract(ctx context.Context, unit models.DeploymentUnit, res *resolver.Resolution) (*unitOutcome, error) {
	art, code, libs, err := e.linked(unit, res)
	if err != nil {
		return nil, err
	}
	args, err := res.ResolveArgs(unit.Name, unit.ConstructorArgs)
	if err != nil {
		return nil, err
	}
	encoded, err := art.PackConstructor(args)
	if err != nil {
		return nil, err
	}

	out := &unitOutcome{}
	addr, tx, err := e.deploy(ctx, code, encoded)
	if tx != (common.Hash{}) {
		out.txs = append(out.txs, tx)
	}
	if err != nil {
		return out, err
	}

	out.entry = models.LockEntry{
		Name:            unit.Name,
		Kind:            unit.Kind,
		Address:         addr,
		ABI:             art.ABI,
		DeployTxHash:    tx,
		SourceRef:       art.ID(),
		BytecodeHash:    models.BytecodeHash(code),
		ConstructorArgs: encodeArgs(encoded),
		Libraries:       hexLibraries(libs),
		DeployedAt:      e.now().UTC(),
	}
	return out, nil
}

func (e *executor) deployProxy(ctx context.Context, unit models.DeploymentUnit, res *resolver.Resolution) (*unitOutcome, error) {
	impl, code, libs, err := e.linked(unit, res)
	if err != nil {
		return nil, err
	}
	if err := checkUpgradeSafety(unit, impl); err != nil {
		return nil, err
	}
	implArgs, err := impl.PackConstructor(nil)
	if err != nil {
		return nil, fmt.Errorf("implementation constructor: %w", err)
	}
	initData, err := initializerCall(unit, impl, res)
	if err != nil {
		return nil, err
	}
	proxyArt, err := e.artifacts.Load(e.proxies.For(unit.Proxy.Type))
	if err != nil {
		return nil, err
	}
	proxyCode, err := proxyArt.Link(nil)
	if err != nil {
		return nil, err
	}

	out := &unitOutcome{}
	implAddr, implTx, err := e.deploy(ctx, code, implArgs)
	if implTx != (common.Hash{}) {
		out.txs = append(out.txs, implTx)
	}
	if err != nil {
		return out, fmt.Errorf("implementation: %w", err)
	}

	var proxyArgs []any
	if unit.Proxy.Type == models.ProxyTypeTransparent {
		proxyArgs = []any{implAddr, e.client.Sender(), initData}
	} else {
		proxyArgs = []any{implAddr, initData}
	}
	encoded, err := proxyArt.PackConstructor(proxyArgs)
	if err != nil {
		return out, fmt.Errorf("proxy constructor: %w", err)
	}

	proxyAddr, proxyTx, err := e.deploy(ctx, proxyCode, encoded)
	if proxyTx != (common.Hash{}) {
		out.txs = append(out.txs, proxyTx)
	}
	if err != nil {
		return out, fmt.Errorf("proxy: %w", err)
	}

	out.entry = models.LockEntry{
		Name:                  unit.Name,
		Kind:                  unit.Kind,
		Address:               proxyAddr,
		ABI:                   impl.ABI,
		DeployTxHash:          proxyTx,
		ProxyKind:             unit.Proxy.Type,
		ImplementationAddress: &implAddr,
		SourceRef:             impl.ID(),
		BytecodeHash:          models.BytecodeHash(code),
		ConstructorArgs:       encodeArgs(implArgs),
		Libraries:             hexLibraries(libs),
		DeployedAt:            e.now().UTC(),
	}
	return out, nil
}

func (e *executor) upgradeProxy(ctx context.Context, pu *PlannedUnit, res *resolver.Resolution) (*unitOutcome, error) {
	unit := pu.Unit
	impl, code, libs, err := e.linked(unit, res)
	if err != nil {
		return nil, err
	}
	if err := checkUpgradeSafety(unit, impl); err != nil {
		return nil, err
	}
	implArgs, err := impl.PackConstructor(nil)
	if err != nil {
		return nil, fmt.Errorf("implementation constructor: %w", err)
	}

	// Read before replacing; everything not touched by the upgrade carries over
	entry := *pu.Existing
	proxy := entry.Address

	out := &unitOutcome{}
	implAddr, implTx, err := e.deploy(ctx, code, implArgs)
	if implTx != (common.Hash{}) {
		out.txs = append(out.txs, implTx)
	}
	if err != nil {
		return out, fmt.Errorf("implementation: %w", err)
	}

	var target common.Address
	var calldata []byte
	switch unit.Proxy.Type {
	case models.ProxyTypeTransparent:
		admin, err := e.proxyAdmin(ctx, proxy)
		if err != nil {
			return out, err
		}
		target = admin
		calldata, err = upgradeABI.Pack("upgradeAndCall", proxy, implAddr, []byte{})
		if err != nil {
			return out, err
		}
	default:
		target = proxy
		calldata, err = upgradeABI.Pack(uupsUpgradeFunction, implAddr, []byte{})
		if err != nil {
			return out, err
		}
	}

	upgradeTx, err := e.call(ctx, target, calldata)
	if upgradeTx != (common.Hash{}) {
		out.txs = append(out.txs, upgradeTx)
	}
	if err != nil {
		return out, fmt.Errorf("upgrade call: %w", err)
	}
	if err := e.checkImplementation(ctx, proxy, implAddr, target); err != nil {
		return out, err
	}

	entry.Name = unit.Name
	entry.Kind = unit.Kind
	entry.ABI = impl.ABI
	entry.ImplementationAddress = &implAddr
	entry.UpgradeTxHash = &upgradeTx
	entry.SourceRef = impl.ID()
	entry.BytecodeHash = models.BytecodeHash(code)
	entry.ConstructorArgs = encodeArgs(implArgs)
	entry.Libraries = hexLibraries(libs)
	// The verification target is the new implementation
	entry.Verified = false
	entry.VerifiedAt = nil

	out.entry = entry
	return out, nil
}

// proxyAdmin reads the ProxyAdmin of a transparent proxy from its ERC-1967 slot
func (e *executor) proxyAdmin(ctx context.Context, proxy common.Address) (common.Address, error) {
	var word common.Hash
	err := e.withRetry(ctx, "read proxy admin", true, func() error {
		var err error
		word, err = e.client.StorageAt(ctx, proxy, adminSlot)
		return err
	})
	if err != nil {
		return common.Address{}, err
	}
	admin := common.BytesToAddress(word.Bytes())
	if admin == (common.Address{}) {
		return common.Address{}, fmt.Errorf("proxy %s has no admin in the ERC-1967 admin slot", proxy.Hex())
	}
	return admin, nil
}

// checkImplementation reads the ERC-1967 implementation slot back after an
// upgrade. A successful call to a contract that is not the proxy's admin
// changes nothing.
func (e *executor) checkImplementation(ctx context.Context, proxy, want, calledAt common.Address) error {
	var word common.Hash
	err := e.withRetry(ctx, "read proxy implementation", true, func() error {
		var err error
		word, err = e.client.StorageAt(ctx, proxy, implementationSlot)
		return err
	})
	if err != nil {
		return err
	}
	if got := common.BytesToAddress(word.Bytes()); got != want {
		return fmt.Errorf("upgrade call to %s succeeded but proxy %s still points at %s instead of %s",
			calledAt.Hex(), proxy.Hex(), got.Hex(), want.Hex())
	}
	return nil
}

func initializerCall(unit models.DeploymentUnit, impl *models.Artifact, res *resolver.Resolution) ([]byte, error) {
	if unit.Initializer == "" || !impl.HasFunction(unit.Initializer) {
		return []byte{}, nil
	}
	args, err := res.ResolveArgs(unit.Name, unit.ConstructorArgs)
	if err != nil {
		return nil, err
	}
	data, err := impl.Pack(unit.Initializer, args)
	if err != nil {
		return nil, fmt.Errorf("initializer: %w", err)
	}
	return data, nil
}

// deploy submits a contract creation and waits for it to be confirmed
func (e *executor) deploy(ctx context.Context, code, args []byte) (common.Address, common.Hash, error) {
	var (
		addr common.Address
		tx   common.Hash
	)
	err := e.withRetry(ctx, "deploy", true, func() error {
		var err error
		addr, tx, err = e.client.Deploy(ctx, code, args)
		return err
	})
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}

	receipt, err := e.wait(ctx, tx)
	if err != nil {
		return addr, tx, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	return addr, tx, nil
}

// call submits a transaction and waits for it to be confirmed
func (e *executor) call(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	var tx common.Hash
	err := e.withRetry(ctx, "call", true, func() error {
		var err error
		tx, err = e.client.Call(ctx, to, calldata)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	_, err = e.wait(ctx, tx)
	return tx, err
}

// wait awaits a submitted transaction. Once submitted a transaction is
// awaited regardless of the run context, retrying transport errors until the
// operator stops the process.
func (e *executor) wait(ctx context.Context, tx common.Hash) (*models.Receipt, error) {
	waitCtx := context.WithoutCancel(ctx)
	var receipt *models.Receipt
	err := e.withRetry(waitCtx, "wait for "+tx.Hex(), false, func() error {
		var err error
		receipt, err = e.client.WaitConfirmed(waitCtx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		reason := receipt.RevertReason
		if reason == "" {
			reason = "transaction reverted on chain"
		}
		return receipt, &domain.ContractRevertError{TxHash: &tx, Reason: reason}
	}
	return receipt, nil
}

// withRetry retries fn while it fails with a transient error. Bounded retries
// follow the profile's policy; unbounded ones back off until ctx is done.
func (e *executor) withRetry(ctx context.Context, op string, bounded bool, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.retry.InitialInterval
	exp.MaxInterval = e.retry.MaxInterval
	exp.MaxElapsedTime = 0

	var policy backoff.BackOff = exp
	if bounded {
		attempts := e.retry.MaxAttempts
		if attempts == 0 {
			attempts = 1
		}
		policy = backoff.WithMaxRetries(exp, attempts-1)
	}

	operation := func() error {
		err := fn()
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		e.log.Warn("transient chain error, retrying", "op", op, "error", err, "in", next)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}

func encodeArgs(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hexutil.Encode(b)
}

func hexLibraries(libs map[string]common.Address) map[string]string {
	if len(libs) == 0 {
		return nil
	}
	out := make(map[string]string, len(libs))
	for slot, addr := range libs {
		out[slot] = addr.Hex()
	}
	return out
}
