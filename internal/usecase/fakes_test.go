package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// In-memory chain

type fakeTx struct {
	Hash common.Hash
	To   *common.Address // nil for contract creation
	Code []byte
	Args []byte
	Data []byte
}

type fakeChain struct {
	mu       sync.Mutex
	sender   common.Address
	nonce    uint64
	txs      []fakeTx
	receipts map[common.Hash]*models.Receipt
	storage  map[common.Address]map[common.Hash]common.Hash

	deployErrs []error // returned by successive Deploy calls before they succeed
	waitErrs   []error // returned by successive WaitConfirmed calls
	revert     func(tx fakeTx) bool

	// ignoreUpgrades makes upgrade calls succeed without touching the
	// implementation slot, like a call sent to an account that is not the admin
	ignoreUpgrades bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sender:   common.HexToAddress("0x5e0de4000000000000000000000000000000cafe"),
		receipts: make(map[common.Hash]*models.Receipt),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (c *fakeChain) Sender() common.Address { return c.sender }
func (c *fakeChain) ChainID() uint64        { return 31337 }
func (c *fakeChain) Close()                 {}

func (c *fakeChain) Deploy(_ context.Context, code, args []byte) (common.Address, common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.deployErrs) > 0 {
		err := c.deployErrs[0]
		c.deployErrs = c.deployErrs[1:]
		return common.Address{}, common.Hash{}, err
	}
	addr := crypto.CreateAddress(c.sender, c.nonce)
	tx := fakeTx{Hash: c.nextHash(), Code: code, Args: args}
	c.record(tx, addr)
	return addr, tx.Hash, nil
}

func (c *fakeChain) Call(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := fakeTx{Hash: c.nextHash(), To: &to, Data: data}
	c.record(tx, common.Address{})
	if c.receipts[tx.Hash].Success && !c.ignoreUpgrades {
		c.applyUpgrade(to, data)
	}
	return tx.Hash, nil
}

// applyUpgrade moves the ERC-1967 implementation slot the way a UUPS proxy or
// a ProxyAdmin would
func (c *fakeChain) applyUpgrade(to common.Address, data []byte) {
	if len(data) < 4 {
		return
	}
	method, err := upgradeABI.MethodById(data[:4])
	if err != nil {
		return
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return
	}
	switch method.Name {
	case "upgradeToAndCall":
		c.setStorage(to, implementationSlot, common.BytesToHash(args[0].(common.Address).Bytes()))
	case "upgradeAndCall":
		c.setStorage(args[0].(common.Address), implementationSlot, common.BytesToHash(args[1].(common.Address).Bytes()))
	}
}

func (c *fakeChain) nextHash() common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", c.nonce)))
}

func (c *fakeChain) record(tx fakeTx, created common.Address) {
	c.nonce++
	c.txs = append(c.txs, tx)
	success := c.revert == nil || !c.revert(tx)
	c.receipts[tx.Hash] = &models.Receipt{
		TxHash:          tx.Hash,
		BlockNumber:     c.nonce,
		ContractAddress: created,
		Success:         success,
	}
}

func (c *fakeChain) WaitConfirmed(_ context.Context, hash common.Hash) (*models.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waitErrs) > 0 {
		err := c.waitErrs[0]
		c.waitErrs = c.waitErrs[1:]
		return nil, err
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", hash.Hex())
	}
	return r, nil
}

func (c *fakeChain) StorageAt(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage[addr][slot], nil
}

func (c *fakeChain) setStorage(addr common.Address, slot, value common.Hash) {
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[common.Hash]common.Hash)
	}
	c.storage[addr][slot] = value
}

func (c *fakeChain) txCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txs)
}

// cancellingChain honours the context like a real RPC client and cancels the
// run while the first transaction confirms
type cancellingChain struct {
	*fakeChain
	cancel func()
	waits  int
}

func (c *cancellingChain) Deploy(ctx context.Context, code, args []byte) (common.Address, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, common.Hash{}, err
	}
	return c.fakeChain.Deploy(ctx, code, args)
}

func (c *cancellingChain) Call(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return c.fakeChain.Call(ctx, to, data)
}

func (c *cancellingChain) WaitConfirmed(ctx context.Context, hash common.Hash) (*models.Receipt, error) {
	c.waits++
	if c.waits == 1 {
		c.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fakeChain.WaitConfirmed(ctx, hash)
}

func (c *cancellingChain) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	return c.fakeChain.StorageAt(ctx, addr, slot)
}

type clientConnector struct {
	client ChainClient
}

func (c *clientConnector) Connect(context.Context, *config.Profile) (ChainClient, error) {
	return c.client, nil
}

type fakeConnector struct {
	client *fakeChain
	calls  int
}

func (f *fakeConnector) Connect(context.Context, *config.Profile) (ChainClient, error) {
	f.calls++
	return f.client, nil
}

// In-memory lock store

type memLock struct {
	mu      sync.Mutex
	path    string
	entries map[string]map[string]models.LockEntry
	puts    []string // network/name in write order
	putErr  error
	held    bool
}

func newMemLock() *memLock {
	return &memLock{path: "deployment-lock.json", entries: make(map[string]map[string]models.LockEntry)}
}

func (m *memLock) Path() string { return m.path }

func (m *memLock) Get(network, name string) (models.LockEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[network][name]
	return e, ok
}

func (m *memLock) Put(network, name string, entry models.LockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if m.entries[network] == nil {
		m.entries[network] = make(map[string]models.LockEntry)
	}
	entry.Name = name
	m.entries[network][name] = entry
	m.puts = append(m.puts, network+"/"+name)
	return nil
}

func (m *memLock) Entries(network string) []models.LockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LockEntry
	for _, e := range m.entries[network] {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b models.LockEntry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (m *memLock) Networks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for n := range m.entries {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (m *memLock) ResetNetwork(network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, network)
	return nil
}

func (m *memLock) Close() error {
	m.held = false
	return nil
}

func (m *memLock) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

type memLockOpener struct {
	store      *memLock
	exclusives int
}

func (o *memLockOpener) Open(_ string, exclusive bool) (LockStore, error) {
	if exclusive {
		if o.store.held {
			return nil, domain.ErrLockHeld
		}
		o.store.held = true
		o.exclusives++
	}
	return o.store, nil
}

// Artifacts

type fakeArtifacts map[string]*models.Artifact

func (f fakeArtifacts) Load(ref string) (*models.Artifact, error) {
	if a, ok := f[ref]; ok {
		return a, nil
	}
	// path:Name identifiers recorded in lock entries
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		if a, ok := f[ref[i+1:]]; ok && a.ID() == ref {
			return a, nil
		}
	}
	return nil, fmt.Errorf("artifact %s: %w", ref, domain.ErrNotFound)
}

func artifact(name, abiJSON, bytecode string) *models.Artifact {
	return &models.Artifact{
		Name:       name,
		SourcePath: "src/" + name + ".sol",
		ABI:        json.RawMessage(abiJSON),
		Bytecode:   bytecode,
	}
}

// "__$" + 34 hex chars + "$__" as emitted by solc
var libPlaceholder = "__$" + strings.Repeat("ab", 17) + "$__"

const (
	tokenABI = `[{"type":"constructor","inputs":[{"name":"supply","type":"uint256"}],"stateMutability":"nonpayable"}]`

	uupsImplABI = `[
		{"type":"function","name":"initialize","inputs":[{"name":"owner","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"upgradeToAndCall","inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[],"stateMutability":"payable"}
	]`

	transparentImplABI = `[
		{"type":"function","name":"initialize","inputs":[{"name":"owner","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
	]`

	erc1967ProxyABI = `[{"type":"constructor","inputs":[{"name":"implementation","type":"address"},{"name":"_data","type":"bytes"}],"stateMutability":"payable"}]`

	transparentProxyABI = `[{"type":"constructor","inputs":[{"name":"_logic","type":"address"},{"name":"initialOwner","type":"address"},{"name":"_data","type":"bytes"}],"stateMutability":"payable"}]`
)

// managerArtifact is a UUPS implementation linked against Utils
func managerArtifact(tail string) *models.Artifact {
	a := artifact("Manager", uupsImplABI, "0x6080"+libPlaceholder+tail)
	a.LinkReferences = models.LinkReferences{
		"src/Utils.sol": {"Utils": {{Start: 2, Length: 20}}},
	}
	return a
}

func testArtifacts() fakeArtifacts {
	return fakeArtifacts{
		"Token":                       artifact("Token", tokenABI, "0x600160005260206000f3"),
		"Utils":                       artifact("Utils", `[]`, "0x600260005260206000f3"),
		"Manager":                     managerArtifact("6000"),
		"Vault":                       artifact("Vault", transparentImplABI, "0x600460005260206000f3"),
		"A":                           artifact("A", `[]`, "0x60a1"),
		"B":                           artifact("B", `[]`, "0x60b1"),
		"C":                           artifact("C", `[]`, "0x60c1"),
		"ERC1967Proxy":                artifact("ERC1967Proxy", erc1967ProxyABI, "0x60e1"),
		"TransparentUpgradeableProxy": artifact("TransparentUpgradeableProxy", transparentProxyABI, "0x60e2"),
	}
}

// Units

func plainUnit(name string, args ...models.Arg) models.DeploymentUnit {
	return models.DeploymentUnit{Name: name, Kind: models.PlainContract, ConstructorArgs: args}
}

func managerUnit(flags ...string) models.DeploymentUnit {
	return models.DeploymentUnit{
		Name:            "Manager",
		Kind:            models.ProxiedContract,
		ConstructorArgs: []models.Arg{models.LiteralArg("0x00000000000000000000000000000000000000aa")},
		LibraryLinks:    map[string]models.Arg{"Utils": models.RefArg("Utils")},
		Initializer:     "initialize",
		Proxy: &models.ProxyConfig{
			Type:        models.ProxyTypeUUPS,
			UnsafeAllow: models.NewUnsafeAllowSet(flags...),
		},
	}
}

func vaultUnit() models.DeploymentUnit {
	return models.DeploymentUnit{
		Name:            "Vault",
		Kind:            models.ProxiedContract,
		ConstructorArgs: []models.Arg{models.LiteralArg("0x00000000000000000000000000000000000000bb")},
		Initializer:     "initialize",
		Proxy: &models.ProxyConfig{
			Type:        models.ProxyTypeTransparent,
			UnsafeAllow: models.NewUnsafeAllowSet(),
		},
	}
}

// Harness

const testNetwork = "testnet"

type harness struct {
	cfg       *config.RuntimeConfig
	artifacts fakeArtifacts
	chain     *fakeChain
	connector *fakeConnector
	lock      *memLock
	opener    *memLockOpener
	verifier  *mockVerifier
	progress  *recordingProgress
}

func newHarness(t *testing.T, units ...models.DeploymentUnit) *harness {
	t.Helper()
	profile := &config.Profile{
		Name:          testNetwork,
		LockFile:      "deployment-lock.json",
		Local:         true,
		Confirmations: 1,
		Verifiers:     []string{"mock"},
		Retry: config.RetryPolicy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	}
	chain := newFakeChain()
	lock := newMemLock()
	return &harness{
		cfg: &config.RuntimeConfig{
			Network: testNetwork,
			Profile: profile,
			Project: &config.ProjectConfig{
				ProxyArtifacts: config.DefaultProxyArtifacts(),
				Units:          units,
				Profiles:       map[string]*config.Profile{testNetwork: profile},
			},
			Timeout: time.Minute,
		},
		artifacts: testArtifacts(),
		chain:     chain,
		connector: &fakeConnector{client: chain},
		lock:      lock,
		opener:    &memLockOpener{store: lock},
		verifier:  &mockVerifier{},
		progress:  &recordingProgress{},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (h *harness) verifyUnits() *VerifyUnits {
	return NewVerifyUnits(h.cfg, h.artifacts, h.opener, &staticVerifiers{v: h.verifier}, h.progress, testLogger())
}

func (h *harness) deployUnits(confirmer Confirmer) *DeployUnits {
	return NewDeployUnits(h.cfg, h.artifacts, h.opener, h.connector, h.verifyUnits(), confirmer, h.progress, testLogger())
}

func (h *harness) planDeployment() *PlanDeployment {
	return NewPlanDeployment(h.cfg, h.artifacts, h.opener, testLogger())
}

// Verifier

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(_ context.Context, req VerifyRequest) error {
	args := m.Called(req.Unit, req.Address)
	return args.Error(0)
}

type staticVerifiers struct {
	v Verifier
}

func (s *staticVerifiers) ForProfile(*config.Profile) (Verifier, error) {
	return s.v, nil
}

// Confirmer

type fixedConfirmer struct {
	answer bool
	asked  int
}

func (f *fixedConfirmer) Confirm(string) (bool, error) {
	f.asked++
	return f.answer, nil
}

// Progress

type recordingProgress struct {
	mu     sync.Mutex
	events []ProgressEvent
	errors []string
}

func (r *recordingProgress) OnProgress(_ context.Context, e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingProgress) Info(string) {}

func (r *recordingProgress) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func transient(op string) error {
	return &domain.TransientNetworkError{Op: op, Err: fmt.Errorf("connection reset by peer")}
}
