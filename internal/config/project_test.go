package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

const projectTOML = `
artifacts = "out"

[proxy_artifacts]
transparent = "MyTransparentProxy"

[units.Token]
args = ["Token", "TKN", 1000]

[units.Utils]
kind = "library"

[units.Manager]
kind = "proxy"
artifact = "src/Manager.sol:Manager"
args = [{ ref = "Token" }, "${OWNER}"]
libraries = { Utils = { ref = "Utils" }, Math = "0x00000000000000000000000000000000000000f1" }
[units.Manager.proxy]
type = "transparent"
unsafe_allow = ["external-library-linking"]

[env.localhost]
rpc_url = "http://127.0.0.1:8545"

[env.sepolia]
lock_file = "deployments/lock.json"
rpc_url = "${SEPOLIA_RPC_URL}"
chain_id = 11155111
verify = true
verifiers = ["etherscan", "sourcify"]
explorer_api_url = "https://api-sepolia.etherscan.io/api"
explorer_api_key = "${ETHERSCAN_API_KEY}"
confirmations = 2
verify_concurrency = 2
[env.sepolia.retry]
max_attempts = 3
initial_interval = "1s"
`

const projectYAML = `
units:
  Zeta:
    args: [1]
  Alpha:
    kind: proxy
    initializer: ""
    args:
      - ref: Zeta
    proxy:
      type: uups
env:
  mainnet:
    rpc_url: https://eth.example
    chain_id: 1
`

func writeProject(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadProject_TOML(t *testing.T) {
	t.Setenv("OWNER", "0x00000000000000000000000000000000000000aa")
	t.Setenv("SEPOLIA_RPC_URL", "https://sepolia.example")
	t.Setenv("ETHERSCAN_API_KEY", "secret")
	path := writeProject(t, "bundler.toml", projectTOML)

	project, err := LoadProject(path)
	require.NoError(t, err)

	t.Run("units keep declaration order", func(t *testing.T) {
		names := make([]string, len(project.Units))
		for i, u := range project.Units {
			names[i] = u.Name
		}
		assert.Equal(t, []string{"Token", "Utils", "Manager"}, names)
	})

	t.Run("unit fields", func(t *testing.T) {
		token := project.Units[0]
		assert.Equal(t, models.PlainContract, token.Kind)
		assert.Equal(t, []models.Arg{models.LiteralArg("Token"), models.LiteralArg("TKN"), models.LiteralArg(int64(1000))}, token.ConstructorArgs)

		assert.Equal(t, models.Library, project.Units[1].Kind)

		manager := project.Units[2]
		assert.Equal(t, models.ProxiedContract, manager.Kind)
		assert.Equal(t, "src/Manager.sol:Manager", manager.ArtifactRef())
		assert.Equal(t, "initialize", manager.Initializer)
		assert.Equal(t, models.RefArg("Token"), manager.ConstructorArgs[0])
		assert.Equal(t, models.LiteralArg("0x00000000000000000000000000000000000000aa"), manager.ConstructorArgs[1])
		assert.Equal(t, models.RefArg("Utils"), manager.LibraryLinks["Utils"])
		assert.Equal(t, models.LiteralArg("0x00000000000000000000000000000000000000f1"), manager.LibraryLinks["Math"])
		require.NotNil(t, manager.Proxy)
		assert.Equal(t, models.ProxyTypeTransparent, manager.Proxy.Type)
		assert.True(t, manager.Proxy.UnsafeAllow.Has(models.AllowExternalLibraryLinking))
	})

	t.Run("proxy artifacts", func(t *testing.T) {
		assert.Equal(t, "ERC1967Proxy", project.ProxyArtifacts.UUPS)
		assert.Equal(t, "MyTransparentProxy", project.ProxyArtifacts.Transparent)
		assert.Equal(t, "out", project.ArtifactsDir)
	})

	t.Run("local profile defaults", func(t *testing.T) {
		local := project.Profiles["localhost"]
		require.NotNil(t, local)
		assert.True(t, local.Local)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "local.deployment-lock.json"), local.LockFile)
		assert.Equal(t, "PRIVATE_KEY", local.SenderKeyEnv)
		assert.Equal(t, uint64(1), local.Confirmations)
		assert.Equal(t, uint64(5), local.Retry.MaxAttempts)
	})

	t.Run("remote profile", func(t *testing.T) {
		p := project.Profiles["sepolia"]
		require.NotNil(t, p)
		assert.False(t, p.Local)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "deployments", "lock.json"), p.LockFile)
		assert.Equal(t, "https://sepolia.example", p.RPCURL)
		assert.Equal(t, uint64(11155111), p.ChainID)
		assert.True(t, p.Verify)
		assert.Equal(t, []string{"etherscan", "sourcify"}, p.Verifiers)
		assert.Equal(t, "secret", p.ExplorerAPIKey)
		assert.Equal(t, uint64(2), p.Confirmations)
		assert.Equal(t, 2, p.VerifyConcurrency)
		assert.Equal(t, uint64(3), p.Retry.MaxAttempts)
		assert.Equal(t, time.Second, p.Retry.InitialInterval)
		assert.Equal(t, 10*time.Second, p.Retry.MaxInterval)
	})
}

func TestLoadProject_YAML(t *testing.T) {
	project, err := LoadProject(writeProject(t, "bundler.yaml", projectYAML))
	require.NoError(t, err)

	require.Len(t, project.Units, 2)
	assert.Equal(t, "Zeta", project.Units[0].Name)
	assert.Equal(t, []models.Arg{models.LiteralArg(1)}, project.Units[0].ConstructorArgs)

	alpha := project.Units[1]
	assert.Equal(t, "Alpha", alpha.Name)
	assert.Empty(t, alpha.Initializer)
	assert.Equal(t, []models.Arg{models.RefArg("Zeta")}, alpha.ConstructorArgs)
	assert.Equal(t, models.ProxyTypeUUPS, alpha.Proxy.Type)

	assert.Equal(t, "https://eth.example", project.Profiles["mainnet"].RPCURL)
	assert.Equal(t, "deployment-lock.json", filepath.Base(project.Profiles["mainnet"].LockFile))
}

func TestLoadProject_Errors(t *testing.T) {
	t.Run("all problems reported together", func(t *testing.T) {
		path := writeProject(t, "bundler.toml", `
[units.A]
kind = "contract"
colour = "blue"
args = [{ ref = "B", extra = 1 }]

[env.sepolia]
rpc_url = "https://x"
[env.sepolia.retry]
initial_interval = "soon"
`)
		_, err := LoadProject(path)
		var cerr *domain.ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Len(t, cerr.Violations(), 3)
		assert.Contains(t, err.Error(), `unknown key "units.A.colour"`)
		assert.Contains(t, err.Error(), `unit "A": argument 0`)
		assert.Contains(t, err.Error(), "retry.initial_interval")
	})

	t.Run("yaml unknown field", func(t *testing.T) {
		_, err := LoadProject(writeProject(t, "bundler.yaml", "units:\n  A:\n    knd: library\n"))
		assert.ErrorContains(t, err, "knd")
	})

	t.Run("malformed toml", func(t *testing.T) {
		_, err := LoadProject(writeProject(t, "bundler.toml", "[units.A\n"))
		assert.ErrorContains(t, err, "failed to parse bundler.toml")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadProject(filepath.Join(t.TempDir(), "bundler.toml"))
		assert.ErrorContains(t, err, "failed to read project file")
	})
}
