package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	implAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func init() {
	color.NoColor = true
}

func TestRenderPlan(t *testing.T) {
	existing := &models.LockEntry{Name: "Token", Address: tokenAddr}
	plan := &usecase.DeploymentPlan{
		Network:  "sepolia",
		LockFile: "/p/deployment-lock.json",
		Units: []*usecase.PlannedUnit{
			{Unit: models.DeploymentUnit{Name: "Token"}, Action: models.ActionSkip, Existing: existing},
			{Unit: models.DeploymentUnit{Name: "Manager"}, Action: models.ActionUpgrade, Reason: "implementation changed"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewDeployRenderer(&buf).RenderPlan(plan))
	out := buf.String()

	assert.Contains(t, out, "Deployment plan for sepolia")
	assert.Contains(t, out, "Skip")
	assert.Contains(t, out, tokenAddr.Hex())
	assert.Contains(t, out, "Upgrade")
	assert.Contains(t, out, "implementation changed")
	assert.Contains(t, out, "1 of 2 unit(s) would send transactions")
}

func TestRenderPlan_UpToDate(t *testing.T) {
	plan := &usecase.DeploymentPlan{
		Network: "localhost",
		Units: []*usecase.PlannedUnit{
			{Unit: models.DeploymentUnit{Name: "Token"}, Action: models.ActionSkip, Existing: &models.LockEntry{Address: tokenAddr}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewDeployRenderer(&buf).RenderPlan(plan))
	assert.Contains(t, buf.String(), "Everything is up to date")
}

func TestRenderReport(t *testing.T) {
	report := &models.DeployReport{
		Network: "sepolia",
		Units: []*models.UnitResult{
			{Name: "Token", Status: models.StatusDeployed, Address: tokenAddr},
			{Name: "Manager", Status: models.StatusUpgraded, Address: tokenAddr, Implementation: &implAddr},
			{Name: "Vault", Status: models.StatusFailed, Err: errors.New("execution reverted: paused")},
			{Name: "Router", Status: models.StatusPending},
		},
		Verification: &models.VerificationSummary{
			Network: "sepolia",
			Results: []*models.VerificationResult{{Name: "Token", Address: tokenAddr, Success: true}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewDeployRenderer(&buf).RenderReport(report))
	out := buf.String()

	assert.Contains(t, out, "Deployed")
	assert.Contains(t, out, "impl "+implAddr.Hex())
	assert.Contains(t, out, "execution reverted: paused")
	assert.Contains(t, out, "1 deployed, 1 upgraded, 0 skipped, 1 failed, 1 not reached")
	assert.Contains(t, out, "Verification complete: 1/1 successful")
}

func TestRenderSummary(t *testing.T) {
	t.Run("failures are listed", func(t *testing.T) {
		summary := &models.VerificationSummary{
			Network: "sepolia",
			Results: []*models.VerificationResult{
				{Name: "Token", Address: tokenAddr, Success: true},
				{Name: "Manager", Address: implAddr, Err: errors.New("etherscan: rate limited")},
			},
			Skipped: []string{"Utils"},
		}

		var buf bytes.Buffer
		require.NoError(t, NewVerifyRenderer(&buf).RenderSummary(summary))
		out := buf.String()
		assert.Contains(t, out, "✓ Token")
		assert.Contains(t, out, "✗ Manager")
		assert.Contains(t, out, "etherscan: rate limited")
		assert.Contains(t, out, "Utils (already verified)")
		assert.Contains(t, out, "Verification complete: 1/2 successful")
		assert.Contains(t, out, "1 unit(s) remain unverified")
	})

	t.Run("everything already verified", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewVerifyRenderer(&buf).RenderSummary(&models.VerificationSummary{Network: "sepolia", Skipped: []string{"A", "B"}}))
		assert.Contains(t, buf.String(), "All 2 unit(s) on sepolia are already verified")
	})
}

func TestUnitsRenderer(t *testing.T) {
	proxy := models.LockEntry{
		Name:                  "Manager",
		Kind:                  models.ProxiedContract,
		Address:               tokenAddr,
		ProxyKind:             models.ProxyTypeUUPS,
		ImplementationAddress: &implAddr,
		Libraries:             map[string]string{"src/Utils.sol:Utils": implAddr.Hex()},
		Verified:              true,
		ABI:                   json.RawMessage(`[{"type":"function","name":"owner"}]`),
	}

	t.Run("list", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewUnitsRenderer(&buf).RenderList([]usecase.NetworkUnits{
			{Network: "localhost"},
			{Network: "sepolia", Entries: []models.LockEntry{proxy}},
		}))
		out := buf.String()
		assert.Contains(t, out, "no units deployed")
		assert.Contains(t, out, "uups proxy")
		assert.Contains(t, out, "verified")
		assert.Contains(t, out, "impl "+implAddr.Hex())
	})

	t.Run("entry", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewUnitsRenderer(&buf).RenderEntry("sepolia", &proxy))
		out := buf.String()
		assert.Contains(t, out, "Manager on sepolia")
		assert.Contains(t, out, "Implementation")
		assert.Contains(t, out, "Library src/Utils.sol:Utils")
	})

	t.Run("abi", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewUnitsRenderer(&buf).RenderABI(&proxy))
		assert.Contains(t, buf.String(), `"name": "owner"`)

		err := NewUnitsRenderer(&buf).RenderABI(&models.LockEntry{Name: "Empty"})
		assert.ErrorContains(t, err, "no interface descriptor")
	})
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "❌ Deployment failed", FormatError("deployment failed"))
	assert.Equal(t, "❌ ", FormatError(""))
}
