package verification

import (
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// ForgeVerifier shells out to `forge verify-contract`
type ForgeVerifier struct {
	projectRoot string
	verifier    string // forge --verifier value
	apiURL      string
	apiKey      string
	run         func(ctx context.Context, dir string, args []string) ([]byte, error)
}

// NewForgeVerifier creates a verifier that delegates to forge's verifier
// backend (etherscan, sourcify, blockscout)
func NewForgeVerifier(projectRoot, verifier, apiURL, apiKey string) *ForgeVerifier {
	return &ForgeVerifier{
		projectRoot: projectRoot,
		verifier:    verifier,
		apiURL:      apiURL,
		apiKey:      apiKey,
		run:         runForge,
	}
}

// Name returns the plugin name
func (f *ForgeVerifier) Name() string { return "forge" }

// Verify runs forge and interprets its output
func (f *ForgeVerifier) Verify(ctx context.Context, req usecase.VerifyRequest) error {
	output, err := f.run(ctx, f.projectRoot, f.args(req))
	out := string(output)
	if isAlreadyVerified(out) {
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("forge verify-contract failed: %s", strings.TrimSpace(out))
	}
	if strings.Contains(out, "Contract successfully verified") {
		return nil
	}
	return fmt.Errorf("verification status unclear: %s", strings.TrimSpace(out))
}

func (f *ForgeVerifier) args(req usecase.VerifyRequest) []string {
	args := []string{
		"verify-contract",
		req.Address.Hex(),
		req.SourceRef,
		"--chain-id", strconv.FormatUint(req.ChainID, 10),
		"--watch",
	}
	if f.verifier != "" {
		args = append(args, "--verifier", f.verifier)
	}
	if f.apiURL != "" {
		args = append(args, "--verifier-url", f.apiURL)
	}
	if f.apiKey != "" {
		args = append(args, "--etherscan-api-key", f.apiKey)
	}
	if v := compilerVersion(req.Artifact); v != "" {
		args = append(args, "--compiler-version", v)
	}
	if len(req.ConstructorArgs) > 0 {
		args = append(args, "--constructor-args", hex.EncodeToString(req.ConstructorArgs))
	}
	libs := lo.Keys(req.Libraries)
	slices.Sort(libs)
	for _, fq := range libs {
		args = append(args, "--libraries", fq+":"+req.Libraries[fq].Hex())
	}
	return args
}

func runForge(ctx context.Context, dir string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "forge", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
