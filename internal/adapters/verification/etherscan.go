package verification

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 24
)

// etherscanResponse is the envelope of every Etherscan-compatible API reply
type etherscanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// EtherscanVerifier submits standard-json-input to an Etherscan-compatible
// explorer API and polls the submission
type EtherscanVerifier struct {
	http         *resty.Client
	apiURL       string
	apiKey       string
	projectRoot  string
	pollInterval time.Duration
	maxPolls     int
	log          *slog.Logger
}

// NewEtherscanVerifier creates a verifier for the explorer at apiURL
func NewEtherscanVerifier(http *resty.Client, apiURL, apiKey, projectRoot string, log *slog.Logger) *EtherscanVerifier {
	return &EtherscanVerifier{
		http:         http,
		apiURL:       apiURL,
		apiKey:       apiKey,
		projectRoot:  projectRoot,
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		log:          log,
	}
}

// Name returns the plugin name
func (e *EtherscanVerifier) Name() string { return "etherscan" }

// Verify submits the unit and waits for the explorer's verdict
func (e *EtherscanVerifier) Verify(ctx context.Context, req usecase.VerifyRequest) error {
	input, err := buildStandardInput(e.projectRoot, req.Artifact, req.Libraries)
	if err != nil {
		return err
	}
	source, err := json.Marshal(input)
	if err != nil {
		return err
	}

	form := map[string]string{
		"module":               "contract",
		"action":               "verifysourcecode",
		"apikey":               e.apiKey,
		"chainid":              strconv.FormatUint(req.ChainID, 10),
		"codeformat":           "solidity-standard-json-input",
		"sourceCode":           string(source),
		"contractaddress":      req.Address.Hex(),
		"contractname":         req.SourceRef,
		"compilerversion":      compilerVersion(req.Artifact),
		"constructorArguements": hex.EncodeToString(req.ConstructorArgs),
	}
	libs := lo.Keys(req.Libraries)
	slices.Sort(libs)
	for i, fq := range libs {
		_, name, _ := strings.Cut(fq, ":")
		form[fmt.Sprintf("libraryname%d", i+1)] = name
		form[fmt.Sprintf("libraryaddress%d", i+1)] = req.Libraries[fq].Hex()
	}

	var submit etherscanResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&submit).
		Post(e.apiURL)
	if err != nil {
		return fmt.Errorf("submit to %s: %w", e.apiURL, err)
	}
	if resp.IsError() {
		return fmt.Errorf("submit to %s: HTTP %d: %s", e.apiURL, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if submit.Status != "1" {
		if isAlreadyVerified(submit.Result) {
			e.log.Debug("already verified", "unit", req.Unit, "address", req.Address.Hex())
			return nil
		}
		return fmt.Errorf("explorer rejected submission: %s", submit.Result)
	}

	return e.poll(ctx, submit.Result)
}

// poll waits until the explorer has processed the submission identified by guid
func (e *EtherscanVerifier) poll(ctx context.Context, guid string) error {
	for i := 0; i < e.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}

		var status etherscanResponse
		resp, err := e.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"module": "contract",
				"action": "checkverifystatus",
				"guid":   guid,
				"apikey": e.apiKey,
			}).
			SetResult(&status).
			Get(e.apiURL)
		if err != nil {
			return fmt.Errorf("check status: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("check status: HTTP %d", resp.StatusCode())
		}

		switch {
		case strings.Contains(strings.ToLower(status.Result), "pending"):
			continue
		case status.Status == "1", isAlreadyVerified(status.Result):
			return nil
		default:
			return fmt.Errorf("verification failed: %s", status.Result)
		}
	}
	return fmt.Errorf("verification still pending after %d checks (guid %s)", e.maxPolls, guid)
}

func isAlreadyVerified(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already verified")
}
