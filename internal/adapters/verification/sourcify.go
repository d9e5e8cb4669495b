package verification

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// DefaultSourcifyURL is the public Sourcify server
const DefaultSourcifyURL = "https://sourcify.dev/server"

type sourcifyRequest struct {
	Address string            `json:"address"`
	Chain   string            `json:"chain"`
	Files   map[string]string `json:"files"`
}

type sourcifyResponse struct {
	Result []struct {
		Address string `json:"address"`
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// SourcifyVerifier uploads the compiler metadata and sources to a Sourcify
// server
type SourcifyVerifier struct {
	http        *resty.Client
	serverURL   string
	projectRoot string
	log         *slog.Logger
}

// NewSourcifyVerifier creates a verifier for the Sourcify server at serverURL
func NewSourcifyVerifier(http *resty.Client, serverURL, projectRoot string, log *slog.Logger) *SourcifyVerifier {
	if serverURL == "" {
		serverURL = DefaultSourcifyURL
	}
	return &SourcifyVerifier{
		http:        http,
		serverURL:   strings.TrimSuffix(serverURL, "/"),
		projectRoot: projectRoot,
		log:         log,
	}
}

// Name returns the plugin name
func (s *SourcifyVerifier) Name() string { return "sourcify" }

// Verify uploads the unit's metadata; partial matches count as verified
func (s *SourcifyVerifier) Verify(ctx context.Context, req usecase.VerifyRequest) error {
	md, err := parseMetadata(req.Artifact)
	if err != nil {
		return err
	}

	files := map[string]string{"metadata.json": string(req.Artifact.Metadata)}
	for path := range md.Sources {
		data, err := os.ReadFile(filepath.Join(s.projectRoot, path))
		if err != nil {
			return fmt.Errorf("source %s: %w", path, err)
		}
		files[path] = string(data)
	}

	var out sourcifyResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(sourcifyRequest{
			Address: req.Address.Hex(),
			Chain:   strconv.FormatUint(req.ChainID, 10),
			Files:   files,
		}).
		SetResult(&out).
		SetError(&out).
		Post(s.serverURL + "/verify")
	if err != nil {
		return fmt.Errorf("submit to %s: %w", s.serverURL, err)
	}
	if resp.IsError() {
		if isAlreadyVerified(out.Error) {
			return nil
		}
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return fmt.Errorf("sourcify rejected submission: HTTP %d: %s", resp.StatusCode(), msg)
	}

	for _, r := range out.Result {
		switch r.Status {
		case "perfect", "partial":
			s.log.Debug("sourcify match", "unit", req.Unit, "status", r.Status)
			return nil
		}
		if isAlreadyVerified(r.Message) {
			return nil
		}
	}
	return fmt.Errorf("sourcify returned no match for %s", req.Address.Hex())
}
