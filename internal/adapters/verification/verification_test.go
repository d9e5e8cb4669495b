package verification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

const tokenMetadata = `{
  "language": "Solidity",
  "compiler": {"version": "0.8.24+commit.e11b9ed9"},
  "sources": {"src/Token.sol": {"keccak256": "0x01"}},
  "settings": {
    "compilationTarget": {"src/Token.sol": "Token"},
    "evmVersion": "cancun",
    "optimizer": {"enabled": true, "runs": 200}
  }
}`

const tokenSource = "contract Token {}\n"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testRequest(t *testing.T) (string, usecase.VerifyRequest) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "Token.sol"), []byte(tokenSource), 0644))

	art := &models.Artifact{
		Name:            "Token",
		SourcePath:      "src/Token.sol",
		ABI:             json.RawMessage(`[]`),
		Bytecode:        "0x6000",
		CompilerVersion: "0.8.24+commit.e11b9ed9",
		Metadata:        json.RawMessage(tokenMetadata),
	}
	return root, usecase.VerifyRequest{
		Network:         "testnet",
		ChainID:         11155111,
		Unit:            "Token",
		Address:         common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		SourceRef:       art.ID(),
		Artifact:        art,
		ConstructorArgs: []byte{0x01, 0x02},
		Libraries: map[string]common.Address{
			"src/Utils.sol:Utils": common.HexToAddress("0x00000000000000000000000000000000000000f1"),
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBuildStandardInput(t *testing.T) {
	root, req := testRequest(t)

	in, err := buildStandardInput(root, req.Artifact, req.Libraries)
	require.NoError(t, err)
	assert.Equal(t, "Solidity", in.Language)
	assert.Equal(t, tokenSource, in.Sources["src/Token.sol"].Content)
	assert.Equal(t, "cancun", in.Settings.EVMVersion)
	assert.JSONEq(t, `{"enabled": true, "runs": 200}`, string(in.Settings.Optimizer))
	assert.Equal(t, req.Libraries["src/Utils.sol:Utils"].Hex(), in.Settings.Libraries["src/Utils.sol"]["Utils"])

	t.Run("missing source", func(t *testing.T) {
		_, err := buildStandardInput(t.TempDir(), req.Artifact, nil)
		assert.ErrorContains(t, err, "source src/Token.sol")
	})

	t.Run("no metadata", func(t *testing.T) {
		_, err := buildStandardInput(root, &models.Artifact{Name: "X"}, nil)
		assert.ErrorContains(t, err, "no compiler metadata")
	})
}

func TestCompilerVersion(t *testing.T) {
	assert.Equal(t, "v0.8.24+commit.e11b9ed9", compilerVersion(&models.Artifact{CompilerVersion: "0.8.24+commit.e11b9ed9"}))
	assert.Equal(t, "v0.8.24+commit.e11b9ed9", compilerVersion(&models.Artifact{Metadata: json.RawMessage(tokenMetadata)}))
	assert.Equal(t, "v0.8.20", compilerVersion(&models.Artifact{CompilerVersion: "v0.8.20"}))
	assert.Empty(t, compilerVersion(&models.Artifact{}))
}

func TestEtherscanVerifier(t *testing.T) {
	root, req := testRequest(t)

	t.Run("submits and polls until verified", func(t *testing.T) {
		var polls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				assert.NoError(t, r.ParseForm())
				assert.Equal(t, "verifysourcecode", r.PostForm.Get("action"))
				assert.Equal(t, "key", r.PostForm.Get("apikey"))
				assert.Equal(t, "11155111", r.PostForm.Get("chainid"))
				assert.Equal(t, "src/Token.sol:Token", r.PostForm.Get("contractname"))
				assert.Equal(t, "v0.8.24+commit.e11b9ed9", r.PostForm.Get("compilerversion"))
				assert.Equal(t, "0102", r.PostForm.Get("constructorArguements"))
				assert.Equal(t, "Utils", r.PostForm.Get("libraryname1"))
				assert.Contains(t, r.PostForm.Get("sourceCode"), "contract Token {}")
				writeJSON(w, http.StatusOK, etherscanResponse{Status: "1", Message: "OK", Result: "guid-1"})
				return
			}
			assert.Equal(t, "checkverifystatus", r.URL.Query().Get("action"))
			assert.Equal(t, "guid-1", r.URL.Query().Get("guid"))
			if polls.Add(1) == 1 {
				writeJSON(w, http.StatusOK, etherscanResponse{Status: "0", Message: "NOTOK", Result: "Pending in queue"})
				return
			}
			writeJSON(w, http.StatusOK, etherscanResponse{Status: "1", Message: "OK", Result: "Pass - Verified"})
		}))
		defer srv.Close()

		v := NewEtherscanVerifier(resty.New(), srv.URL, "key", root, discard)
		v.pollInterval = time.Millisecond
		require.NoError(t, v.Verify(context.Background(), req))
		assert.Equal(t, int32(2), polls.Load())
	})

	t.Run("already verified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, etherscanResponse{Status: "0", Message: "NOTOK", Result: "Contract source code already verified"})
		}))
		defer srv.Close()

		v := NewEtherscanVerifier(resty.New(), srv.URL, "key", root, discard)
		assert.NoError(t, v.Verify(context.Background(), req))
	})

	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, etherscanResponse{Status: "0", Message: "NOTOK", Result: "Invalid API Key"})
		}))
		defer srv.Close()

		v := NewEtherscanVerifier(resty.New(), srv.URL, "key", root, discard)
		assert.ErrorContains(t, v.Verify(context.Background(), req), "Invalid API Key")
	})

	t.Run("bytecode mismatch", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusOK, etherscanResponse{Status: "1", Result: "guid-2"})
				return
			}
			writeJSON(w, http.StatusOK, etherscanResponse{Status: "0", Result: "Fail - Unable to verify"})
		}))
		defer srv.Close()

		v := NewEtherscanVerifier(resty.New(), srv.URL, "key", root, discard)
		v.pollInterval = time.Millisecond
		assert.ErrorContains(t, v.Verify(context.Background(), req), "Fail - Unable to verify")
	})

	t.Run("gives up while pending", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusOK, etherscanResponse{Status: "1", Result: "guid-3"})
				return
			}
			writeJSON(w, http.StatusOK, etherscanResponse{Status: "0", Result: "Pending in queue"})
		}))
		defer srv.Close()

		v := NewEtherscanVerifier(resty.New(), srv.URL, "key", root, discard)
		v.pollInterval = time.Millisecond
		v.maxPolls = 3
		assert.ErrorContains(t, v.Verify(context.Background(), req), "still pending after 3 checks")
	})
}

func TestSourcifyVerifier(t *testing.T) {
	root, req := testRequest(t)

	serve := func(t *testing.T, status int, body any) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/verify", r.URL.Path)
			var got sourcifyRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, "11155111", got.Chain)
			assert.Equal(t, req.Address.Hex(), got.Address)
			assert.Equal(t, tokenSource, got.Files["src/Token.sol"])
			assert.Contains(t, got.Files, "metadata.json")
			writeJSON(w, status, body)
		}))
	}

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"perfect match", http.StatusOK, `{"result":[{"address":"0xaa","status":"perfect"}]}`, ""},
		{"partial match", http.StatusOK, `{"result":[{"address":"0xaa","status":"partial"}]}`, ""},
		{"no match", http.StatusOK, `{"result":[{"address":"0xaa","status":"null"}]}`, "no match"},
		{"already verified", http.StatusConflict, `{"error":"Contract already verified"}`, ""},
		{"rejected", http.StatusBadRequest, `{"error":"Metadata file not found"}`, "Metadata file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, json.RawMessage(tt.body))
			defer srv.Close()

			err := NewSourcifyVerifier(resty.New(), srv.URL+"/", root, discard).Verify(context.Background(), req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestForgeVerifier(t *testing.T) {
	_, req := testRequest(t)

	fake := func(out string, err error) (*ForgeVerifier, *[]string) {
		var got []string
		f := NewForgeVerifier("/project", "etherscan", "https://api.example/api", "key")
		f.run = func(_ context.Context, dir string, args []string) ([]byte, error) {
			assert.Equal(t, "/project", dir)
			got = args
			return []byte(out), err
		}
		return f, &got
	}

	t.Run("arguments", func(t *testing.T) {
		f, args := fake("Contract successfully verified", nil)
		require.NoError(t, f.Verify(context.Background(), req))
		assert.Equal(t, []string{
			"verify-contract", req.Address.Hex(), "src/Token.sol:Token",
			"--chain-id", "11155111", "--watch",
			"--verifier", "etherscan",
			"--verifier-url", "https://api.example/api",
			"--etherscan-api-key", "key",
			"--compiler-version", "v0.8.24+commit.e11b9ed9",
			"--constructor-args", "0102",
			"--libraries", "src/Utils.sol:Utils:" + req.Libraries["src/Utils.sol:Utils"].Hex(),
		}, *args)
	})

	t.Run("already verified exit status", func(t *testing.T) {
		f, _ := fake("Error: Contract source code already verified", errors.New("exit status 1"))
		assert.NoError(t, f.Verify(context.Background(), req))
	})

	t.Run("failure", func(t *testing.T) {
		f, _ := fake("Error: Invalid API key\n", errors.New("exit status 1"))
		assert.ErrorContains(t, f.Verify(context.Background(), req), "Invalid API key")
	})

	t.Run("unclear output", func(t *testing.T) {
		f, _ := fake("Submitted contract for verification", nil)
		assert.ErrorContains(t, f.Verify(context.Background(), req), "status unclear")
	})
}

type stubPlugin struct {
	name  string
	err   error
	calls int
}

func (s *stubPlugin) Name() string { return s.name }

func (s *stubPlugin) Verify(context.Context, usecase.VerifyRequest) error {
	s.calls++
	return s.err
}

func TestPipeline(t *testing.T) {
	_, req := testRequest(t)

	t.Run("all succeed", func(t *testing.T) {
		a, b := &stubPlugin{name: "etherscan"}, &stubPlugin{name: "sourcify"}
		require.NoError(t, NewPipeline(discard, a, b).Verify(context.Background(), req))
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 1, b.calls)
	})

	t.Run("one failure fails the unit and later plugins still run", func(t *testing.T) {
		a := &stubPlugin{name: "etherscan", err: errors.New("rate limited")}
		b := &stubPlugin{name: "sourcify"}
		err := NewPipeline(discard, a, b).Verify(context.Background(), req)

		var verr *domain.VerificationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "Token", verr.Unit)
		assert.Equal(t, "etherscan", verr.Verifier)
		assert.Contains(t, err.Error(), "rate limited")
		assert.Equal(t, 1, b.calls)
	})

	t.Run("names every failing plugin", func(t *testing.T) {
		a := &stubPlugin{name: "etherscan", err: errors.New("down")}
		b := &stubPlugin{name: "sourcify", err: errors.New("no match")}
		err := NewPipeline(discard, a, b).Verify(context.Background(), req)

		var verr *domain.VerificationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "etherscan, sourcify", verr.Verifier)
		assert.Contains(t, err.Error(), "etherscan: down; sourcify: no match")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a := &stubPlugin{name: "etherscan"}
		err := NewPipeline(discard, a).Verify(ctx, req)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, a.calls)
	})
}

func TestFactory_ForProfile(t *testing.T) {
	f := NewFactory(&config.RuntimeConfig{ProjectRoot: t.TempDir()}, discard)

	t.Run("ordered plugins", func(t *testing.T) {
		v, err := f.ForProfile(&config.Profile{
			Name:           "sepolia",
			Verifiers:      []string{"sourcify", "etherscan", "forge"},
			ExplorerAPIURL: "https://api.example/api",
			ExplorerAPIKey: "key",
		})
		require.NoError(t, err)
		p, ok := v.(*Pipeline)
		require.True(t, ok)
		assert.Equal(t, []string{"sourcify", "etherscan", "forge"}, p.Names())
	})

	t.Run("unknown plugin", func(t *testing.T) {
		_, err := f.ForProfile(&config.Profile{Name: "sepolia", Verifiers: []string{"etherscn"}})
		assert.ErrorContains(t, err, `unknown verifier "etherscn" (did you mean "etherscan"?)`)
	})

	t.Run("etherscan needs credentials", func(t *testing.T) {
		_, err := f.ForProfile(&config.Profile{Name: "sepolia", Verifiers: []string{"etherscan"}})
		assert.ErrorContains(t, err, "explorer_api_key")
	})

	t.Run("no verifiers", func(t *testing.T) {
		_, err := f.ForProfile(&config.Profile{Name: "sepolia"})
		assert.ErrorContains(t, err, "lists no verifiers")
	})

	t.Run("forge falls back to sourcify without a key", func(t *testing.T) {
		p, err := f.plugin("forge", &config.Profile{Name: "sepolia"})
		require.NoError(t, err)
		assert.Equal(t, "sourcify", p.(*ForgeVerifier).verifier)
	})
}
