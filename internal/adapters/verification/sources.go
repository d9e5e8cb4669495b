package verification

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// solcMetadata is the part of the compiler metadata needed to rebuild a
// compilation
type solcMetadata struct {
	Language string `json:"language"`
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Sources  map[string]json.RawMessage `json:"sources"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
		EVMVersion        string            `json:"evmVersion,omitempty"`
		Optimizer         json.RawMessage   `json:"optimizer,omitempty"`
		Metadata          json.RawMessage   `json:"metadata,omitempty"`
		Remappings        []string          `json:"remappings,omitempty"`
		ViaIR             bool              `json:"viaIR,omitempty"`
	} `json:"settings"`
}

type sourceContent struct {
	Content string `json:"content"`
}

type standardSettings struct {
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	Optimizer       json.RawMessage                `json:"optimizer,omitempty"`
	Metadata        json.RawMessage                `json:"metadata,omitempty"`
	Remappings      []string                       `json:"remappings,omitempty"`
	ViaIR           bool                           `json:"viaIR,omitempty"`
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

// standardInput is the solc standard-json-input explorers recompile from
type standardInput struct {
	Language string                   `json:"language"`
	Sources  map[string]sourceContent `json:"sources"`
	Settings standardSettings         `json:"settings"`
}

func parseMetadata(art *models.Artifact) (*solcMetadata, error) {
	if len(art.Metadata) == 0 {
		return nil, fmt.Errorf("artifact %s has no compiler metadata", art.ID())
	}
	var md solcMetadata
	if err := json.Unmarshal(art.Metadata, &md); err != nil {
		return nil, fmt.Errorf("artifact %s: invalid compiler metadata: %w", art.ID(), err)
	}
	return &md, nil
}

// buildStandardInput reads every source named in the artifact's metadata from
// the project root
func buildStandardInput(projectRoot string, art *models.Artifact, libs map[string]common.Address) (*standardInput, error) {
	md, err := parseMetadata(art)
	if err != nil {
		return nil, err
	}

	in := &standardInput{
		Language: md.Language,
		Sources:  make(map[string]sourceContent, len(md.Sources)),
		Settings: standardSettings{
			EVMVersion: md.Settings.EVMVersion,
			Optimizer:  md.Settings.Optimizer,
			Metadata:   md.Settings.Metadata,
			Remappings: md.Settings.Remappings,
			ViaIR:      md.Settings.ViaIR,
			OutputSelection: map[string]map[string][]string{
				"*": {"*": {"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"}},
			},
		},
	}
	if in.Language == "" {
		in.Language = "Solidity"
	}

	for path := range md.Sources {
		data, err := os.ReadFile(filepath.Join(projectRoot, path))
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", path, err)
		}
		in.Sources[path] = sourceContent{Content: string(data)}
	}

	if len(libs) > 0 {
		in.Settings.Libraries = make(map[string]map[string]string)
		for fq, addr := range libs {
			file, name, ok := strings.Cut(fq, ":")
			if !ok {
				continue
			}
			if in.Settings.Libraries[file] == nil {
				in.Settings.Libraries[file] = make(map[string]string)
			}
			in.Settings.Libraries[file][name] = addr.Hex()
		}
	}
	return in, nil
}

// compilerVersion formats the artifact's compiler version the way explorers
// expect it ("v0.8.24+commit.e11b9ed9")
func compilerVersion(art *models.Artifact) string {
	v := art.CompilerVersion
	if v == "" {
		if md, err := parseMetadata(art); err == nil {
			v = md.Compiler.Version
		}
	}
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
