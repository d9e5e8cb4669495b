// Package artifacts reads compiled contract artifacts from a Foundry or
// Hardhat build directory.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/registry"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// DefaultDir is the Foundry output directory
const DefaultDir = "out"

// Repository indexes the build directory on first use
type Repository struct {
	dir     string
	log     *slog.Logger
	mu      sync.RWMutex
	indexed bool
	byID    map[string]*models.Artifact   // "path:Name"
	byName  map[string][]*models.Artifact // "Name"
}

// NewRepository creates an artifact repository for dir, relative to the
// project root unless absolute
func NewRepository(projectRoot, dir string, log *slog.Logger) *Repository {
	if dir == "" {
		dir = DefaultDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectRoot, dir)
	}
	return &Repository{
		dir:    dir,
		log:    log,
		byID:   make(map[string]*models.Artifact),
		byName: make(map[string][]*models.Artifact),
	}
}

// ProvideRepository builds the repository from the runtime configuration
func ProvideRepository(cfg *config.RuntimeConfig, log *slog.Logger) *Repository {
	dir := DefaultDir
	if cfg.Project != nil && cfg.Project.ArtifactsDir != "" {
		dir = cfg.Project.ArtifactsDir
	}
	return NewRepository(cfg.ProjectRoot, dir, log)
}

// Load returns the artifact for "Name" or "path/File.sol:Name"
func (r *Repository) Load(ref string) (*models.Artifact, error) {
	if err := r.index(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if strings.Contains(ref, ":") {
		if a, ok := r.byID[ref]; ok {
			return a, nil
		}
		return nil, r.notFound(ref, lo.Keys(r.byID))
	}

	matches := r.byName[ref]
	switch len(matches) {
	case 0:
		return nil, r.notFound(ref, lo.Keys(r.byName))
	case 1:
		return matches[0], nil
	}
	ids := lo.Map(matches, func(a *models.Artifact, _ int) string { return a.ID() })
	slices.Sort(ids)
	return nil, fmt.Errorf("artifact %s is ambiguous, use one of: %s", ref, strings.Join(ids, ", "))
}

func (r *Repository) notFound(ref string, known []string) error {
	msg := fmt.Sprintf("artifact %s not found in %s", ref, r.dir)
	if s := registry.Suggest(ref, known); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
}

func (r *Repository) index() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexed {
		return nil
	}

	if _, err := os.Stat(r.dir); err != nil {
		return fmt.Errorf("artifacts directory %s: %w (compile the project first)", r.dir, err)
	}

	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}

		art, err := r.parse(path)
		if err != nil {
			r.log.Debug("skipping artifact", "path", path, "error", err)
			return nil
		}
		if art == nil {
			return nil
		}
		// Multi-version builds emit Name.<version>.json next to each other
		if _, dup := r.byID[art.ID()]; dup {
			r.log.Debug("duplicate artifact", "id", art.ID(), "path", path)
			return nil
		}
		r.byID[art.ID()] = art
		r.byName[art.Name] = append(r.byName[art.Name], art)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index artifacts: %w", err)
	}

	r.log.Debug("indexed artifacts", "dir", r.dir, "count", len(r.byID))
	r.indexed = true
	return nil
}

// buildArtifact covers both Foundry and Hardhat output
type buildArtifact struct {
	ABI            json.RawMessage       `json:"abi"`
	Bytecode       json.RawMessage       `json:"bytecode"`
	LinkReferences models.LinkReferences `json:"linkReferences"` // hardhat
	ContractName   string                `json:"contractName"`   // hardhat
	SourceName     string                `json:"sourceName"`     // hardhat
	RawMetadata    string                `json:"rawMetadata"`    // foundry
	Metadata       json.RawMessage       `json:"metadata"`       // foundry
}

type bytecodeObject struct {
	Object         string                `json:"object"`
	LinkReferences models.LinkReferences `json:"linkReferences"`
}

type solcMetadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Settings struct {
		CompilationTarget map[string]string `json:"compilationTarget"`
	} `json:"settings"`
}

// parse returns nil for files that are not deployable artifacts
func (r *Repository) parse(path string) (*models.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw buildArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.ABI) == 0 || len(raw.Bytecode) == 0 {
		return nil, nil
	}

	art := &models.Artifact{ABI: raw.ABI}

	bc := bytes.TrimSpace(raw.Bytecode)
	if len(bc) > 0 && bc[0] == '"' {
		if err := json.Unmarshal(bc, &art.Bytecode); err != nil {
			return nil, err
		}
		art.LinkReferences = raw.LinkReferences
	} else {
		var obj bytecodeObject
		if err := json.Unmarshal(bc, &obj); err != nil {
			return nil, err
		}
		art.Bytecode = obj.Object
		art.LinkReferences = obj.LinkReferences
	}
	if art.Bytecode == "" || art.Bytecode == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(art.Bytecode, "0x") {
		art.Bytecode = "0x" + art.Bytecode
	}

	switch {
	case raw.ContractName != "":
		art.Name = raw.ContractName
		art.SourcePath = raw.SourceName
	default:
		meta := raw.Metadata
		if raw.RawMetadata != "" {
			meta = json.RawMessage(raw.RawMetadata)
		}
		var md solcMetadata
		if len(meta) > 0 && json.Unmarshal(meta, &md) == nil {
			for source, name := range md.Settings.CompilationTarget {
				art.SourcePath, art.Name = source, name
			}
			art.CompilerVersion = md.Compiler.Version
			art.Metadata = meta
		}
	}

	// out/Manager.sol/Manager.json
	if art.Name == "" {
		art.Name = strings.TrimSuffix(filepath.Base(path), ".json")
		art.SourcePath = filepath.Base(filepath.Dir(path))
	}
	return art, nil
}

var _ usecase.ArtifactSource = (*Repository)(nil)
