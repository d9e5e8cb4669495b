package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"gopkg.in/yaml.v3"
)

// ProjectFileNames are searched in order in every directory
var ProjectFileNames = []string{"bundler.toml", "bundler.yaml", "bundler.yml"}

const (
	defaultLockFile      = "deployment-lock.json"
	defaultLocalLockFile = "local.deployment-lock.json"
	defaultInitializer   = "initialize"
	defaultSenderKeyEnv  = "PRIVATE_KEY"
)

// projectFile is the on-disk schema shared by the toml and yaml formats
type projectFile struct {
	Artifacts      string              `toml:"artifacts" yaml:"artifacts"`
	ProxyArtifacts *proxyArtifactsFile `toml:"proxy_artifacts" yaml:"proxy_artifacts"`
	Units          map[string]unitFile `toml:"units" yaml:"units"`
	Env            map[string]envFile  `toml:"env" yaml:"env"`
}

type proxyArtifactsFile struct {
	UUPS        string `toml:"uups" yaml:"uups"`
	Transparent string `toml:"transparent" yaml:"transparent"`
}

type unitFile struct {
	Kind        string         `toml:"kind" yaml:"kind"`
	Artifact    string         `toml:"artifact" yaml:"artifact"`
	Args        []any          `toml:"args" yaml:"args"`
	Libraries   map[string]any `toml:"libraries" yaml:"libraries"`
	Initializer *string        `toml:"initializer" yaml:"initializer"`
	Proxy       *proxyFile     `toml:"proxy" yaml:"proxy"`
}

type proxyFile struct {
	Type        string   `toml:"type" yaml:"type"`
	UnsafeAllow []string `toml:"unsafe_allow" yaml:"unsafe_allow"`
}

type envFile struct {
	LockFile          string     `toml:"lock_file" yaml:"lock_file"`
	RPCURL            string     `toml:"rpc_url" yaml:"rpc_url"`
	ChainID           uint64     `toml:"chain_id" yaml:"chain_id"`
	Verify            bool       `toml:"verify" yaml:"verify"`
	Verifiers         []string   `toml:"verifiers" yaml:"verifiers"`
	ExplorerAPIURL    string     `toml:"explorer_api_url" yaml:"explorer_api_url"`
	ExplorerAPIKey    string     `toml:"explorer_api_key" yaml:"explorer_api_key"`
	SourcifyURL       string     `toml:"sourcify_url" yaml:"sourcify_url"`
	SenderKeyEnv      string     `toml:"sender_key_env" yaml:"sender_key_env"`
	Confirmations     uint64     `toml:"confirmations" yaml:"confirmations"`
	Local             *bool      `toml:"local" yaml:"local"`
	VerifyConcurrency int        `toml:"verify_concurrency" yaml:"verify_concurrency"`
	Retry             *retryFile `toml:"retry" yaml:"retry"`
}

type retryFile struct {
	MaxAttempts     uint64 `toml:"max_attempts" yaml:"max_attempts"`
	InitialInterval string `toml:"initial_interval" yaml:"initial_interval"`
	MaxInterval     string `toml:"max_interval" yaml:"max_interval"`
}

// FindProjectFile returns the first project file in dir
func FindProjectFile(dir string) (string, bool) {
	for _, name := range ProjectFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadProject parses a bundler.toml or bundler.yaml file. Every problem in
// the file is reported in one *domain.ConfigError.
func LoadProject(path string) (*config.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var (
		raw   projectFile
		order []string
		errs  []error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, order, err = decodeYAML(data)
	default:
		raw, order, errs, err = decodeTOML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	project, convErrs := convert(raw, order, filepath.Dir(path))
	errs = append(errs, convErrs...)
	if cerr := domain.NewConfigError(errs); cerr != nil {
		return nil, cerr
	}
	return project, nil
}

// decodeTOML recovers unit declaration order from the metadata key list
func decodeTOML(data []byte) (projectFile, []string, []error, error) {
	var raw projectFile
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return raw, nil, nil, err
	}

	var order []string
	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "units" && !lo.Contains(order, key[1]) {
			order = append(order, key[1])
		}
	}

	var errs []error
	for _, key := range md.Undecoded() {
		if lo.Contains([]string(key), "args") || lo.Contains([]string(key), "libraries") {
			continue
		}
		errs = append(errs, fmt.Errorf("unknown key %q", key.String()))
	}
	return raw, order, errs, nil
}

// decodeYAML recovers unit declaration order from the node tree
func decodeYAML(data []byte) (projectFile, []string, error) {
	var raw projectFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return raw, nil, err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return raw, nil, err
	}
	var order []string
	if len(root.Content) > 0 {
		doc := root.Content[0]
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if doc.Content[i].Value != "units" || doc.Content[i+1].Kind != yaml.MappingNode {
				continue
			}
			units := doc.Content[i+1]
			for j := 0; j+1 < len(units.Content); j += 2 {
				order = append(order, units.Content[j].Value)
			}
		}
	}
	return raw, order, nil
}

func convert(raw projectFile, order []string, root string) (*config.ProjectConfig, []error) {
	var errs []error
	project := &config.ProjectConfig{
		ArtifactsDir:   os.ExpandEnv(raw.Artifacts),
		ProxyArtifacts: config.DefaultProxyArtifacts(),
		Profiles:       make(map[string]*config.Profile, len(raw.Env)),
	}
	if pa := raw.ProxyArtifacts; pa != nil {
		if pa.UUPS != "" {
			project.ProxyArtifacts.UUPS = pa.UUPS
		}
		if pa.Transparent != "" {
			project.ProxyArtifacts.Transparent = pa.Transparent
		}
	}

	for _, name := range order {
		u, ok := raw.Units[name]
		if !ok {
			continue
		}
		unit, unitErrs := convertUnit(name, u)
		errs = append(errs, unitErrs...)
		project.Units = append(project.Units, unit)
	}

	for name, e := range raw.Env {
		profile, err := convertEnv(name, e, root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		project.Profiles[name] = profile
	}
	return project, errs
}

func convertUnit(name string, u unitFile) (models.DeploymentUnit, []error) {
	var errs []error
	unit := models.DeploymentUnit{
		Name:        name,
		Kind:        models.UnitKind(u.Kind),
		Artifact:    u.Artifact,
		Initializer: defaultInitializer,
	}
	if unit.Kind == "" {
		unit.Kind = models.PlainContract
	}
	if u.Initializer != nil {
		unit.Initializer = *u.Initializer
	}

	for i, v := range u.Args {
		arg, err := toArg(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("unit %q: argument %d: %w", name, i, err))
			continue
		}
		unit.ConstructorArgs = append(unit.ConstructorArgs, arg)
	}

	if len(u.Libraries) > 0 {
		unit.LibraryLinks = make(map[string]models.Arg, len(u.Libraries))
		for slot, v := range u.Libraries {
			arg, err := toArg(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("unit %q: library %s: %w", name, slot, err))
				continue
			}
			unit.LibraryLinks[slot] = arg
		}
	}

	if u.Proxy != nil {
		unit.Proxy = &models.ProxyConfig{
			Type:        models.ProxyType(u.Proxy.Type),
			UnsafeAllow: models.NewUnsafeAllowSet(u.Proxy.UnsafeAllow...),
		}
		if unit.Proxy.Type == "" {
			unit.Proxy.Type = models.ProxyTypeUUPS
		}
	}
	return unit, errs
}

// toArg accepts a literal or a { ref = "Unit" } table
func toArg(v any) (models.Arg, error) {
	switch val := v.(type) {
	case map[string]any:
		ref, ok := val["ref"].(string)
		if !ok || len(val) != 1 || ref == "" {
			return models.Arg{}, fmt.Errorf(`tables must have the form { ref = "Unit" }`)
		}
		return models.RefArg(ref), nil
	case string:
		return models.LiteralArg(os.ExpandEnv(val)), nil
	}
	return models.LiteralArg(v), nil
}

func convertEnv(name string, e envFile, root string) (*config.Profile, error) {
	local := isLocalName(name)
	if e.Local != nil {
		local = *e.Local
	}

	p := &config.Profile{
		Name:              name,
		LockFile:          os.ExpandEnv(e.LockFile),
		RPCURL:            os.ExpandEnv(e.RPCURL),
		ChainID:           e.ChainID,
		Verify:            e.Verify,
		Verifiers:         e.Verifiers,
		ExplorerAPIURL:    os.ExpandEnv(e.ExplorerAPIURL),
		ExplorerAPIKey:    os.ExpandEnv(e.ExplorerAPIKey),
		SourcifyURL:       os.ExpandEnv(e.SourcifyURL),
		SenderKeyEnv:      e.SenderKeyEnv,
		Confirmations:     e.Confirmations,
		Local:             local,
		Retry:             config.DefaultRetryPolicy(),
		VerifyConcurrency: e.VerifyConcurrency,
	}
	if p.LockFile == "" {
		p.LockFile = defaultLockFile
		if local {
			p.LockFile = defaultLocalLockFile
		}
	}
	if !filepath.IsAbs(p.LockFile) {
		p.LockFile = filepath.Join(root, p.LockFile)
	}
	if p.SenderKeyEnv == "" {
		p.SenderKeyEnv = defaultSenderKeyEnv
	}
	if p.Confirmations == 0 {
		p.Confirmations = 1
	}

	if r := e.Retry; r != nil {
		if r.MaxAttempts > 0 {
			p.Retry.MaxAttempts = r.MaxAttempts
		}
		var err error
		if p.Retry.InitialInterval, err = parseDuration(r.InitialInterval, p.Retry.InitialInterval); err != nil {
			return nil, fmt.Errorf("env %q: retry.initial_interval: %w", name, err)
		}
		if p.Retry.MaxInterval, err = parseDuration(r.MaxInterval, p.Retry.MaxInterval); err != nil {
			return nil, fmt.Errorf("env %q: retry.max_interval: %w", name, err)
		}
	}
	return p, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

// isLocalName reports whether a network name conventionally denotes a
// development node
func isLocalName(name string) bool {
	switch name {
	case "localhost", "local", "hardhat", "anvil":
		return true
	}
	return false
}
