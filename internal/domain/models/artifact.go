package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// LinkReference is the byte offset of one library placeholder in creation bytecode
type LinkReference struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// LinkReferences maps source file -> library name -> placeholder offsets
type LinkReferences map[string]map[string][]LinkReference

// Artifact is the compiled output of one contract, as read from the build directory
type Artifact struct {
	Name            string          `json:"name"`
	SourcePath      string          `json:"sourcePath"` // e.g. src/Manager.sol
	ABI             json.RawMessage `json:"abi"`
	Bytecode        string          `json:"bytecode"` // creation bytecode, may contain link placeholders
	LinkReferences  LinkReferences  `json:"linkReferences,omitempty"`
	CompilerVersion string          `json:"compilerVersion,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"` // raw solc metadata

	parseOnce sync.Once
	parsed    abi.ABI
	parseErr  error
}

// ID returns the fully qualified "path:Name" identifier
func (a *Artifact) ID() string {
	if a.SourcePath == "" {
		return a.Name
	}
	return a.SourcePath + ":" + a.Name
}

// ParsedABI returns the parsed interface descriptor
func (a *Artifact) ParsedABI() (abi.ABI, error) {
	a.parseOnce.Do(func() {
		a.parsed, a.parseErr = abi.JSON(bytes.NewReader(a.ABI))
	})
	return a.parsed, a.parseErr
}

type abiEntry struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (a *Artifact) entries() []abiEntry {
	var entries []abiEntry
	if err := json.Unmarshal(a.ABI, &entries); err != nil {
		return nil
	}
	return entries
}

// HasConstructor reports whether the contract declares an explicit constructor.
// The ABI only carries a constructor entry when one is declared in source.
func (a *Artifact) HasConstructor() bool {
	for _, e := range a.entries() {
		if e.Type == "constructor" {
			return true
		}
	}
	return false
}

// HasFunction reports whether the ABI exposes a function with the given name
func (a *Artifact) HasFunction(name string) bool {
	for _, e := range a.entries() {
		if e.Type == "function" && e.Name == name {
			return true
		}
	}
	return false
}

// RequiresLinking reports whether the bytecode references external libraries
func (a *Artifact) RequiresLinking() bool {
	for _, libs := range a.LinkReferences {
		if len(libs) > 0 {
			return true
		}
	}
	return false
}

// LibraryNames returns the fully qualified names of referenced libraries
func (a *Artifact) LibraryNames() []string {
	var names []string
	for file, libs := range a.LinkReferences {
		for lib := range libs {
			names = append(names, file+":"+lib)
		}
	}
	sort.Strings(names)
	return names
}

// Link substitutes library addresses into the creation bytecode. Libraries are
// looked up by fully qualified name ("src/Utils.sol:Utils") first, then by
// bare library name.
func (a *Artifact) Link(libs map[string]common.Address) ([]byte, error) {
	code := strings.TrimPrefix(a.Bytecode, "0x")
	if code == "" {
		return nil, fmt.Errorf("artifact %s has no creation bytecode (abstract contract or interface?)", a.ID())
	}

	buf := []byte(code)
	var missing []string
	for file, refs := range a.LinkReferences {
		for lib, offsets := range refs {
			addr, ok := libs[file+":"+lib]
			if !ok {
				addr, ok = libs[lib]
			}
			if !ok {
				missing = append(missing, file+":"+lib)
				continue
			}
			hexAddr := []byte(strings.ToLower(strings.TrimPrefix(addr.Hex(), "0x")))
			for _, off := range offsets {
				start, end := off.Start*2, (off.Start+off.Length)*2
				if off.Start < 0 || off.Length != common.AddressLength || end > len(buf) {
					return nil, fmt.Errorf("artifact %s: invalid link reference for %s at offset %d", a.ID(), lib, off.Start)
				}
				copy(buf[start:end], hexAddr)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("artifact %s: unlinked libraries: %s", a.ID(), strings.Join(missing, ", "))
	}
	if !isHex(buf) {
		return nil, fmt.Errorf("artifact %s: bytecode still contains link placeholders", a.ID())
	}

	out, err := hexutil.Decode("0x" + string(buf))
	if err != nil {
		return nil, fmt.Errorf("artifact %s: invalid bytecode: %w", a.ID(), err)
	}
	return out, nil
}

// PackConstructor ABI-encodes constructor arguments. Literal values are coerced
// to the declared input types.
func (a *Artifact) PackConstructor(args []any) ([]byte, error) {
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: invalid abi: %w", a.ID(), err)
	}
	coerced, err := CoerceArgs(parsed.Constructor.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("constructor of %s: %w", a.ID(), err)
	}
	return parsed.Pack("", coerced...)
}

// Pack ABI-encodes a method call, selector included
func (a *Artifact) Pack(method string, args []any) ([]byte, error) {
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("artifact %s: invalid abi: %w", a.ID(), err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("artifact %s has no method %q", a.ID(), method)
	}
	coerced, err := CoerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", a.Name, method, err)
	}
	return parsed.Pack(method, coerced...)
}

// BytecodeHash is the identity of a linked creation bytecode
func BytecodeHash(code []byte) common.Hash {
	return crypto.Keccak256Hash(code)
}

func isHex(b []byte) bool {
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
