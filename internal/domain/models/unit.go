package models

import (
	"fmt"
	"sort"
	"strings"
)

// UnitKind represents the kind of a deployment unit
type UnitKind string

const (
	PlainContract   UnitKind = "contract"
	Library         UnitKind = "library"
	ProxiedContract UnitKind = "proxy"
)

// Valid reports whether k is one of the known unit kinds
func (k UnitKind) Valid() bool {
	switch k {
	case PlainContract, Library, ProxiedContract:
		return true
	}
	return false
}

// ProxyType represents the upgrade pattern of a proxied contract
type ProxyType string

const (
	ProxyTypeUUPS        ProxyType = "uups"
	ProxyTypeTransparent ProxyType = "transparent"
)

// Valid reports whether t is a supported proxy type
func (t ProxyType) Valid() bool {
	return t == ProxyTypeUUPS || t == ProxyTypeTransparent
}

// UnsafeAllowFlag names an upgrade-safety check the operator waives for a unit
type UnsafeAllowFlag string

const (
	AllowConstructor             UnsafeAllowFlag = "constructor"
	AllowDelegatecall            UnsafeAllowFlag = "delegatecall"
	AllowSelfdestruct            UnsafeAllowFlag = "selfdestruct"
	AllowStateVariableAssignment UnsafeAllowFlag = "state-variable-assignment"
	AllowStateVariableImmutable  UnsafeAllowFlag = "state-variable-immutable"
	AllowExternalLibraryLinking  UnsafeAllowFlag = "external-library-linking"
	AllowStructDefinition        UnsafeAllowFlag = "struct-definition"
	AllowEnumDefinition          UnsafeAllowFlag = "enum-definition"
	AllowMissingPublicUpgradeTo  UnsafeAllowFlag = "missing-public-upgradeto"
	AllowMissingInitializer      UnsafeAllowFlag = "missing-initializer"
)

// KnownUnsafeAllowFlags returns every recognized waiver, sorted
func KnownUnsafeAllowFlags() []UnsafeAllowFlag {
	return []UnsafeAllowFlag{
		AllowConstructor,
		AllowDelegatecall,
		AllowEnumDefinition,
		AllowExternalLibraryLinking,
		AllowMissingInitializer,
		AllowMissingPublicUpgradeTo,
		AllowSelfdestruct,
		AllowStateVariableAssignment,
		AllowStateVariableImmutable,
		AllowStructDefinition,
	}
}

// Valid reports whether f is a recognized waiver
func (f UnsafeAllowFlag) Valid() bool {
	for _, known := range KnownUnsafeAllowFlags() {
		if f == known {
			return true
		}
	}
	return false
}

// UnsafeAllowSet is the set of waivers declared for a proxied unit
type UnsafeAllowSet map[UnsafeAllowFlag]struct{}

// NewUnsafeAllowSet builds a set from raw flag names. Unknown names are kept so
// that registry validation can report them.
func NewUnsafeAllowSet(flags ...string) UnsafeAllowSet {
	set := make(UnsafeAllowSet, len(flags))
	for _, f := range flags {
		set[UnsafeAllowFlag(strings.TrimSpace(f))] = struct{}{}
	}
	return set
}

// Has reports whether the waiver is present
func (s UnsafeAllowSet) Has(f UnsafeAllowFlag) bool {
	_, ok := s[f]
	return ok
}

// Sorted returns the flags in lexical order
func (s UnsafeAllowSet) Sorted() []UnsafeAllowFlag {
	out := make([]UnsafeAllowFlag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProxyConfig holds proxy settings of a ProxiedContract unit
type ProxyConfig struct {
	Type        ProxyType
	UnsafeAllow UnsafeAllowSet
}

// Arg is a constructor (or initializer) argument: either a literal value or a
// reference to another unit's address.
type Arg struct {
	Literal any
	Ref     string
}

// LiteralArg creates a literal argument
func LiteralArg(v any) Arg { return Arg{Literal: v} }

// RefArg creates an address reference to the named unit
func RefArg(unit string) Arg { return Arg{Ref: unit} }

// IsRef reports whether the argument is an address reference
func (a Arg) IsRef() bool { return a.Ref != "" }

func (a Arg) String() string {
	if a.IsRef() {
		return fmt.Sprintf("ref(%s)", a.Ref)
	}
	return fmt.Sprintf("%v", a.Literal)
}

// DeploymentUnit is one declared deployable artifact. It is immutable for the
// duration of a run.
type DeploymentUnit struct {
	Name            string
	Kind            UnitKind
	Artifact        string // artifact reference, defaults to Name
	ConstructorArgs []Arg
	LibraryLinks    map[string]Arg // library slot -> reference
	Proxy           *ProxyConfig
	Initializer     string // proxy initializer method, "" disables the init call
}

// ArtifactRef returns the artifact reference used to load compiled output
func (u DeploymentUnit) ArtifactRef() string {
	if u.Artifact != "" {
		return u.Artifact
	}
	return u.Name
}

// IsProxy reports whether the unit is deployed behind a proxy
func (u DeploymentUnit) IsProxy() bool {
	return u.Kind == ProxiedContract
}

// LibrarySlots returns the library slot names in lexical order
func (u DeploymentUnit) LibrarySlots() []string {
	slots := make([]string, 0, len(u.LibraryLinks))
	for slot := range u.LibraryLinks {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}
