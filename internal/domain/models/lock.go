package models

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LockEntry is the persisted record of one unit deployed on one network
type LockEntry struct {
	Name                  string            `json:"name"`
	Kind                  UnitKind          `json:"kind,omitempty"`
	Address               common.Address    `json:"address"`
	ABI                   json.RawMessage   `json:"abi"`
	DeployTxHash          common.Hash       `json:"deployTxHash"`
	ProxyKind             ProxyType         `json:"proxyKind,omitempty"`
	ImplementationAddress *common.Address   `json:"implementationAddress,omitempty"`
	UpgradeTxHash         *common.Hash      `json:"upgradeTxHash,omitempty"`
	SourceRef             string            `json:"sourceRef,omitempty"`
	BytecodeHash          common.Hash       `json:"bytecodeHash"`
	ConstructorArgs       string            `json:"constructorArgs,omitempty"` // hex encoded
	Libraries             map[string]string `json:"libraries,omitempty"`
	Verified              bool              `json:"verified"`
	DeployedAt            time.Time         `json:"deployedAt"`
	VerifiedAt            *time.Time        `json:"verifiedAt,omitempty"`
}

// IsProxy reports whether the entry records a proxy deployment
func (e LockEntry) IsProxy() bool {
	return e.ProxyKind != "" && e.ImplementationAddress != nil
}

// VerificationTarget returns the address whose source is verified: the
// implementation for proxies, the deployed address otherwise.
func (e LockEntry) VerificationTarget() common.Address {
	if e.IsProxy() {
		return *e.ImplementationAddress
	}
	return e.Address
}

// Validate checks the entry carries the fields every reader depends on
func (e LockEntry) Validate() error {
	if e.Name == "" {
		return errMissingField("name")
	}
	if e.Address == (common.Address{}) {
		return errMissingField("address")
	}
	if e.ProxyKind != "" && !e.ProxyKind.Valid() {
		return &fieldError{field: "proxyKind", msg: "unknown proxy kind " + string(e.ProxyKind)}
	}
	if e.ProxyKind != "" && e.ImplementationAddress == nil {
		return errMissingField("implementationAddress")
	}
	return nil
}

type fieldError struct {
	field string
	msg   string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.msg
}

func errMissingField(field string) error {
	return &fieldError{field: field, msg: "missing"}
}
