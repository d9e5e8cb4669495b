package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
)

// Sentinel errors for domain operations
var (
	// ErrNotFound is returned when a requested unit or entry doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned when another run holds the lock file
	ErrLockHeld = errors.New("lock file is held by another run")

	// ErrUnknownNetwork is returned when no profile exists for a network
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrAborted is returned when the operator declines a confirmation prompt
	ErrAborted = errors.New("aborted by operator")
)

// ConfigError lists every violation found in a unit registry
type ConfigError struct {
	errs *multierror.Error
}

// NewConfigError builds a ConfigError from violations; it returns nil when
// there are none.
func NewConfigError(violations []error) *ConfigError {
	if len(violations) == 0 {
		return nil
	}
	merr := &multierror.Error{ErrorFormat: formatViolations}
	merr = multierror.Append(merr, violations...)
	return &ConfigError{errs: merr}
}

func (e *ConfigError) Error() string {
	return "invalid deployment configuration: " + e.errs.Error()
}

// Violations returns the individual problems
func (e *ConfigError) Violations() []error {
	return e.errs.WrappedErrors()
}

func formatViolations(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("%d problem(s) found:\n%s", len(errs), strings.Join(lines, "\n"))
}

// CyclicDependencyError reports a cycle among address references
type CyclicDependencyError struct {
	Cycle []string // first element repeated at the end
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency between units: " + strings.Join(e.Cycle, " -> ")
}

// UnresolvedReferenceError means a reference was resolved before its target
// was deployed or loaded. A valid plan never produces it.
type UnresolvedReferenceError struct {
	Unit string
	Ref  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("internal error: unit %s references %s before it has an address", e.Unit, e.Ref)
}

// UnsafeUpgradeError is returned when a proxied implementation violates an
// upgrade-safety check the operator did not waive
type UnsafeUpgradeError struct {
	Unit       string
	Violations []string // names of the missing waivers
}

func (e *UnsafeUpgradeError) Error() string {
	return fmt.Sprintf("unit %s is not upgrade safe: %s (add them to proxy.unsafe_allow to waive)",
		e.Unit, strings.Join(e.Violations, ", "))
}

// TransientNetworkError wraps a chain-client transport failure worth retrying
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ContractRevertError is a contract-level failure of a deployment or call
type ContractRevertError struct {
	Unit   string
	TxHash *common.Hash
	Reason string
}

func (e *ContractRevertError) Error() string {
	msg := "transaction reverted"
	if e.Unit != "" {
		msg = fmt.Sprintf("unit %s: %s", e.Unit, msg)
	}
	if e.TxHash != nil {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// LockCorruptError is returned when a lock file cannot be trusted
type LockCorruptError struct {
	Path string
	Err  error
}

func (e *LockCorruptError) Error() string {
	return fmt.Sprintf("lock file %s is corrupt: %v", e.Path, e.Err)
}

func (e *LockCorruptError) Unwrap() error { return e.Err }

// VerificationError records a failed verifier submission for one unit
type VerificationError struct {
	Unit     string
	Verifier string
	Err      error
}

func (e *VerificationError) Error() string {
	if e.Verifier != "" {
		return fmt.Sprintf("verification of %s on %s failed: %v", e.Unit, e.Verifier, e.Err)
	}
	return fmt.Sprintf("verification of %s failed: %v", e.Unit, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// VerificationFailedError aggregates the verification failures of a run
type VerificationFailedError struct {
	errs *multierror.Error
}

// NewVerificationFailedError returns nil when errs is empty
func NewVerificationFailedError(errs []error) *VerificationFailedError {
	if len(errs) == 0 {
		return nil
	}
	return &VerificationFailedError{errs: multierror.Append(&multierror.Error{ErrorFormat: formatViolations}, errs...)}
}

func (e *VerificationFailedError) Error() string {
	return "verification incomplete: " + e.errs.Error()
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsFatalConfig reports whether err stems from the declared
// configuration and must never be retried
func IsFatalConfig(err error) bool {
	var (
		cfg   *ConfigError
		cycle *CyclicDependencyError
		unres *UnresolvedReferenceError
		safe  *UnsafeUpgradeError
	)
	return errors.As(err, &cfg) || errors.As(err, &cycle) || errors.As(err, &unres) || errors.As(err, &safe)
}
