package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the confirmed outcome of a transaction
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	ContractAddress common.Address
	GasUsed         uint64
	Success         bool
	RevertReason    string // best effort, set only for failed transactions
}

// UnitAction is what the executor decided to do with a unit
type UnitAction string

const (
	ActionSkip     UnitAction = "skip"
	ActionDeploy   UnitAction = "deploy"
	ActionUpgrade  UnitAction = "upgrade"
	ActionRedeploy UnitAction = "redeploy"
)

// UnitStatus is the user-visible outcome of a unit in a run
type UnitStatus string

const (
	StatusSkipped  UnitStatus = "skipped"
	StatusDeployed UnitStatus = "deployed"
	StatusUpgraded UnitStatus = "upgraded"
	StatusFailed   UnitStatus = "failed"
	StatusPending  UnitStatus = "pending" // not reached because an earlier unit failed
)

// UnitResult reports the outcome of a single unit
type UnitResult struct {
	Name           string
	Kind           UnitKind
	Action         UnitAction
	Status         UnitStatus
	Address        common.Address
	Implementation *common.Address
	TxHashes       []common.Hash
	Duration       time.Duration
	Err            error
}

// DeployReport is the result of a deployment run over a whole plan
type DeployReport struct {
	RunID        string
	Network      string
	LockFile     string
	Units        []*UnitResult
	Verification *VerificationSummary
}

// Count returns the number of units with the given status
func (r *DeployReport) Count(status UnitStatus) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the failed unit, if any
func (r *DeployReport) Failed() *UnitResult {
	for _, u := range r.Units {
		if u.Status == StatusFailed {
			return u
		}
	}
	return nil
}

// VerificationResult is the outcome of verifying one lock entry
type VerificationResult struct {
	Name    string
	Address common.Address
	Success bool
	Err     error
}

// VerificationSummary collects the verification outcome of a network
type VerificationSummary struct {
	Network string
	Results []*VerificationResult
	Skipped []string // already verified
}

// SuccessCount returns the number of entries verified in this run
func (s *VerificationSummary) SuccessCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// Failures returns the failed results
func (s *VerificationSummary) Failures() []*VerificationResult {
	var out []*VerificationResult
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
