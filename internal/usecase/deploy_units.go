package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// DeployParams contains parameters for a deployment run
type DeployParams struct {
	Redeploy   []string // non-proxy units to deploy again
	Fresh      bool     // clear the network's lock section first; local profiles only
	SkipVerify bool
	Yes        bool // do not ask for confirmation
}

// DeployUnits deploys the registry to the selected network in dependency
// order, recording every completed unit in the lock file
type DeployUnits struct {
	cfg       *config.RuntimeConfig
	artifacts ArtifactSource
	locks     LockOpener
	chain     ChainConnector
	verify    *VerifyUnits
	confirmer Confirmer
	progress  ProgressSink
	log       *slog.Logger
	now       func() time.Time
}

// NewDeployUnits creates a new DeployUnits use case
func NewDeployUnits(
	cfg *config.RuntimeConfig,
	artifacts ArtifactSource,
	locks LockOpener,
	chain ChainConnector,
	verify *VerifyUnits,
	confirmer Confirmer,
	progress ProgressSink,
	log *slog.Logger,
) *DeployUnits {
	return &DeployUnits{
		cfg:       cfg,
		artifacts: artifacts,
		locks:     locks,
		chain:     chain,
		verify:    verify,
		confirmer: confirmer,
		progress:  progress,
		log:       log,
		now:       time.Now,
	}
}

// Run executes a deployment. The report is returned even when the run fails;
// the error is the first fatal error. Verification failures never change it.
func (d *DeployUnits) Run(ctx context.Context, params DeployParams) (*models.DeployReport, error) {
	profile, err := requireProfile(d.cfg)
	if err != nil {
		return nil, err
	}

	report := &models.DeployReport{
		RunID:    uuid.NewString(),
		Network:  profile.Name,
		LockFile: profile.LockFile,
	}
	log := d.log.With("run", report.RunID, "network", profile.Name)

	if params.Fresh && !profile.Local {
		return report, fmt.Errorf("--fresh is only allowed for local profiles; %s is not marked local", profile.Name)
	}

	// The whole run is one logical transaction over the lock file
	store, err := d.locks.Open(profile.LockFile, true)
	if err != nil {
		return report, err
	}
	defer store.Close()

	if params.Fresh {
		if err := store.ResetNetwork(profile.Name); err != nil {
			return report, err
		}
		log.Info("cleared lock entries", "lock", profile.LockFile)
	}

	pl := &planner{
		project:   d.cfg.Project,
		artifacts: d.artifacts,
		store:     store,
		network:   profile.Name,
	}
	plan, err := pl.build(PlanParams{Redeploy: params.Redeploy})
	if err != nil {
		return report, err
	}

	for _, pu := range plan.Units {
		result := &models.UnitResult{
			Name:   pu.Unit.Name,
			Kind:   pu.Unit.Kind,
			Action: pu.Action,
			Status: models.StatusPending,
		}
		if pu.Action == models.ActionSkip {
			result.Status = models.StatusSkipped
			result.Address = pu.Existing.Address
			result.Implementation = pu.Existing.ImplementationAddress
		}
		report.Units = append(report.Units, result)
	}

	var runErr error
	if pending := plan.Pending(); pending > 0 {
		if err := d.confirm(profile, pending, params); err != nil {
			return report, err
		}

		client, err := d.chain.Connect(ctx, profile)
		if err != nil {
			return report, err
		}
		defer client.Close()

		log.Info("starting deployment", "units", len(plan.Units), "pending", pending, "sender", client.Sender().Hex())
		exec := &executor{
			client:    client,
			store:     store,
			artifacts: d.artifacts,
			proxies:   d.cfg.Project.ProxyArtifacts,
			network:   profile.Name,
			retry:     profile.Retry,
			progress:  d.progress,
			log:       log,
			now:       d.now,
		}
		runErr = exec.run(ctx, plan, report)
	} else {
		log.Info("nothing to deploy", "units", len(plan.Units))
	}

	if runErr == nil && profile.Verify && !params.SkipVerify && d.verify != nil {
		summary, err := d.verify.verifyStore(ctx, store, profile, VerifyParams{}, log)
		if err != nil {
			log.Warn("verification did not run", "error", err)
		}
		report.Verification = summary
	}

	return report, runErr
}

func (d *DeployUnits) confirm(profile *config.Profile, pending int, params DeployParams) error {
	if profile.Local || params.Yes || d.cfg.NonInteractive || d.confirmer == nil {
		return nil
	}
	ok, err := d.confirmer.Confirm(fmt.Sprintf("Send transactions for %d unit(s) to %s", pending, profile.Name))
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAborted
	}
	return nil
}
