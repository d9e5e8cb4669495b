package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/registry"
	"golang.org/x/sync/errgroup"
)

const defaultVerifyConcurrency = 4

// VerifyParams contains parameters for a verification run
type VerifyParams struct {
	Units []string // restrict to these units; all entries when empty
	Force bool     // resubmit entries already marked verified
}

// VerifyUnits submits unverified lock entries of a network to the configured
// verifiers and records which ones succeeded
type VerifyUnits struct {
	cfg       *config.RuntimeConfig
	artifacts ArtifactSource
	locks     LockOpener
	verifiers VerifierFactory
	progress  ProgressSink
	log       *slog.Logger
	now       func() time.Time
}

// NewVerifyUnits creates a new VerifyUnits use case
func NewVerifyUnits(
	cfg *config.RuntimeConfig,
	artifacts ArtifactSource,
	locks LockOpener,
	verifiers VerifierFactory,
	progress ProgressSink,
	log *slog.Logger,
) *VerifyUnits {
	return &VerifyUnits{
		cfg:       cfg,
		artifacts: artifacts,
		locks:     locks,
		verifiers: verifiers,
		progress:  progress,
		log:       log,
		now:       time.Now,
	}
}

// Run verifies the selected network. The error is a
// *domain.VerificationFailedError when any submission failed.
func (v *VerifyUnits) Run(ctx context.Context, params VerifyParams) (*models.VerificationSummary, error) {
	profile, err := requireProfile(v.cfg)
	if err != nil {
		return nil, err
	}

	// Verification must not run while a deployment holds the lock
	store, err := v.locks.Open(profile.LockFile, true)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	summary, err := v.verifyStore(ctx, store, profile, params, v.log.With("network", profile.Name))
	if err != nil {
		return summary, err
	}

	errs := lo.Map(summary.Failures(), func(r *models.VerificationResult, _ int) error { return r.Err })
	if ferr := domain.NewVerificationFailedError(errs); ferr != nil {
		return summary, ferr
	}
	return summary, nil
}

// verifyStore runs verification against an already opened lock store. Per
// unit failures are recorded in the summary, never returned.
func (v *VerifyUnits) verifyStore(
	ctx context.Context,
	store LockStore,
	profile *config.Profile,
	params VerifyParams,
	log *slog.Logger,
) (*models.VerificationSummary, error) {
	summary := &models.VerificationSummary{Network: profile.Name}

	entries, err := selectEntries(store.Entries(profile.Name), params.Units)
	if err != nil {
		return summary, err
	}

	var todo []models.LockEntry
	for _, e := range entries {
		if e.Verified && !params.Force {
			summary.Skipped = append(summary.Skipped, e.Name)
			continue
		}
		todo = append(todo, e)
	}
	if len(todo) == 0 {
		return summary, nil
	}

	verifier, err := v.verifiers.ForProfile(profile)
	if err != nil {
		return summary, err
	}

	limit := profile.VerifyConcurrency
	if limit <= 0 {
		limit = defaultVerifyConcurrency
	}

	v.progress.OnProgress(ctx, ProgressEvent{
		Stage:   "verifying",
		Total:   len(todo),
		Message: fmt.Sprintf("Verifying %d unit(s) on %s", len(todo), profile.Name),
		Spinner: true,
	})

	results := make([]*models.VerificationResult, len(todo))
	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(limit)
	for i, entry := range todo {
		g.Go(func() error {
			result := v.verifyOne(ctx, verifier, store, profile, entry, log)
			results[i] = result

			mu.Lock()
			done++
			current := done
			mu.Unlock()

			v.progress.OnProgress(ctx, ProgressEvent{
				Stage:   "verifying",
				Current: current,
				Total:   len(todo),
				Unit:    entry.Name,
				Message: fmt.Sprintf("[%d/%d] %s", current, len(todo), entry.Name),
				Spinner: true,
			})
			if result.Success {
				v.progress.Info(fmt.Sprintf("%s verified", entry.Name))
			} else {
				v.progress.Error(fmt.Sprintf("%s: %v", entry.Name, result.Err))
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Results = results
	v.progress.OnProgress(ctx, ProgressEvent{Stage: "completed", Current: len(todo), Total: len(todo)})
	log.Info("verification finished", "verified", summary.SuccessCount(), "failed", len(summary.Failures()), "skipped", len(summary.Skipped))
	return summary, nil
}

func selectEntries(entries []models.LockEntry, names []string) ([]models.LockEntry, error) {
	if len(names) == 0 {
		return entries, nil
	}
	byName := lo.KeyBy(entries, func(e models.LockEntry) string { return e.Name })
	out := make([]models.LockEntry, 0, len(names))
	for _, name := range names {
		e, ok := byName[name]
		if !ok {
			return nil, notInLock(name, lo.Keys(byName))
		}
		out = append(out, e)
	}
	return out, nil
}

func notInLock(name string, known []string) error {
	msg := fmt.Sprintf("unit %q has no lock entry", name)
	if s := registry.Suggest(name, known); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
}

func (v *VerifyUnits) verifyOne(
	ctx context.Context,
	verifier Verifier,
	store LockStore,
	profile *config.Profile,
	entry models.LockEntry,
	log *slog.Logger,
) *models.VerificationResult {
	target := entry.VerificationTarget()
	result := &models.VerificationResult{Name: entry.Name, Address: target}
	log = log.With("unit", entry.Name, "address", target.Hex())

	fail := func(err error) *models.VerificationResult {
		result.Err = &domain.VerificationError{Unit: entry.Name, Err: err}
		log.Warn("verification failed", "error", err)
		return result
	}

	req, err := v.request(profile, entry)
	if err != nil {
		return fail(err)
	}
	if err := verifier.Verify(ctx, *req); err != nil {
		result.Err = err
		var verr *domain.VerificationError
		if !errors.As(err, &verr) {
			result.Err = &domain.VerificationError{Unit: entry.Name, Err: err}
		}
		log.Warn("verification failed", "error", err)
		return result
	}

	// Only the verified flag changes; re-read so a concurrent upgrade of the
	// same entry is never overwritten
	latest, ok := store.Get(profile.Name, entry.Name)
	if !ok || latest.VerificationTarget() != target {
		return fail(fmt.Errorf("lock entry changed during verification"))
	}
	now := v.now().UTC()
	latest.Verified = true
	latest.VerifiedAt = &now
	if err := store.Put(profile.Name, entry.Name, latest); err != nil {
		return fail(fmt.Errorf("verified but the lock entry could not be written: %w", err))
	}

	result.Success = true
	log.Info("verified")
	return result
}

func (v *VerifyUnits) request(profile *config.Profile, entry models.LockEntry) (*VerifyRequest, error) {
	ref := entry.SourceRef
	if ref == "" {
		ref = entry.Name
		if v.cfg.Project != nil {
			if u, ok := lo.Find(v.cfg.Project.Units, func(u models.DeploymentUnit) bool { return u.Name == entry.Name }); ok {
				ref = u.ArtifactRef()
			}
		}
	}
	art, err := v.artifacts.Load(ref)
	if err != nil {
		return nil, err
	}

	var args []byte
	if entry.ConstructorArgs != "" {
		args, err = hexutil.Decode(entry.ConstructorArgs)
		if err != nil {
			return nil, fmt.Errorf("invalid constructor args in lock entry: %w", err)
		}
	}

	libs := make(map[string]common.Address)
	for file, refs := range art.LinkReferences {
		for lib := range refs {
			addr, ok := entry.Libraries[file+":"+lib]
			if !ok {
				addr, ok = entry.Libraries[lib]
			}
			if !ok {
				return nil, fmt.Errorf("lock entry does not record an address for library %s", lib)
			}
			libs[file+":"+lib] = common.HexToAddress(addr)
		}
	}

	return &VerifyRequest{
		Network:         profile.Name,
		ChainID:         profile.ChainID,
		Unit:            entry.Name,
		Address:         entry.VerificationTarget(),
		SourceRef:       art.ID(),
		Artifact:        art,
		ConstructorArgs: args,
		Libraries:       libs,
	}, nil
}
