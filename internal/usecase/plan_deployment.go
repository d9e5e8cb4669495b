package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/domain/models"
	"github.com/trebuchet-org/bundler/internal/registry"
	"github.com/trebuchet-org/bundler/internal/resolver"
)

// PlannedUnit is a unit in resolved order with the action a run would take
type PlannedUnit struct {
	Unit     models.DeploymentUnit
	Action   models.UnitAction
	Reason   string
	Existing *models.LockEntry
}

// DeploymentPlan is the ordered set of actions for a network
type DeploymentPlan struct {
	Network  string
	LockFile string
	Units    []*PlannedUnit
}

// Pending returns the number of units that would send transactions
func (p *DeploymentPlan) Pending() int {
	return lo.CountBy(p.Units, func(u *PlannedUnit) bool { return u.Action != models.ActionSkip })
}

// PlanParams contains parameters for planning a deployment
type PlanParams struct {
	Redeploy []string // non-proxy units to deploy again even if present in the lock
}

// PlanDeployment computes what a deployment run would do without sending
// transactions
type PlanDeployment struct {
	cfg       *config.RuntimeConfig
	artifacts ArtifactSource
	locks     LockOpener
	log       *slog.Logger
}

// NewPlanDeployment creates a new PlanDeployment use case
func NewPlanDeployment(
	cfg *config.RuntimeConfig,
	artifacts ArtifactSource,
	locks LockOpener,
	log *slog.Logger,
) *PlanDeployment {
	return &PlanDeployment{
		cfg:       cfg,
		artifacts: artifacts,
		locks:     locks,
		log:       log,
	}
}

// Run builds the plan against the current lock file
func (p *PlanDeployment) Run(ctx context.Context, params PlanParams) (*DeploymentPlan, error) {
	profile, err := requireProfile(p.cfg)
	if err != nil {
		return nil, err
	}

	store, err := p.locks.Open(profile.LockFile, false)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	pl := &planner{
		project:   p.cfg.Project,
		artifacts: p.artifacts,
		store:     store,
		network:   profile.Name,
	}
	return pl.build(params)
}

func requireProfile(cfg *config.RuntimeConfig) (*config.Profile, error) {
	if cfg.Project == nil {
		return nil, fmt.Errorf("no project file loaded")
	}
	if cfg.Network == "" {
		return nil, fmt.Errorf("no network selected (use --network or BUNDLER_NETWORK)")
	}
	if cfg.Profile == nil {
		known := lo.Keys(cfg.Project.Profiles)
		msg := fmt.Sprintf("network %q has no [env] profile", cfg.Network)
		if s := registry.Suggest(cfg.Network, known); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return nil, fmt.Errorf("%s: %w", msg, domain.ErrUnknownNetwork)
	}
	return cfg.Profile, nil
}

// planner decides the action for every unit against a lock store
type planner struct {
	project   *config.ProjectConfig
	artifacts ArtifactSource
	store     LockStore
	network   string
}

func (pl *planner) build(params PlanParams) (*DeploymentPlan, error) {
	reg, err := registry.New(pl.project.Units)
	if err != nil {
		return nil, err
	}
	order, err := resolver.Plan(reg)
	if err != nil {
		return nil, err
	}

	redeploy, err := redeploySet(reg, params.Redeploy)
	if err != nil {
		return nil, err
	}

	plan := &DeploymentPlan{
		Network:  pl.network,
		LockFile: pl.store.Path(),
		Units:    make([]*PlannedUnit, 0, len(order)),
	}
	actions := make(map[string]models.UnitAction, len(order))

	for _, unit := range order {
		pu, err := pl.decide(unit, redeploy[unit.Name], actions)
		if err != nil {
			return nil, err
		}
		actions[unit.Name] = pu.Action
		plan.Units = append(plan.Units, pu)
	}

	if err := pl.preflight(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func redeploySet(reg *registry.Registry, names []string) (map[string]bool, error) {
	set := make(map[string]bool, len(names))
	var violations []error
	for _, name := range names {
		u, ok := reg.Get(name)
		if !ok {
			msg := fmt.Sprintf("cannot redeploy unknown unit %q", name)
			if s := registry.Suggest(name, reg.Names()); s != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", s)
			}
			violations = append(violations, fmt.Errorf("%s", msg))
			continue
		}
		if u.IsProxy() {
			violations = append(violations, fmt.Errorf("cannot redeploy proxy unit %q: implementation changes are upgraded automatically", name))
			continue
		}
		set[name] = true
	}
	if cerr := domain.NewConfigError(violations); cerr != nil {
		return nil, cerr
	}
	return set, nil
}

func (pl *planner) decide(unit models.DeploymentUnit, redeploy bool, actions map[string]models.UnitAction) (*PlannedUnit, error) {
	pu := &PlannedUnit{Unit: unit}

	existing, ok := pl.store.Get(pl.network, unit.Name)
	if !ok {
		pu.Action = models.ActionDeploy
		pu.Reason = "not deployed"
		return pu, nil
	}
	pu.Existing = &existing

	if redeploy {
		pu.Action = models.ActionRedeploy
		pu.Reason = "redeploy requested"
		return pu, nil
	}

	if !unit.IsProxy() {
		pu.Action = models.ActionSkip
		pu.Reason = "already deployed"
		return pu, nil
	}

	if !existing.IsProxy() {
		return nil, fmt.Errorf("unit %s is declared as a proxy but %s records a plain deployment at %s on %s",
			unit.Name, pl.store.Path(), existing.Address.Hex(), pl.network)
	}

	// Entries written without a bytecode hash cannot be compared
	if existing.BytecodeHash == (common.Hash{}) {
		pu.Action = models.ActionSkip
		pu.Reason = "already deployed (no bytecode hash recorded)"
		return pu, nil
	}

	for _, slot := range unit.LibrarySlots() {
		link := unit.LibraryLinks[slot]
		if link.IsRef() && actions[link.Ref] != models.ActionSkip {
			pu.Action = models.ActionUpgrade
			pu.Reason = fmt.Sprintf("library %s changes", link.Ref)
			return pu, nil
		}
	}

	hash, err := pl.implementationHash(unit)
	if err != nil {
		return nil, err
	}
	if hash != existing.BytecodeHash {
		pu.Action = models.ActionUpgrade
		pu.Reason = "implementation changed"
		return pu, nil
	}

	pu.Action = models.ActionSkip
	pu.Reason = "implementation unchanged"
	return pu, nil
}

// implementationHash links the declared implementation against the library
// addresses currently recorded in the lock
func (pl *planner) implementationHash(unit models.DeploymentUnit) (common.Hash, error) {
	art, err := pl.artifacts.Load(unit.ArtifactRef())
	if err != nil {
		return common.Hash{}, fmt.Errorf("unit %s: %w", unit.Name, err)
	}
	res := resolver.NewResolution(pl.network, pl.store)
	libs, err := res.ResolveLibraries(unit.Name, unit.LibraryLinks)
	if err != nil {
		return common.Hash{}, err
	}
	code, err := art.Link(libs)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unit %s: %w", unit.Name, err)
	}
	return models.BytecodeHash(code), nil
}

// preflight loads every artifact a run needs and evaluates upgrade safety so
// that configuration problems surface before the first transaction
func (pl *planner) preflight(plan *DeploymentPlan) error {
	needsProxy := make(map[models.ProxyType]bool)

	for _, pu := range plan.Units {
		if pu.Action == models.ActionSkip {
			continue
		}
		unit := pu.Unit
		art, err := pl.artifacts.Load(unit.ArtifactRef())
		if err != nil {
			return fmt.Errorf("unit %s: %w", unit.Name, err)
		}
		if missing := unlinkedLibraries(art, unit.LibraryLinks); len(missing) > 0 {
			return domain.NewConfigError([]error{
				fmt.Errorf("unit %q: artifact %s requires libraries with no link declared: %v", unit.Name, art.ID(), missing),
			})
		}
		if unit.IsProxy() {
			if pu.Existing != nil && pu.Existing.ProxyKind != unit.Proxy.Type {
				return domain.NewConfigError([]error{
					fmt.Errorf("unit %q: declared proxy type %s does not match recorded %s proxy", unit.Name, unit.Proxy.Type, pu.Existing.ProxyKind),
				})
			}
			if err := checkUpgradeSafety(unit, art); err != nil {
				return err
			}
			if pu.Action == models.ActionDeploy {
				needsProxy[unit.Proxy.Type] = true
			}
		}
	}

	for t := range needsProxy {
		name := pl.project.ProxyArtifacts.For(t)
		if _, err := pl.artifacts.Load(name); err != nil {
			return fmt.Errorf("proxy artifact %s for %s proxies: %w", name, t, err)
		}
	}
	return nil
}

// unlinkedLibraries returns the libraries the artifact references that the
// unit declares no link for
func unlinkedLibraries(art *models.Artifact, links map[string]models.Arg) []string {
	var missing []string
	for file, libs := range art.LinkReferences {
		for lib := range libs {
			if _, ok := links[file+":"+lib]; ok {
				continue
			}
			if _, ok := links[lib]; ok {
				continue
			}
			missing = append(missing, file+":"+lib)
		}
	}
	slices.Sort(missing)
	return missing
}
