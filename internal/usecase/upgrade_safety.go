package usecase

import (
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// uupsUpgradeFunction is the entry point upgrades call on a UUPS proxy; every
// implementation must expose it to remain upgradeable
const uupsUpgradeFunction = "upgradeToAndCall"

// checkUpgradeSafety evaluates the default upgrade-safety checks for a proxied
// unit's implementation and fails when a violated check was not waived
func checkUpgradeSafety(unit models.DeploymentUnit, impl *models.Artifact) error {
	if !unit.IsProxy() || unit.Proxy == nil {
		return nil
	}
	allow := unit.Proxy.UnsafeAllow

	var violations []string
	flag := func(f models.UnsafeAllowFlag) {
		if !allow.Has(f) {
			violations = append(violations, string(f))
		}
	}

	if impl.HasConstructor() {
		flag(models.AllowConstructor)
	}
	if impl.RequiresLinking() || len(unit.LibraryLinks) > 0 {
		flag(models.AllowExternalLibraryLinking)
	}
	if unit.Proxy.Type == models.ProxyTypeUUPS && !impl.HasFunction(uupsUpgradeFunction) {
		flag(models.AllowMissingPublicUpgradeTo)
	}
	if unit.Initializer != "" && !impl.HasFunction(unit.Initializer) {
		flag(models.AllowMissingInitializer)
	}

	if len(violations) > 0 {
		return &domain.UnsafeUpgradeError{Unit: unit.Name, Violations: violations}
	}
	return nil
}
