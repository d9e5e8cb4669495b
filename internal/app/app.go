package app

import (
	"log/slog"

	"github.com/trebuchet-org/bundler/internal/adapters/interactive"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig
	Log    *slog.Logger

	// Shared dependencies
	Prompter *interactive.Prompter

	// Use cases
	DeployUnits    *usecase.DeployUnits
	PlanDeployment *usecase.PlanDeployment
	VerifyUnits    *usecase.VerifyUnits
	ShowUnit       *usecase.ShowUnit
	ListUnits      *usecase.ListUnits
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	log *slog.Logger,
	prompter *interactive.Prompter,
	deployUnits *usecase.DeployUnits,
	planDeployment *usecase.PlanDeployment,
	verifyUnits *usecase.VerifyUnits,
	showUnit *usecase.ShowUnit,
	listUnits *usecase.ListUnits,
) (*App, error) {
	return &App{
		Config:         cfg,
		Log:            log,
		Prompter:       prompter,
		DeployUnits:    deployUnits,
		PlanDeployment: planDeployment,
		VerifyUnits:    verifyUnits,
		ShowUnit:       showUnit,
		ListUnits:      listUnits,
	}, nil
}
