//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/bundler/internal/adapters"
	"github.com/trebuchet-org/bundler/internal/config"
	"github.com/trebuchet-org/bundler/internal/logging"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// InitApp creates a fully wired App instance
func InitApp(v *viper.Viper, sink usecase.ProgressSink) (*App, error) {
	wire.Build(
		config.Provider,
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.NewPlanDeployment,
		usecase.NewVerifyUnits,
		usecase.NewDeployUnits,
		usecase.NewShowUnit,
		usecase.NewListUnits,

		// App
		NewApp,
	)
	return nil, nil
}
