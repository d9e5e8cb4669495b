package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/bundler/internal/domain/config"
)

// EnvPrefix is the prefix of every runtime environment variable
const EnvPrefix = "BUNDLER"

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	projectFile := v.GetString("config")
	projectRoot := v.GetString("project_root")

	switch {
	case projectFile != "":
		abs, err := filepath.Abs(projectFile)
		if err != nil {
			return nil, err
		}
		projectFile = abs
		if projectRoot == "" {
			projectRoot = filepath.Dir(abs)
		}
	case projectRoot != "":
		path, ok := FindProjectFile(projectRoot)
		if !ok {
			return nil, fmt.Errorf("no %s in %s", strings.Join(ProjectFileNames, " or "), projectRoot)
		}
		projectFile = path
	default:
		var err error
		projectRoot, projectFile, err = FindProjectRoot()
		if err != nil {
			return nil, fmt.Errorf("failed to find project root: %w", err)
		}
	}

	// .env values must be visible before the project file is expanded
	loadDotEnv(projectRoot)

	cfg := &config.RuntimeConfig{
		ProjectRoot:    projectRoot,
		ConfigFile:     projectFile,
		Network:        v.GetString("network"),
		Debug:          v.GetBool("debug"),
		NonInteractive: v.GetBool("non_interactive"),
		Timeout:        v.GetDuration("timeout"),
	}

	project, err := LoadProject(projectFile)
	if err != nil {
		return nil, err
	}
	cfg.Project = project

	if cfg.Network != "" {
		cfg.Profile = project.Profiles[cfg.Network]
	}
	return cfg, nil
}

// FindProjectRoot walks up from the current directory to the first
// directory holding a project file
func FindProjectRoot() (root string, file string, err error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", "", err
	}

	for {
		if path, ok := FindProjectFile(dir); ok {
			return dir, path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("not in a bundler project (%s not found)", strings.Join(ProjectFileNames, ", "))
		}
		dir = parent
	}
}

// loadDotEnv loads .env then .env.local. Variables already set in the
// environment win.
func loadDotEnv(projectRoot string) {
	for _, name := range []string{".env", ".env.local"} {
		envFile := filepath.Join(projectRoot, name)
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to load %s: %v\n", envFile, err)
		}
	}
}

// SetupViper creates and configures a viper instance
func SetupViper(projectRoot string, cmd *cobra.Command) *viper.Viper {
	v := viper.New()

	// Set up config file
	v.SetConfigName("config.local")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(projectRoot, ".bundler"))

	// Set up environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Set defaults
	v.SetDefault("timeout", "30m")
	v.SetDefault("debug", false)
	v.SetDefault("non_interactive", false)
	v.SetDefault("project_root", projectRoot)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			panic(err)
		}
	})

	return v
}
