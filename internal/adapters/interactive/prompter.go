// Package interactive asks the operator questions on the terminal.
package interactive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/sahilm/fuzzy"
	"github.com/trebuchet-org/bundler/internal/domain/config"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// Prompter handles confirmations and selections
type Prompter struct {
	config *config.RuntimeConfig
}

// NewPrompter creates a new prompter
func NewPrompter(cfg *config.RuntimeConfig) *Prompter {
	return &Prompter{config: cfg}
}

// Confirm asks a yes/no question. Non-interactive runs never confirm.
func (p *Prompter) Confirm(message string) (bool, error) {
	if p.config.NonInteractive {
		return false, fmt.Errorf("confirmation required in non-interactive mode (pass --yes)")
	}

	prompt := promptui.Prompt{
		Label:     message,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, nil
	}
	return false, fmt.Errorf("confirmation failed: %w", err)
}

// SelectNetwork lets the operator pick one of the configured networks
func (p *Prompter) SelectNetwork(networks []string) (string, error) {
	if p.config.NonInteractive {
		return "", fmt.Errorf("no network selected (use --network)")
	}
	if len(networks) == 0 {
		return "", fmt.Errorf("no networks configured")
	}
	if len(networks) == 1 {
		return networks[0], nil
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ . | cyan }}",
		Inactive: "  {{ . | faint }}",
		Selected: "✓ {{ . | green }}",
		Help:     color.New(color.FgYellow).Sprint("Use arrow keys to navigate, Enter to select"),
	}

	promptSelect := promptui.Select{
		Label:     "Select network",
		Items:     networks,
		Templates: templates,
		Size:      10,
		Searcher:  fuzzySearcher(networks),
	}

	index, _, err := promptSelect.Run()
	if err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	return networks[index], nil
}

// fuzzySearcher creates a fuzzy search function for promptui
func fuzzySearcher(items []string) func(input string, index int) bool {
	return func(input string, index int) bool {
		if input == "" {
			return true
		}
		input = strings.ToLower(input)
		item := strings.ToLower(items[index])
		if strings.Contains(item, input) {
			return true
		}
		return len(fuzzy.Find(input, []string{item})) > 0
	}
}

var _ usecase.Confirmer = (*Prompter)(nil)
