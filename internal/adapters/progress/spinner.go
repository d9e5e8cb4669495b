// Package progress renders deployment and verification progress on a
// terminal.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/trebuchet-org/bundler/internal/usecase"
)

// SpinnerSink shows a spinner while units are deployed or verified. Events
// may arrive from several verification workers at once.
type SpinnerSink struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	spinner     *spinner.Spinner
	stage       string
	startTime   time.Time
	now         func() time.Time
}

// NewSpinnerSink creates a progress sink writing to out. Without a terminal
// the messages are printed as plain lines.
func NewSpinnerSink(out io.Writer, interactive bool) *SpinnerSink {
	return &SpinnerSink{
		out:         out,
		interactive: interactive,
		now:         time.Now,
	}
}

// OnProgress handles progress events
func (s *SpinnerSink) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Stage != "completed" && event.Stage != s.stage {
		s.stage = event.Stage
		s.startTime = s.now()
	}

	if event.Stage == "completed" {
		s.stopSpinner()
		if event.Total > 0 {
			color.New(color.FgGreen).Fprintf(s.out, "✅ %s %d unit(s) in %s\n",
				completedVerb(s.stage), event.Total, s.now().Sub(s.startTime).Round(time.Millisecond))
		}
		s.stage = ""
		return
	}

	if !s.interactive {
		if event.Message != "" {
			fmt.Fprintln(s.out, event.Message)
		}
		return
	}

	if !event.Spinner {
		s.stopSpinner()
		return
	}
	if s.spinner == nil {
		s.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.spinner.Writer = s.out
		s.spinner.HideCursor = false
		_ = s.spinner.Color("cyan", "bold")
	}
	s.spinner.Suffix = " " + event.Message
	if !s.spinner.Active() {
		s.spinner.Start()
	}
}

// Info prints an info message
func (s *SpinnerSink) Info(message string) {
	s.print(color.New(color.FgCyan), "ℹ️  "+message)
}

// Error prints an error message
func (s *SpinnerSink) Error(message string) {
	s.print(color.New(color.FgRed), "❌ "+message)
}

func (s *SpinnerSink) print(c *color.Color, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop spinner temporarily
	wasActive := s.spinner != nil && s.spinner.Active()
	if wasActive {
		s.spinner.Stop()
	}

	c.Fprintln(s.out, line)

	if wasActive {
		s.spinner.Start()
	}
}

func (s *SpinnerSink) stopSpinner() {
	if s.spinner != nil && s.spinner.Active() {
		s.spinner.Stop()
	}
}

func completedVerb(stage string) string {
	if stage == "verifying" {
		return "Verified"
	}
	return "Processed"
}

var _ usecase.ProgressSink = (*SpinnerSink)(nil)
