// Package progress reports the progress of a model run on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter is the interface for reporting run progress. Model runs have no
// known total, so progress is counted in log lines.
type Reporter interface {
	Start(description string)
	Line(line string)
	Finish(status string)
}

// New returns a spinner when w is a terminal and a no-op reporter
// otherwise.
func New(w io.Writer) Reporter {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return NewCLIProgress(w)
	}
	return NewNoOpProgress()
}

// CLIProgress implements progress reporting for CLI mode using an
// indeterminate progress bar.
type CLIProgress struct {
	w           io.Writer
	bar         *progressbar.ProgressBar
	description string
}

// NewCLIProgress creates a new CLI progress reporter writing to w.
func NewCLIProgress(w io.Writer) *CLIProgress {
	return &CLIProgress{w: w}
}

// Start shows the spinner with description.
func (p *CLIProgress) Start(description string) {
	p.description = description
	p.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Line advances the spinner and shows the latest log line.
func (p *CLIProgress) Line(line string) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(p.description + " " + shorten(line, 60))
	_ = p.bar.Add(1)
}

// Finish stops the spinner and shows the final status.
func (p *CLIProgress) Finish(status string) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(p.description + " " + status)
	_ = p.bar.Finish()
}

// NoOpProgress is a progress reporter that does nothing (for non-terminal output).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(description string) {}

// Line does nothing.
func (p *NoOpProgress) Line(line string) {}

// Finish does nothing.
func (p *NoOpProgress) Finish(status string) {}

func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
