// Package printer renders command results on the terminal.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/HendryAvila/specgate/internal/commands"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes results to out and refusals to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
}

// New creates a Printer. With jsonMode, results are printed as JSON on
// out regardless of outcome.
func New(out, errOut io.Writer, jsonMode bool) *Printer {
	return &Printer{out: out, errOut: errOut, json: jsonMode}
}

// Stdout prints to the process streams.
func Stdout(jsonMode bool) *Printer {
	return New(os.Stdout, os.Stderr, jsonMode)
}

// Result prints r. A failed result returns an error carrying its kind so
// the CLI exits non-zero; the details are already printed.
func (p *Printer) Result(r *commands.Result) error {
	if p.json {
		enc := json.NewEncoder(p.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return p.failure(r)
	}

	if !r.Success {
		red.Fprintf(p.errOut, "✗ %s refused (%s)\n\n", r.Command, r.ErrorKind)
		for _, reason := range strings.Split(r.Reason, "; ") {
			fmt.Fprintf(p.errOut, "  %s\n", reason)
		}
		if len(r.CreatedIDs) > 0 {
			fmt.Fprintf(p.errOut, "\nrecorded: %s\n", strings.Join(r.CreatedIDs, ", "))
		}
		return p.failure(r)
	}

	green.Fprintf(p.out, "✓ %s\n", r.Command)
	if len(r.CreatedIDs) > 0 {
		cyan.Fprintf(p.out, "→ created: %s\n", strings.Join(r.CreatedIDs, ", "))
	}
	if r.Data != nil {
		data, err := json.MarshalIndent(r.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result data: %w", err)
		}
		fmt.Fprintf(p.out, "%s\n", data)
	}
	return nil
}

func (p *Printer) failure(r *commands.Result) error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Command, r.ErrorKind)
}

// Warning prints a warning in yellow on errOut.
func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.errOut, "⚠️  %s\n", fmt.Sprintf(format, a...))
}

// Error prints a titled error with an explanation and returns an error
// holding only the title, for cobra.
func (p *Printer) Error(title, explanation string) error {
	red.Fprintf(p.errOut, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", explanation)
	}
	return fmt.Errorf("%s", title)
}
