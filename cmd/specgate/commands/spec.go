package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	service "github.com/HendryAvila/specgate/internal/commands"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/ledger"
	"github.com/HendryAvila/specgate/internal/printer"
	"github.com/HendryAvila/specgate/internal/server"
)

var (
	specProject        string
	specFile           string
	specIdempotencyKey string
	reviewBase         int64
	approveReviewer    string
	approveNotes       string
	decideReviewer     string
	decideRationale    string
	decideKey          string
)

var registerSpecCmd = &cobra.Command{
	Use:   "register-spec",
	Short: "Register a new specification version",
	Long: `Register specification content as a new immutable version in pending_review.

Content is read from --file, or from stdin when --file is "-".
Registering the same content twice under one --idempotency-key returns
the first version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd, specFile)
		if err != nil {
			return out(cmd).Error("Cannot read specification", err.Error())
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.RegisterSpec(ctx, service.RegisterSpecInput{
				ProjectID:      specProject,
				Content:        content,
				IdempotencyKey: specIdempotencyKey,
			}))
		})
	},
}

var reviewChangesCmd = &cobra.Command{
	Use:   "review-changes <version>",
	Short: "Produce the change review of a pending version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseVersion(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.ReviewChanges(ctx, v, governance.VersionID(reviewBase)))
		})
	},
}

var approveSpecCmd = &cobra.Command{
	Use:   "approve-spec <version>",
	Short: "Approve a reviewed version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseVersion(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.ApproveSpec(ctx, v, approveReviewer, approveNotes))
		})
	},
}

var compileSpecCmd = &cobra.Command{
	Use:   "compile-spec <version>",
	Short: "Compile an approved version into its authority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseVersion(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.CompileSpec(ctx, v))
		})
	},
}

var decideAcceptanceCmd = &cobra.Command{
	Use:   "decide-acceptance <version> <accepted|rejected>",
	Short: "Record the human decision on a compiled authority",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseVersion(cmd, args[0])
		if err != nil {
			return err
		}
		decision, err := governance.ParseDecision(args[1])
		if err != nil {
			return out(cmd).Error("Invalid decision", err.Error())
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.DecideAcceptance(ctx, ledger.DecideRequest{
				VersionID:      v,
				Decision:       decision,
				Reviewer:       decideReviewer,
				Rationale:      decideRationale,
				Policy:         governance.PolicyManual,
				IdempotencyKey: decideKey,
			}))
		})
	},
}

var checkStatusCmd = &cobra.Command{
	Use:   "check-status <project>",
	Short: "Show whether a project's authority is current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.CheckStatus(ctx, args[0]))
		})
	},
}

func init() {
	registerSpecCmd.Flags().StringVarP(&specProject, "project", "p", "", "Project id (required)")
	registerSpecCmd.Flags().StringVarP(&specFile, "file", "f", "", `Specification file, or "-" for stdin (required)`)
	registerSpecCmd.Flags().StringVar(&specIdempotencyKey, "idempotency-key", "", "Retry key")
	_ = registerSpecCmd.MarkFlagRequired("project")
	_ = registerSpecCmd.MarkFlagRequired("file")

	reviewChangesCmd.Flags().Int64Var(&reviewBase, "base", 0, "Version to diff against (default: previous approved)")

	approveSpecCmd.Flags().StringVar(&approveReviewer, "reviewer", "", "Who approves (required)")
	approveSpecCmd.Flags().StringVar(&approveNotes, "notes", "", "Approval notes")
	_ = approveSpecCmd.MarkFlagRequired("reviewer")

	decideAcceptanceCmd.Flags().StringVar(&decideReviewer, "reviewer", "", "Who decides (required)")
	decideAcceptanceCmd.Flags().StringVar(&decideRationale, "rationale", "", "Reason for the decision")
	decideAcceptanceCmd.Flags().StringVar(&decideKey, "idempotency-key", "", "Retry key")
	_ = decideAcceptanceCmd.MarkFlagRequired("reviewer")

	rootCmd.AddCommand(registerSpecCmd, reviewChangesCmd, approveSpecCmd, compileSpecCmd,
		decideAcceptanceCmd, checkStatusCmd)
}

// report adapts a Service call to the printer.
func report(p *printer.Printer) func(*service.Result, error) error {
	return func(r *service.Result, err error) error {
		if err != nil {
			return p.Error("Command failed", err.Error())
		}
		return p.Result(r)
	}
}

// parseVersion accepts "7" or "v7".
func parseVersion(cmd *cobra.Command, s string) (governance.VersionID, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "v"), 10, 64)
	if err != nil || n <= 0 {
		return 0, out(cmd).Error("Invalid version", fmt.Sprintf("%q is not a version id", s))
	}
	return governance.VersionID(n), nil
}

func readContent(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
