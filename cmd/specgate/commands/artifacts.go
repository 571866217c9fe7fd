package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/specgate/internal/gate"
	"github.com/HendryAvila/specgate/internal/governance"
	"github.com/HendryAvila/specgate/internal/printer"
	"github.com/HendryAvila/specgate/internal/server"
)

var (
	artifactProject    string
	artifactFile       string
	artifactVersion    int64
	artifactAttemptKey string
	migrateAttemptKey  string
	impactRecord       bool
)

// artifactFileSpec is the on-disk artifact format read by validate-artifact.
type artifactFileSpec struct {
	ID                 string            `yaml:"id"`
	Kind               string            `yaml:"kind"`
	Title              string            `yaml:"title"`
	Body               string            `yaml:"body"`
	Fields             map[string]string `yaml:"fields"`
	AcceptanceCriteria []string          `yaml:"acceptance_criteria"`
	Topics             []string          `yaml:"topics"`
}

var validateArtifactCmd = &cobra.Command{
	Use:   "validate-artifact",
	Short: "Validate an artifact file against an accepted version",
	Long: `Validate an artifact against the authority of an explicitly named,
accepted version. Evidence is recorded whether the artifact passes or not.

The artifact file is YAML (or JSON):

  kind: story
  title: Sign in with email
  acceptance_criteria:
    - Given a registered user, when they sign in, then a session is created
  topics: [auth]`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := readArtifact(artifactFile)
		if err != nil {
			return out(cmd).Error("Cannot read artifact", err.Error())
		}
		a.ProjectID = artifactProject
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.ValidateArtifact(ctx, gate.Request{
				Artifact:   *a,
				ProjectID:  artifactProject,
				VersionID:  governance.VersionID(artifactVersion),
				AttemptKey: artifactAttemptKey,
			}))
		})
	},
}

var migrateArtifactCmd = &cobra.Command{
	Use:   "migrate-artifact-to-version <artifact> <version>",
	Short: "Re-validate an artifact under a newer accepted version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseVersion(cmd, args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.MigrateArtifactToVersion(ctx, args[0], v, migrateAttemptKey))
		})
	},
}

var analyzeImpactCmd = &cobra.Command{
	Use:   "analyze-impact <from> <to>",
	Short: "Compare two compiled versions and flag affected artifacts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseVersion(cmd, args[0])
		if err != nil {
			return err
		}
		to, err := parseVersion(cmd, args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, app *server.App, p *printer.Printer) error {
			return report(p)(app.Service.AnalyzeImpact(ctx, from, to, impactRecord))
		})
	},
}

func init() {
	validateArtifactCmd.Flags().StringVarP(&artifactProject, "project", "p", "", "Project id (required)")
	validateArtifactCmd.Flags().StringVarP(&artifactFile, "file", "f", "", "Artifact YAML or JSON file (required)")
	validateArtifactCmd.Flags().Int64Var(&artifactVersion, "spec-version", 0, "Accepted version to validate against (required)")
	validateArtifactCmd.Flags().StringVar(&artifactAttemptKey, "attempt-key", "", "Retry key for this attempt")
	_ = validateArtifactCmd.MarkFlagRequired("project")
	_ = validateArtifactCmd.MarkFlagRequired("file")
	_ = validateArtifactCmd.MarkFlagRequired("spec-version")

	migrateArtifactCmd.Flags().StringVar(&migrateAttemptKey, "attempt-key", "", "Retry key for this attempt")

	analyzeImpactCmd.Flags().BoolVar(&impactRecord, "record", false, "Persist the report")

	rootCmd.AddCommand(validateArtifactCmd, migrateArtifactCmd, analyzeImpactCmd)
}

func readArtifact(path string) (*governance.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec artifactFileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	kind := governance.ArtifactKind(spec.Kind)
	if !governance.ValidArtifactKind(kind) {
		return nil, fmt.Errorf("%s: unknown artifact kind %q", path, spec.Kind)
	}
	return &governance.Artifact{
		ID:                 spec.ID,
		Kind:               kind,
		Title:              spec.Title,
		Body:               spec.Body,
		Fields:             spec.Fields,
		AcceptanceCriteria: spec.AcceptanceCriteria,
		Topics:             spec.Topics,
	}, nil
}
