package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/keremk/renku-sub006/pkg/ids"

	"github.com/keremk/renku-sub006/internal/printer"
)

var (
	regenBlueprint string
	regenInputs    string
	regenTargets   []string
	regenPlanOnly  bool
)

var regenCmd = &cobra.Command{
	Use:   "regen",
	Short: "Force regeneration of specific artifacts",
	Long: `Force regeneration of specific artifacts.

Each --target names a canonical artifact id whose producing job is forced
dirty; everything downstream re-runs through normal propagation. Targets must
exist in the current manifest.

Examples:
  # Redo one generated image and every cut built from it
  renku regen --target "Artifact:ImageProducer.GeneratedImage[2]"

  # Redo several artifacts in one revision
  renku regen --target "Artifact:MusicProducer.Music" --target "Artifact:SpeechProducer.Speech[0]"`,
	RunE: runRegen,
}

func init() {
	regenCmd.Flags().StringVar(&regenBlueprint, "blueprint", "", "Path to the blueprint YAML")
	regenCmd.Flags().StringVar(&regenInputs, "inputs", "", "Path to the inputs YAML")
	regenCmd.Flags().StringArrayVar(&regenTargets, "target", nil, "Canonical artifact id to regenerate (repeatable)")
	regenCmd.Flags().BoolVar(&regenPlanOnly, "plan-only", false, "Plan without executing")
	rootCmd.AddCommand(regenCmd)
}

func runRegen(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(regenTargets) == 0 {
		return printer.Error(
			"no targets",
			"regen needs at least one artifact to regenerate.",
			[]string{`Pass --target "Artifact:Producer.Name[i]"`},
		)
	}
	for _, target := range regenTargets {
		if !ids.IsCanonicalArtifactID(target) {
			return printer.Error(
				"invalid target",
				target+" is not a canonical artifact id.",
				[]string{`Targets look like "Artifact:ImageProducer.GeneratedImage[2]"`},
			)
		}
	}

	p, err := resolveProject(regenBlueprint, regenInputs)
	if err != nil {
		return err
	}
	backend, cleanup, err := p.openBackend()
	if err != nil {
		return err
	}
	defer cleanup()

	res, eventLog, err := generatePlan(ctx, backend, p, regenTargets, -1, -1)
	if err != nil {
		return err
	}
	printPlan(res, false)

	if regenPlanOnly || res.Plan.JobCount() == 0 {
		return nil
	}
	printer.Step("executing\n")
	return executePlanned(ctx, backend, eventLog, p, res)
}
