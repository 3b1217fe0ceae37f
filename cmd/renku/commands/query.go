package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/plan"
	"github.com/keremk/renku-sub006/internal/printer"
	"github.com/keremk/renku-sub006/internal/storage"
)

var (
	queryBlueprint string
	queryInputs    string
	queryExplain   bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Plan the next revision without executing it",
	Long: `Plan the next revision without executing it.

Expands the blueprint, compares the job graph against the current manifest,
and prints the layers that would run. The plan is persisted, so a following
execute picks up exactly what query showed.

Use --explain to see why each job is or is not scheduled.`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryBlueprint, "blueprint", "", "Path to the blueprint YAML")
	queryCmd.Flags().StringVar(&queryInputs, "inputs", "", "Path to the inputs YAML")
	queryCmd.Flags().BoolVar(&queryExplain, "explain", false, "Print the dirtiness reason for every job")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := resolveProject(queryBlueprint, queryInputs)
	if err != nil {
		return err
	}
	backend, cleanup, err := p.openBackend()
	if err != nil {
		return err
	}
	defer cleanup()

	res, _, err := generatePlan(ctx, backend, p, nil, -1, -1)
	if err != nil {
		return err
	}

	printPlan(res, queryExplain)
	return nil
}

// generatePlan loads the documents and runs the planner. Shared by query,
// execute, edit, and regen. The returned log is the planner's event writer;
// passing it on to the executor keeps plan-time and run-time appends ordered
// through one instance.
func generatePlan(ctx context.Context, backend storage.Backend, p *project, targets []string, reRunFrom, upToLayer int) (*plan.Result, *buildstore.Log, error) {
	doc, err := p.loadBlueprint()
	if err != nil {
		return nil, nil, err
	}
	in, err := p.loadInputs(doc)
	if err != nil {
		return nil, nil, err
	}

	planner := plan.NewPlanner(backend)
	res, err := planner.GeneratePlan(ctx, &plan.Request{
		MovieID:   p.movieID,
		Doc:       doc,
		Inputs:    in,
		Targets:   targets,
		ReRunFrom: reRunFrom,
		UpToLayer: upToLayer,
	})
	if err != nil {
		return nil, nil, printer.Error("planning failed", err.Error(), nil)
	}
	return res, planner.Log(), nil
}

// printPlan renders the layered plan, optionally with per-job reasons.
func printPlan(res *plan.Result, explain bool) {
	pl := res.Plan
	printer.Info("Plan %s for movie %q (base %s): %d job(s) in %d layer(s)\n",
		pl.Revision, pl.MovieID, pl.BaseRevision, pl.JobCount(), len(pl.Layers))

	for i, layer := range pl.Layers {
		printer.Step("layer %d\n", i)
		for _, job := range layer {
			reason := pl.Explanation[job.JobID]
			printer.Job(string(reason.Kind), job.JobID, reason.Detail)
		}
	}

	if explain {
		printer.Println()
		printer.Info("All jobs:\n")
		for _, job := range res.Graph.Jobs {
			reason := pl.Explanation[job.JobID]
			printer.Job(string(reason.Kind), job.JobID, reason.Detail)
		}
	}

	if pl.JobCount() == 0 {
		printer.Success("Everything is up to date\n")
	}
}
