package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/executor"
	"github.com/keremk/renku-sub006/internal/plan"
	"github.com/keremk/renku-sub006/internal/printer"
	"github.com/keremk/renku-sub006/internal/producer"
	"github.com/keremk/renku-sub006/internal/storage"
)

var (
	executeBlueprint   string
	executeInputs      string
	executeConcurrency int
	executeMode        string
	executeUpToLayer   int
	executeFromLayer   int
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Plan and run the next revision",
	Long: `Plan and run the next revision.

Plans against the current manifest and executes the dirty jobs layer by
layer. Jobs within a layer run in parallel up to --concurrency. A failure
marks everything downstream as skipped; already-completed work is still
promoted into the new manifest.

Layer bounds:
  --up-to-layer  - run only jobs at or below this full-graph layer
  --from-layer   - force every job at or above this full-graph layer

Producer modes:
  mock       - deterministic in-process producer (default)
  simulated  - provider adapters in dry-run mode

Ctrl-C cancels cleanly: in-flight jobs finish, nothing new is dispatched,
and a manifest covering the completed work is still promoted.`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeBlueprint, "blueprint", "", "Path to the blueprint YAML")
	executeCmd.Flags().StringVar(&executeInputs, "inputs", "", "Path to the inputs YAML")
	executeCmd.Flags().IntVar(&executeConcurrency, "concurrency", 0, "Parallel jobs per layer (default from renku.yml, else 1)")
	executeCmd.Flags().StringVar(&executeMode, "mode", "", "Producer mode: mock or simulated")
	executeCmd.Flags().IntVar(&executeUpToLayer, "up-to-layer", -1, "Run only jobs at or below this layer")
	executeCmd.Flags().IntVar(&executeFromLayer, "from-layer", -1, "Force every job at or above this layer")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := resolveProject(executeBlueprint, executeInputs)
	if err != nil {
		return err
	}
	backend, cleanup, err := p.openBackend()
	if err != nil {
		return err
	}
	defer cleanup()

	res, eventLog, err := generatePlan(ctx, backend, p, nil, executeFromLayer, executeUpToLayer)
	if err != nil {
		return err
	}
	printPlan(res, false)
	if res.Plan.JobCount() == 0 {
		return nil
	}
	return executePlanned(ctx, backend, eventLog, p, res)
}

// executePlanned runs an already-generated plan with the planner's event log.
// Shared by execute and regen.
func executePlanned(ctx context.Context, backend storage.Backend, eventLog *buildstore.Log, p *project, res *plan.Result) error {
	mode, err := resolveMode(p)
	if err != nil {
		return err
	}
	concurrency := executeConcurrency
	if concurrency < 1 && p.cfg != nil {
		concurrency = p.cfg.Concurrency()
	}

	exec := executor.New(executor.Config{
		Backend:     backend,
		Log:         eventLog,
		Produce:     producer.NewMock().Produce,
		Mode:        mode,
		Concurrency: concurrency,
	})
	summary, err := exec.Execute(ctx, res)
	if err != nil {
		return printer.Error("execution failed", err.Error(), nil)
	}

	return printSummary(res, summary)
}

// resolveMode maps the --mode flag (or config default) onto a producer mode.
// Live mode needs provider credentials and is rejected until adapters are
// configured.
func resolveMode(p *project) (producer.Mode, error) {
	mode := executeMode
	if mode == "" && p.cfg != nil {
		mode = p.cfg.Mode()
	}
	switch mode {
	case "", "mock":
		return producer.ModeMock, nil
	case "simulated":
		return producer.ModeSimulated, nil
	case "live":
		return "", printer.Error(
			"live mode is not configured",
			"No provider adapters are registered in this build.",
			[]string{"Run with --mode=mock or --mode=simulated"},
		)
	default:
		return "", printer.Error(
			"invalid producer mode",
			"Unknown mode: "+mode,
			[]string{"Valid modes: mock, simulated"},
		)
	}
}

// printSummary renders the run's outcomes and returns a non-nil error when
// any job did not succeed, so the process exits non-zero.
func printSummary(res *plan.Result, summary *executor.Summary) error {
	printer.Println()
	for _, layer := range res.Plan.Layers {
		for _, job := range layer {
			outcome := summary.Outcomes[job.JobID]
			if outcome == nil {
				continue
			}
			detail := outcome.Reason
			if outcome.Diagnostics != nil {
				detail = outcome.Diagnostics.Message
			}
			printer.Job(string(outcome.Status), job.JobID, detail)
		}
	}

	failed, skipped, cancelled := summary.Failed(), summary.Skipped(), summary.Cancelled()
	if len(cancelled) > 0 {
		printer.Warning("Cancelled: %d job(s) did not start; completed work was promoted as %s\n",
			len(cancelled), summary.Revision)
		return printer.Error("execution cancelled", "", nil)
	}
	if len(failed) > 0 {
		printer.Warning("%d job(s) failed, %d skipped\n", len(failed), len(skipped))
		return printer.ErrorWithContext(
			"execution finished with failures",
			"Completed work was promoted; re-running with the same inputs retries only the failed jobs.",
			map[string]string{"Revision": summary.Revision},
			nil,
		)
	}

	printer.Success("Revision %s complete: %d artefact(s) in the manifest\n",
		summary.Revision, len(summary.Manifest.Artefacts))
	return nil
}
