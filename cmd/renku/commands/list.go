package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/filter"
	"github.com/keremk/renku-sub006/internal/printer"
	"github.com/keremk/renku-sub006/internal/storage"
	"github.com/keremk/renku-sub006/internal/timespec"
)

var (
	listOutputFormat string
	listSince        string
	listUntil        string
	listID           string
	listProducer     string
	listRevision     string
	listStatus       string
	listEvents       bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current manifest or the artefact event log",
	Long: `List the current manifest or the artefact event log.

By default prints the current manifest: every materialized artefact with its
blob hash and producing job. With --events, prints the artefact event history
instead, newest last.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one entry per line

Time Filters (events mode):
  --since  - Show events created after this time
  --until  - Show events created before this time

Content Filters (events mode):
  --id       - Filter by artefact id (glob pattern: "Artifact:Image*")
  --producer - Filter by producer name (exact match: "ImageProducer")
  --revision - Filter by revision (exact match: "rev-0003")
  --status   - Filter by status: succeeded or failed

Examples:
  # Current manifest
  renku list

  # Event history of the last two hours as JSONL for piping to jq
  renku list --events --since=2h --output=jsonl | jq .artefactId

  # Every failure of one producer
  renku list --events --producer=VideoProducer --status=failed`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	listCmd.Flags().BoolVar(&listEvents, "events", false, "List the event log instead of the manifest")
	listCmd.Flags().StringVar(&listSince, "since", "", "Show events after time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "Show events before time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listID, "id", "", "Filter by artefact id (glob pattern)")
	listCmd.Flags().StringVar(&listProducer, "producer", "", "Filter by producer name (exact match)")
	listCmd.Flags().StringVar(&listRevision, "revision", "", "Filter by revision (exact match)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: succeeded or failed")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if listOutputFormat != "default" && listOutputFormat != "jsonl" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", listOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	if listStatus != "" && listStatus != "succeeded" && listStatus != "failed" {
		return printer.Error(
			"invalid status filter",
			fmt.Sprintf("Unknown status: %s", listStatus),
			[]string{"Valid statuses: succeeded, failed"},
		)
	}

	p, err := resolveProject("", "")
	if err != nil {
		return err
	}
	backend, cleanup, err := p.openBackend()
	if err != nil {
		return err
	}
	defer cleanup()

	if listEvents {
		return listEventLog(ctx, backend, p.movieID)
	}
	return listManifest(ctx, backend, p.movieID)
}

func listEventLog(ctx context.Context, backend storage.Backend, movieID string) error {
	since, until, err := timespec.ParseRange(listSince, listUntil)
	if err != nil {
		return printer.Error("invalid time filter", err.Error(), nil)
	}
	criteria := &filter.Criteria{
		Since:    since,
		Until:    until,
		IDGlob:   listID,
		Producer: listProducer,
		Revision: listRevision,
		Status:   listStatus,
	}

	events, err := buildstore.NewLog(backend).CollectArtefacts(ctx, movieID)
	if err != nil {
		return printer.Error("cannot read event log", err.Error(), nil)
	}

	shown := 0
	for _, event := range events {
		if !criteria.Matches(event) {
			continue
		}
		shown++
		if listOutputFormat == "jsonl" {
			line, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			printer.Println(string(line))
			continue
		}
		detail := event.Revision
		if event.Output.Blob != nil {
			detail += " " + shortHash(event.Output.Blob.Hash)
		}
		printer.Job(string(event.Status), event.ArtefactID, detail)
	}

	if listOutputFormat == "default" {
		printer.Info("%d event(s)", shown)
		if criteria.HasFilters() {
			printer.Info(" (filtered from %d)", len(events))
		}
		printer.Println()
	}
	return nil
}

func listManifest(ctx context.Context, backend storage.Backend, movieID string) error {
	manifest, _, err := buildstore.NewManifestService(backend).LoadCurrent(ctx, movieID)
	if err != nil {
		if buildstore.IsManifestNotFound(err) {
			printer.Info("No manifest yet for movie %q, run execute first\n", movieID)
			return nil
		}
		return printer.Error("cannot read manifest", err.Error(), nil)
	}

	if listOutputFormat == "jsonl" {
		ids := sortedArtefactIDs(manifest)
		for _, id := range ids {
			entry := manifest.Artefacts[id]
			line, err := json.Marshal(map[string]any{
				"artefactId": id,
				"blob":       entry.Blob,
				"producedBy": entry.ProducedBy,
				"inputsHash": entry.InputsHash,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal manifest entry: %w", err)
			}
			printer.Println(string(line))
		}
		return nil
	}

	printer.Info("Manifest %s (created %s): %d artefact(s)\n",
		manifest.Revision, manifest.CreatedAt.Format(time.RFC3339), len(manifest.Artefacts))
	for _, id := range sortedArtefactIDs(manifest) {
		entry := manifest.Artefacts[id]
		detail := entry.ProducedBy
		if entry.Blob != nil {
			detail += " " + shortHash(entry.Blob.Hash)
		}
		printer.Job(string(entry.Status), id, detail)
	}
	return nil
}

func sortedArtefactIDs(manifest *buildstore.Manifest) []string {
	out := make([]string, 0, len(manifest.Artefacts))
	for id := range manifest.Artefacts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
