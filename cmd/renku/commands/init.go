package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/keremk/renku-sub006/internal/buildstore"
	"github.com/keremk/renku-sub006/internal/printer"
	"github.com/keremk/renku-sub006/internal/storage"
)

var (
	initBlueprint string
	initLabel     string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize storage for a new movie",
	Long: `Initialize storage for a new movie.

Creates the movie's directory layout (event log, blobs, manifests, runs) in
the selected storage backend and writes its metadata record. Initializing an
existing movie is a no-op apart from refreshing the metadata.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initBlueprint, "blueprint", "", "Path to the blueprint YAML")
	initCmd.Flags().StringVar(&initLabel, "label", "", "Human-readable movie label")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	p, err := resolveProject(initBlueprint, "")
	if err != nil {
		return err
	}
	backend, cleanup, err := p.openBackend()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := storage.InitializeMovieStorage(ctx, backend, p.movieID); err != nil {
		return printer.Error("storage initialization failed", err.Error(), nil)
	}

	meta := &buildstore.Metadata{
		MovieID:       p.movieID,
		Label:         initLabel,
		BlueprintPath: p.blueprintPath,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if err := buildstore.SaveMetadata(ctx, backend, meta); err != nil {
		return printer.Error("cannot write movie metadata", err.Error(), nil)
	}

	printer.Success("Initialized movie %q\n", p.movieID)
	if p.blueprintPath != "" {
		printer.Detail("blueprint: %s", p.blueprintPath)
	}
	return nil
}
