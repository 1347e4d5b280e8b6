package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stixyie/protogen-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an entity's chunks as JSON Lines to stdout",
		Run:   runExport,
	}

	cmd.Flags().StringP("entity", "e", "", "Entity id (required)")
	cmd.MarkFlagRequired("entity")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	count, err := store.Export(cmd.Context(), a.st, entity, os.Stdout)
	if err != nil {
		exitErr("export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d chunks\n", count)
}
