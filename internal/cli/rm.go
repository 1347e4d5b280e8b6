package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete all memory for an entity",
		Run:   runRm,
	}

	cmd.Flags().StringP("entity", "e", "", "Entity id (required)")
	cmd.MarkFlagRequired("entity")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	count, err := a.svc.DeleteEntityMemory(cmd.Context(), entity)
	if err != nil {
		exitErr("rm", err)
	}

	b, _ := json.Marshal(map[string]any{"entity": entity, "deleted": count})
	fmt.Println(string(b))
}
