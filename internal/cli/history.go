package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read an entity's chunk history, most recent last",
		Run:   runHistory,
	}

	cmd.Flags().StringP("entity", "e", "", "Entity id (required)")
	cmd.Flags().StringP("category", "c", "conversation", "Category")
	cmd.Flags().IntP("limit", "l", 0, "Max chunks to return (0 = all)")
	cmd.Flags().Bool("content-only", false, "Print content lines instead of JSON")

	cmd.MarkFlagRequired("entity")

	RootCmd.AddCommand(cmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	contentOnly, _ := cmd.Flags().GetBool("content-only")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	chunks, err := a.svc.ReadHistory(cmd.Context(), entity, category, limit)
	if err != nil {
		exitErr("history", err)
	}

	if contentOnly {
		for _, c := range chunks {
			fmt.Println(c.Content)
		}
		return
	}
	b, _ := json.MarshalIndent(chunks, "", "  ")
	fmt.Println(string(b))
}
