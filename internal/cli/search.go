package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stixyie/protogen-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search chunk content",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("entity", "e", "", "Limit to one entity")
	cmd.Flags().StringP("category", "c", "", "Limit to one category")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	results, err := a.st.Search(cmd.Context(), store.SearchParams{
		EntityID: entity,
		Category: category,
		Query:    strings.Join(args, " "),
		Limit:    limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
