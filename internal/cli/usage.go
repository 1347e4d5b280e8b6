package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show quota usage",
		Run:   runUsage,
	}

	cmd.Flags().StringP("entity", "e", "", "Limit to one entity")

	RootCmd.AddCommand(cmd)
}

func runUsage(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	if entity != "" {
		b, _ := json.Marshal(map[string]any{"entity": entity, "used_bytes": a.svc.EntityUsage(entity)})
		fmt.Println(string(b))
		return
	}

	b, _ := json.MarshalIndent(a.svc.Usage(), "", "  ")
	fmt.Println(string(b))
}
