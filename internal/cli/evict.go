package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Run one eviction sweep",
		Run:   runEvict,
	}

	RootCmd.AddCommand(cmd)
}

func runEvict(cmd *cobra.Command, args []string) {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	result := a.svc.Evict(cmd.Context())
	b, _ := json.Marshal(result)
	fmt.Println(string(b))
}
