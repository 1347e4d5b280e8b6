package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stixyie/protogen-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "write [content]",
		Short: "Store a message for an entity",
		Long:  "Store a message. Content can be a positional arg or piped via stdin.",
		Run:   runWrite,
	}

	cmd.Flags().StringP("entity", "e", "", "Entity id (required)")
	cmd.Flags().StringP("role", "r", "user", "Role: user or assistant")
	cmd.Flags().StringP("category", "c", "conversation", "Category")
	cmd.Flags().String("meta", "", "JSON metadata object")

	cmd.MarkFlagRequired("entity")

	RootCmd.AddCommand(cmd)
}

func runWrite(cmd *cobra.Command, args []string) {
	entity, _ := cmd.Flags().GetString("entity")
	role, _ := cmd.Flags().GetString("role")
	category, _ := cmd.Flags().GetString("category")
	metaStr, _ := cmd.Flags().GetString("meta")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if content == "" {
		exitErr("write", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var meta map[string]any
	if metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			exitErr("parse meta", err)
		}
	}

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	infos, err := a.svc.WriteMessage(cmd.Context(), memory.WriteParams{
		EntityID: entity,
		Content:  content,
		Role:     role,
		Category: category,
		Metadata: meta,
	})
	if err != nil {
		exitErr("write", err)
	}

	b, _ := json.Marshal(infos)
	fmt.Println(string(b))
}
