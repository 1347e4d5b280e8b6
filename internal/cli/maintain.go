package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stixyie/protogen-memory/internal/analyzer"
	"github.com/stixyie/protogen-memory/internal/config"
	"github.com/stixyie/protogen-memory/internal/maintain"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run the maintenance scheduler until interrupted",
		Long: "Run the background maintenance loop: periodic eviction sweeps and " +
			"dispatch of unanalyzed chunks to the analysis collaborator.",
		Run: runMaintain,
	}

	cmd.Flags().Bool("once", false, "Run a single tick and exit")

	RootCmd.AddCommand(cmd)
}

func runMaintain(cmd *cobra.Command, args []string) {
	once, _ := cmd.Flags().GetBool("once")

	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open service", err)
	}
	defer cleanup()

	az, err := buildAnalyzer(a.cfg)
	if err != nil {
		exitErr("configure analyzer", err)
	}

	watchDir := ""
	if a.cfg.Watch.Enabled && a.cfg.Storage.Driver != "sqlite" {
		watchDir = a.cfg.Storage.Dir
	}

	sched := maintain.New(a.svc, a.st, az, maintain.Config{
		Interval:  a.cfg.Maintenance.Interval(),
		Debounce:  a.cfg.Maintenance.Debounce(),
		BatchSize: a.cfg.Maintenance.AnalysisBatchSize,
		WatchDir:  watchDir,
	}, a.log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		sched.Tick(ctx)
		return
	}
	if err := sched.Run(ctx); err != nil {
		exitErr("maintain", err)
	}
}

func buildAnalyzer(cfg config.Config) (analyzer.Analyzer, error) {
	switch cfg.Analyzer.Provider {
	case "anthropic":
		if cfg.Analyzer.APIKey == "" {
			return nil, fmt.Errorf("analyzer.api_key is required for the anthropic provider")
		}
		return analyzer.NewAnthropic(cfg.Analyzer.APIKey, cfg.Analyzer.Model), nil
	case "", "none":
		return noopAnalyzer{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q", cfg.Analyzer.Provider)
	}
}

// noopAnalyzer keeps the maintenance loop useful (eviction sweeps) when no
// analysis collaborator is configured.
type noopAnalyzer struct{}

func (noopAnalyzer) Analyze(ctx context.Context, batch []string) (string, error) {
	return "", nil
}
