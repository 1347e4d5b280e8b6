// Package cli implements the protogen-memory CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stixyie/protogen-memory/internal/config"
	"github.com/stixyie/protogen-memory/internal/logger"
	"github.com/stixyie/protogen-memory/internal/memory"
	"github.com/stixyie/protogen-memory/internal/store"
)

var (
	configDir  string
	storageDir string
	driverFlag string
	debugFlag  bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "protogen-memory",
	Short: "Bounded, categorized, persistent memory for chat entities",
	Long: "protogen-memory stores per-entity conversational history and derived " +
		"artifacts as chunked records under a global byte ceiling, with " +
		"background eviction and analysis.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding config.toml (default: none)")
	RootCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "", "Override storage directory")
	RootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "Storage driver: file or sqlite")
	RootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return cfg, err
	}
	if storageDir != "" {
		cfg.Storage.Dir = storageDir
	}
	if driverFlag != "" {
		cfg.Storage.Driver = driverFlag
	}
	return cfg, nil
}

func openStore(cfg config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "file":
		return store.NewFileStore(cfg.Storage.Dir, log)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.DBPath, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// app bundles the wired-up stack for a command invocation.
type app struct {
	cfg config.Config
	log *zap.Logger
	st  store.Store
	svc *memory.Service
}

// openApp wires the full stack. Callers must invoke the returned cleanup.
func openApp(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(debugFlag)

	st, err := openStore(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	svc, err := memory.NewService(ctx, st, memory.Options{
		MaxChunkSize:       cfg.Chunker.MaxChunkSize,
		CeilingBytes:       cfg.Quota.CeilingBytes,
		HighWaterRatio:     cfg.Quota.HighWaterRatio,
		LowWaterRatio:      cfg.Quota.LowWaterRatio,
		MaxChunksPerEntity: cfg.Quota.MaxChunksPerEntity,
	}, log)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	cleanup := func() {
		st.Close()
		log.Sync()
	}
	return &app{cfg: cfg, log: log, st: st, svc: svc}, cleanup, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
