package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load creates a configured *viper.Viper and decodes it into a Config.
// Precedence, highest to lowest: environment variables with the
// PROTOMEM_ prefix (PROTOMEM_STORAGE_DIR, PROTOMEM_QUOTA_CEILING_BYTES, ...),
// a config.toml in configDir (optional), then built-in defaults.
func Load(configDir string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine, defaults apply.
			if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("PROTOMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers NewDefaultConfig under dotted keys so the defaults
// struct stays the single source of truth.
func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("storage.db_path", d.Storage.DBPath)

	v.SetDefault("quota.ceiling_bytes", d.Quota.CeilingBytes)
	v.SetDefault("quota.high_water_ratio", d.Quota.HighWaterRatio)
	v.SetDefault("quota.low_water_ratio", d.Quota.LowWaterRatio)
	v.SetDefault("quota.max_chunks_per_entity", d.Quota.MaxChunksPerEntity)

	v.SetDefault("chunker.max_chunk_size", d.Chunker.MaxChunkSize)

	v.SetDefault("maintenance.interval_seconds", d.Maintenance.IntervalSeconds)
	v.SetDefault("maintenance.analysis_debounce_seconds", d.Maintenance.AnalysisDebounceSeconds)
	v.SetDefault("maintenance.analysis_batch_size", d.Maintenance.AnalysisBatchSize)

	v.SetDefault("analyzer.provider", d.Analyzer.Provider)
	v.SetDefault("analyzer.model", d.Analyzer.Model)
	v.SetDefault("analyzer.api_key", d.Analyzer.APIKey)

	v.SetDefault("watch.enabled", d.Watch.Enabled)
}
