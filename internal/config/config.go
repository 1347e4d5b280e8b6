// Package config defines the recognized configuration surface and its
// defaults.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds every recognized option.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Chunker     ChunkerConfig     `mapstructure:"chunker"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Watch       WatchConfig       `mapstructure:"watch"`
}

// StorageConfig selects and locates the chunk store driver.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "file" or "sqlite"
	Dir    string `mapstructure:"dir"`    // file driver root
	DBPath string `mapstructure:"db_path"`
}

// QuotaConfig bounds aggregate storage.
type QuotaConfig struct {
	CeilingBytes       int64   `mapstructure:"ceiling_bytes"`
	HighWaterRatio     float64 `mapstructure:"high_water_ratio"`
	LowWaterRatio      float64 `mapstructure:"low_water_ratio"`
	MaxChunksPerEntity int     `mapstructure:"max_chunks_per_entity"`
}

// ChunkerConfig bounds individual chunks.
type ChunkerConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// MaintenanceConfig drives the background scheduler.
type MaintenanceConfig struct {
	IntervalSeconds         int `mapstructure:"interval_seconds"`
	AnalysisDebounceSeconds int `mapstructure:"analysis_debounce_seconds"`
	AnalysisBatchSize       int `mapstructure:"analysis_batch_size"`
}

// AnalyzerConfig selects the analysis collaborator.
type AnalyzerConfig struct {
	Provider string `mapstructure:"provider"` // "anthropic" or "none"
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
}

// WatchConfig toggles the optional storage directory watcher.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Interval returns the maintenance interval as a duration.
func (m MaintenanceConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Debounce returns the analysis debounce window as a duration.
func (m MaintenanceConfig) Debounce() time.Duration {
	return time.Duration(m.AnalysisDebounceSeconds) * time.Second
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".protogen-memory")
	return Config{
		Storage: StorageConfig{
			Driver: "file",
			Dir:    filepath.Join(base, "chunks"),
			DBPath: filepath.Join(base, "chunks.db"),
		},
		Quota: QuotaConfig{
			CeilingBytes:   10 << 30,
			HighWaterRatio: 0.90,
			LowWaterRatio:  0.75,
		},
		Chunker: ChunkerConfig{
			MaxChunkSize: 4000,
		},
		Maintenance: MaintenanceConfig{
			IntervalSeconds:         3600,
			AnalysisDebounceSeconds: 600,
			AnalysisBatchSize:       10,
		},
		Analyzer: AnalyzerConfig{
			Provider: "none",
		},
	}
}
