package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	EvtxSigma EvtxSigmaConfig `yaml:"evtxsigma"`
}

// EvtxSigmaConfig is the project configuration.
type EvtxSigmaConfig struct {
	Input       InputConfig       `yaml:"input"`
	Rules       RulesConfig       `yaml:"rules"`
	Engine      EngineConfig      `yaml:"engine"`
	Filters     FiltersConfig     `yaml:"filters"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Output      OutputConfig      `yaml:"output"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// InputConfig controls the record source. Mode is "file" (JSON-lines event
// files listed in Files or given as CLI args) or "redis" (list-queue
// consumer).
type InputConfig struct {
	Mode  string      `yaml:"mode"`
	Files []string    `yaml:"files"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// RulesConfig controls the Sigma rule set: where rules are loaded from and
// which loaded rules participate in the scan.
type RulesConfig struct {
	Path        string   `yaml:"path"`
	MinLevel    string   `yaml:"min_level"`
	Statuses    []string `yaml:"statuses"`
	Tags        []string `yaml:"tags"`
	EnableAll   bool     `yaml:"enable_all"`
	LevelTuning string   `yaml:"level_tuning"`
}

// EngineConfig names the supporting data files the engine context is built
// from: alias CSV, abbreviation CSVs, expansion directory, windash character
// file, and the field-data-map directory.
type EngineConfig struct {
	AliasFile                string `yaml:"alias_file"`
	ChannelAbbreviationFile  string `yaml:"channel_abbreviation_file"`
	ProviderAbbreviationFile string `yaml:"provider_abbreviation_file"`
	GenericAbbreviationFile  string `yaml:"generic_abbreviation_file"`
	ExpansionDir             string `yaml:"expansion_dir"`
	WindashFile              string `yaml:"windash_file"`
	FieldDataMapDir          string `yaml:"field_data_map_dir"`
	NoPwshFieldExtraction    bool   `yaml:"no_pwsh_field_extraction"`
}

// FiltersConfig is the global record admission criteria. Start/End are
// RFC3339 timestamps; Offset is a relative window like "1y", "30d", "24h"
// counted back from now and only applies when Start is empty.
type FiltersConfig struct {
	Start            string   `yaml:"start"`
	End              string   `yaml:"end"`
	Offset           string   `yaml:"offset"`
	IncludeChannels  []string `yaml:"include_channels"`
	ExcludeChannels  []string `yaml:"exclude_channels"`
	IncludeEventIDs  []int64  `yaml:"include_event_ids"`
	ExcludeEventIDs  []int64  `yaml:"exclude_event_ids"`
	IncludeComputers []string `yaml:"include_computers"`
	ExcludeComputers []string `yaml:"exclude_computers"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers        int  `yaml:"workers"`
	QueueDepth     int  `yaml:"queue_depth"`
	SortDetections bool `yaml:"sort_detections"`
	LowMemory      bool `yaml:"low_memory"`
}

// AggregationConfig selects the aggregation state backend: "memory"
// (default) or "redis".
type AggregationConfig struct {
	Store string         `yaml:"store"`
	Redis AggRedisConfig `yaml:"redis"`
}

// AggRedisConfig configures the Redis-backed aggregation store.
type AggRedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// OutputConfig controls the detection sink. Mode is "jsonl" or "csv";
// an empty Path writes to stdout.
type OutputConfig struct {
	Mode string `yaml:"mode"`
	Path string `yaml:"path"`
}

// LoggingConfig controls logging output. ErrorLog is the per-run recoverable
// error log; QuietErrors suppresses it.
type LoggingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Console     bool   `yaml:"console"`
	ErrorLog    string `yaml:"error_log"`
	QuietErrors bool   `yaml:"quiet_errors"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
