package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"evtxsigma/config"
	"evtxsigma/internal/aggregation"
	"evtxsigma/internal/fieldaccess"
	"evtxsigma/internal/input"
	"evtxsigma/internal/logger"
	"evtxsigma/internal/match"
	"evtxsigma/internal/metrics"
	"evtxsigma/internal/ruleset"
	"evtxsigma/internal/scan"
	"evtxsigma/pkg/models"
)

const (
	exitOK        = 0
	exitConfig    = 1
	exitCancelled = 2
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("evtxsigma.yml"); err == nil {
		return "evtxsigma.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "evtxsigma.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "evtxsigma.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.EvtxSigma.Input.Mode == "" {
		cfg.EvtxSigma.Input.Mode = "file"
	}
	if cfg.EvtxSigma.Input.Redis.Addr == "" {
		cfg.EvtxSigma.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.EvtxSigma.Input.Redis.Key == "" {
		cfg.EvtxSigma.Input.Redis.Key = "evtx_records"
	}
	if cfg.EvtxSigma.Input.Redis.BlockTimeout == 0 {
		cfg.EvtxSigma.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.EvtxSigma.Pipeline.Workers <= 0 {
		cfg.EvtxSigma.Pipeline.Workers = runtime.NumCPU()
	}
	if cfg.EvtxSigma.Pipeline.QueueDepth <= 0 {
		cfg.EvtxSigma.Pipeline.QueueDepth = cfg.EvtxSigma.Pipeline.Workers * 4
	}

	if cfg.EvtxSigma.Aggregation.Store == "" {
		cfg.EvtxSigma.Aggregation.Store = "memory"
	}

	if cfg.EvtxSigma.Output.Mode == "" {
		cfg.EvtxSigma.Output.Mode = "jsonl"
	}

	if cfg.EvtxSigma.Logging.Level == "" {
		cfg.EvtxSigma.Logging.Level = "info"
	}
}

func buildContext(cfg *config.EvtxSigmaConfig) (*ruleset.Context, error) {
	ctx := &ruleset.Context{
		NoPwshFieldExtraction: cfg.Engine.NoPwshFieldExtraction,
	}

	if cfg.Engine.AliasFile != "" {
		aliases, err := fieldaccess.LoadAliasTable(cfg.Engine.AliasFile)
		if err != nil {
			return nil, err
		}
		ctx.Aliases = aliases
	}

	for _, abbr := range []struct {
		path string
		dst  **fieldaccess.AbbreviationTable
	}{
		{cfg.Engine.ChannelAbbreviationFile, &ctx.ChannelAbbreviations},
		{cfg.Engine.ProviderAbbreviationFile, &ctx.ProviderAbbreviations},
		{cfg.Engine.GenericAbbreviationFile, &ctx.GenericAbbreviations},
	} {
		if abbr.path == "" {
			continue
		}
		t, err := fieldaccess.LoadAbbreviationTable(abbr.path)
		if err != nil {
			return nil, err
		}
		*abbr.dst = t
	}

	expansions, err := fieldaccess.LoadExpansionTable(cfg.Engine.ExpansionDir)
	if err != nil {
		return nil, err
	}
	ctx.Expansions = expansions

	windash, err := match.LoadWindashChars(cfg.Engine.WindashFile)
	if err != nil {
		return nil, err
	}
	ctx.Windash = windash

	if cfg.Engine.FieldDataMapDir != "" {
		fdm, err := fieldaccess.LoadFieldDataMap(cfg.Engine.FieldDataMapDir)
		if err != nil {
			return nil, err
		}
		ctx.FieldData = fdm
	}

	tuning, err := ruleset.LoadLevelTuning(cfg.Rules.LevelTuning)
	if err != nil {
		return nil, err
	}
	ctx.LevelTuning = tuning

	return ctx, nil
}

func buildFilters(cfg *config.FiltersConfig) (*scan.Filters, error) {
	f := &scan.Filters{}

	if cfg.Start != "" {
		ts, err := time.Parse(time.RFC3339, cfg.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid filter start %q: %w", cfg.Start, err)
		}
		f.Window.Start = ts.UTC()
	} else if cfg.Offset != "" {
		d, err := scan.ParseOffset(cfg.Offset)
		if err != nil {
			return nil, err
		}
		f.Window.Start = time.Now().UTC().Add(-d)
	}
	if cfg.End != "" {
		ts, err := time.Parse(time.RFC3339, cfg.End)
		if err != nil {
			return nil, fmt.Errorf("invalid filter end %q: %w", cfg.End, err)
		}
		f.Window.End = ts.UTC()
	}

	f.ChannelInclude = stringSet(cfg.IncludeChannels)
	f.ChannelExclude = stringSet(cfg.ExcludeChannels)
	f.ComputerInclude = stringSet(cfg.IncludeComputers)
	f.ComputerExclude = stringSet(cfg.ExcludeComputers)
	f.EventIDInclude = int64Set(cfg.IncludeEventIDs)
	f.EventIDExclude = int64Set(cfg.ExcludeEventIDs)
	return f, nil
}

func stringSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func int64Set(vals []int64) map[int64]struct{} {
	if len(vals) == 0 {
		return nil
	}
	out := make(map[int64]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

// detectionWriter serializes the detection stream as JSONL or CSV.
type detectionWriter struct {
	mode string
	out  io.Writer
	csv  *csv.Writer
	enc  *json.Encoder
	err  error
}

func newDetectionWriter(mode string, out io.Writer) (*detectionWriter, error) {
	w := &detectionWriter{mode: mode, out: out}
	switch mode {
	case "jsonl":
		w.enc = json.NewEncoder(out)
	case "csv":
		w.csv = csv.NewWriter(out)
		if err := w.csv.Write([]string{
			"timestamp", "rule_id", "rule_title", "level", "computer",
			"channel", "event_id", "record_id", "source_path",
			"aggregation_key", "aggregation_value",
		}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown output mode: %s", mode)
	}
	return w, nil
}

func (w *detectionWriter) Write(d models.Detection) {
	if w.err != nil {
		return
	}
	switch w.mode {
	case "jsonl":
		w.err = w.enc.Encode(d)
	case "csv":
		aggValue := ""
		if d.AggregationValue != 0 {
			aggValue = strconv.FormatInt(d.AggregationValue, 10)
		}
		w.err = w.csv.Write([]string{
			d.Timestamp.UTC().Format(time.RFC3339Nano),
			d.RuleID,
			d.RuleTitle,
			d.Level.String(),
			d.Computer,
			d.Channel,
			strconv.FormatInt(d.EventID, 10),
			d.RecordID,
			d.SourcePath,
			d.AggregationKey,
			aggValue,
		})
	}
}

func (w *detectionWriter) Flush() error {
	if w.csv != nil {
		w.csv.Flush()
		if w.err == nil {
			w.err = w.csv.Error()
		}
	}
	return w.err
}

func run(args []string) int {
	configArg := ""
	if len(args) > 0 && (strings.HasSuffix(args[0], ".yml") || strings.HasSuffix(args[0], ".yaml")) {
		configArg = args[0]
		args = args[1:]
	}

	configPath := findConfigFile(configArg)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return exitConfig
	}
	applyDefaults(cfg)
	ec := &cfg.EvtxSigma

	if err := logger.Init(ec.Logging.Enabled, ec.Logging.Level, ec.Logging.File, ec.Logging.Console); err != nil {
		log.Printf("Failed to initialize logger: %v", err)
		return exitConfig
	}
	if err := logger.InitErrorLog(ec.Logging.ErrorLog, ec.Logging.QuietErrors); err != nil {
		log.Printf("Failed to initialize error log: %v", err)
		return exitConfig
	}
	defer logger.CloseErrorLog()

	logger.Infof("evtxsigma starting")
	logger.Infof("Config loaded from: %s", configPath)

	ruleCtx, err := buildContext(ec)
	if err != nil {
		logger.Errorf("Failed to build engine context: %v", err)
		return exitConfig
	}

	if strings.TrimSpace(ec.Rules.Path) == "" {
		logger.Errorf("rules.path is required")
		return exitConfig
	}
	rules, loadStats, err := ruleset.LoadDirectory(ec.Rules.Path, ruleCtx)
	if err != nil {
		logger.Errorf("Failed to load rules from %s: %v", ec.Rules.Path, err)
		return exitConfig
	}
	for _, diag := range loadStats.Errors {
		logger.Recoverablef("rule parse error: %s", diag.Error())
	}
	logger.Infof("Rules loaded: loaded=%d skipped=%d files=%d", loadStats.Loaded, loadStats.Skipped, loadStats.TotalFiles)

	minLevel := models.LevelInformational
	if ec.Rules.MinLevel != "" {
		lvl, ok := models.ParseLevel(strings.ToLower(ec.Rules.MinLevel))
		if !ok {
			logger.Errorf("Unknown rules.min_level: %s", ec.Rules.MinLevel)
			return exitConfig
		}
		minLevel = lvl
	}
	rules = ruleset.NewFilter(minLevel, ec.Rules.Statuses, ec.Rules.Tags).Apply(rules)
	if len(rules) == 0 {
		logger.Warnf("No rules selected; scan will produce no detections")
	}

	filters, err := buildFilters(&ec.Filters)
	if err != nil {
		logger.Errorf("Failed to build filters: %v", err)
		return exitConfig
	}

	var aggStore aggregation.Store
	switch ec.Aggregation.Store {
	case "memory":
		aggStore = aggregation.NewEngine()
	case "redis":
		store, err := aggregation.NewRedisStore(aggregation.RedisConfig{
			Addr:      ec.Aggregation.Redis.Addr,
			Password:  ec.Aggregation.Redis.Password,
			DB:        ec.Aggregation.Redis.DB,
			KeyPrefix: ec.Aggregation.Redis.KeyPrefix,
		})
		if err != nil {
			logger.Errorf("Failed to connect aggregation store: %v", err)
			return exitConfig
		}
		defer store.Close()
		aggStore = store
	default:
		logger.Errorf("Unknown aggregation store: %s", ec.Aggregation.Store)
		return exitConfig
	}

	var src scan.RecordSource
	switch ec.Input.Mode {
	case "file":
		paths := append([]string(nil), ec.Input.Files...)
		paths = append(paths, args...)
		if len(paths) == 0 {
			logger.Errorf("No input files: set input.files or pass paths as arguments")
			return exitConfig
		}
		fileSrc := input.NewJSONLSource(paths)
		defer fileSrc.Close()
		src = fileSrc
		logger.Infof("Input mode: file (%d files)", len(paths))
	case "redis":
		redisSrc, err := input.NewRedisSource(input.RedisConfig{
			Addr:         ec.Input.Redis.Addr,
			Password:     ec.Input.Redis.Password,
			DB:           ec.Input.Redis.DB,
			Key:          ec.Input.Redis.Key,
			BlockTimeout: ec.Input.Redis.BlockTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis source: %v", err)
			return exitConfig
		}
		defer redisSrc.Close()
		src = redisSrc
		logger.Infof("Input mode: redis (%s/%s)", ec.Input.Redis.Addr, ec.Input.Redis.Key)
	default:
		logger.Errorf("Unknown input mode: %s", ec.Input.Mode)
		return exitConfig
	}

	out := os.Stdout
	if ec.Output.Path != "" {
		dir := filepath.Dir(ec.Output.Path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				logger.Errorf("Failed to create output directory: %v", err)
				return exitConfig
			}
		}
		f, err := os.Create(ec.Output.Path)
		if err != nil {
			logger.Errorf("Failed to create output file: %v", err)
			return exitConfig
		}
		defer f.Close()
		out = f
	}
	writer, err := newDetectionWriter(ec.Output.Mode, out)
	if err != nil {
		logger.Errorf("Failed to create detection writer: %v", err)
		return exitConfig
	}

	collector := metrics.NewCollector()
	for i := 0; i < loadStats.Skipped; i++ {
		collector.RuleParseError()
	}

	pipe := scan.New(scan.Config{
		Workers:               ec.Pipeline.Workers,
		QueueDepth:            ec.Pipeline.QueueDepth,
		SortDetections:        ec.Pipeline.SortDetections,
		LowMemory:             ec.Pipeline.LowMemory,
		EnableAllRules:        ec.Rules.EnableAll,
		NoPwshFieldExtraction: ec.Engine.NoPwshFieldExtraction,
	}, filters, rules, ruleCtx, aggStore, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("Shutting down")
		cancel()
	}()

	stats, err := pipe.Run(ctx, src, writer.Write)
	if err != nil {
		logger.Errorf("Pipeline error: %v", err)
		return exitConfig
	}
	if err := writer.Flush(); err != nil {
		logger.Errorf("Failed to flush detections: %v", err)
		return exitConfig
	}

	logger.Infof("Scan complete: records=%d admitted=%d detections=%d record_errors=%d match_errors=%d",
		stats.RecordsRead, stats.RecordsAdmitted, stats.Detections, stats.RecordParseErrors, stats.MatchErrors)

	if stats.Cancelled {
		return exitCancelled
	}
	return exitOK
}

func main() {
	os.Exit(run(os.Args[1:]))
}
