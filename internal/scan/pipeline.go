package scan

import (
	"context"
	"sort"
	"strings"
	"sync"

	"evtxsigma/internal/aggregation"
	"evtxsigma/internal/fieldaccess"
	"evtxsigma/internal/logger"
	"evtxsigma/internal/metrics"
	"evtxsigma/internal/ruleset"
	"evtxsigma/pkg/models"
)

// RecordSource is the pipeline's input boundary: something that lazily
// decodes records, one at a time. Next returns
// (nil, nil, false) to signal a clean end of input. A decode failure is
// reported as a non-nil error with ok=true so the pipeline can count it as a
// RecordParseError and continue with the next record.
type RecordSource interface {
	Next(ctx context.Context) (rec *models.EventRecord, err error, ok bool)
}

// Stats accumulates the aggregate counts reported at end-of-run.
type Stats struct {
	RecordsRead       int64
	RecordsAdmitted   int64
	RecordParseErrors int64
	MatchErrors       int64
	Detections        int64
	Cancelled         bool
}

// Config controls the pipeline's concurrency and determinism knobs.
type Config struct {
	Workers               int
	QueueDepth            int
	SortDetections        bool // opt-in final sort; requires buffering
	LowMemory             bool // disables SortDetections regardless of the flag above
	EnableAllRules        bool
	NoPwshFieldExtraction bool
}

// Pipeline wires a RecordSource through filters, the PowerShell/field-data
// rewriters, metrics, the rule index, per-rule evaluation, and the
// aggregation engine, emitting Detections.
type Pipeline struct {
	cfg       Config
	filters   *Filters
	index     *RuleIndex
	accessor  *fieldaccess.Accessor
	fieldData *fieldaccess.FieldDataMap
	agg       aggregation.Store
	metrics   *metrics.Collector
}

// New builds a pipeline over an already-loaded rule set.
func New(cfg Config, filters *Filters, rules []*ruleset.RuleNode, ctx *ruleset.Context, agg aggregation.Store, m *metrics.Collector) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 4
	}
	if cfg.LowMemory {
		cfg.SortDetections = false
	}
	return &Pipeline{
		cfg:       cfg,
		filters:   filters,
		index:     NewRuleIndex(rules, cfg.EnableAllRules),
		accessor:  fieldaccess.NewAccessor(ctx.Aliases),
		fieldData: ctx.FieldData,
		agg:       agg,
		metrics:   m,
	}
}

// Run reads every record from src, evaluates the rule set against each
// admitted record, and calls emit for every Detection produced. It returns
// once src is exhausted or ctx is cancelled; on
// cancellation, in-flight records complete and partial results are still
// emitted ("no lies").
func (p *Pipeline) Run(ctx context.Context, src RecordSource, emit func(models.Detection)) (Stats, error) {
	recordCh := make(chan *models.EventRecord, p.cfg.QueueDepth)
	detectionCh := make(chan models.Detection, p.cfg.QueueDepth)

	var stats Stats
	var statsMu sync.Mutex
	addStat := func(f func(*Stats)) {
		statsMu.Lock()
		f(&stats)
		statsMu.Unlock()
	}

	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		defer close(recordCh)
		p.produce(ctx, src, recordCh, addStat)
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			p.consume(ctx, recordCh, detectionCh, addStat)
		}()
	}

	go func() {
		workerWG.Wait()
		close(detectionCh)
	}()

	if p.cfg.SortDetections {
		buffered := p.drainSorted(detectionCh)
		for _, d := range buffered {
			emit(d)
			addStat(func(s *Stats) { s.Detections++ })
		}
	} else {
		for d := range detectionCh {
			emit(d)
			addStat(func(s *Stats) { s.Detections++ })
		}
	}

	producerWG.Wait()
	if ctx.Err() != nil {
		stats.Cancelled = true
	}
	return stats, nil
}

func (p *Pipeline) produce(ctx context.Context, src RecordSource, out chan<- *models.EventRecord, addStat func(func(*Stats))) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err, ok := src.Next(ctx)
		if !ok {
			return
		}
		if err != nil {
			addStat(func(s *Stats) { s.RecordParseErrors++ })
			if p.metrics != nil {
				p.metrics.RecordParseError()
			}
			logger.Warnf("record parse error: %v", err)
			logger.Recoverablef("record parse error: %v", err)
			continue
		}
		addStat(func(s *Stats) { s.RecordsRead++ })

		if !p.filters.Admit(rec) {
			continue
		}
		addStat(func(s *Stats) { s.RecordsAdmitted++ })

		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) consume(ctx context.Context, in <-chan *models.EventRecord, out chan<- models.Detection, addStat func(func(*Stats))) {
	for rec := range in {
		select {
		case <-ctx.Done():
		default:
			p.evaluateRecord(rec, out, addStat)
		}
	}
}

func (p *Pipeline) evaluateRecord(rec *models.EventRecord, out chan<- models.Detection, addStat func(func(*Stats))) {
	fieldaccess.ExtractPowerShellFields(rec, p.cfg.NoPwshFieldExtraction)
	if p.fieldData != nil {
		p.fieldData.Apply(rec)
	}
	if p.metrics != nil {
		p.metrics.Observe(rec, p.resolveTargetUserName(rec))
	}

	resolve := func(key string) models.FieldValue { return p.accessor.Resolve(rec, key) }

	for _, rule := range p.index.Candidates(rec) {
		d, ok := p.evaluateRule(rule, rec, resolve, addStat)
		if ok {
			out <- d
		}
	}
}

// evaluateRule evaluates one rule against one record, recovering from a
// matcher panic as a MatchError: that (rule, record) pair is skipped and
// counted, and the scan continues.
func (p *Pipeline) evaluateRule(rule *ruleset.RuleNode, rec *models.EventRecord, resolve func(string) models.FieldValue, addStat func(func(*Stats))) (d models.Detection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			addStat(func(s *Stats) { s.MatchErrors++ })
			if p.metrics != nil {
				p.metrics.MatchError()
			}
			logger.Errorf("match error in rule %s: %v", rule.ID, r)
			logger.Recoverablef("match error: rule=%s record=%s: %v", rule.ID, rec.RecordID, r)
			ok = false
		}
	}()

	if !rule.Evaluate(rec, resolve) {
		return models.Detection{}, false
	}

	eventID, _ := rec.EventID()
	det := models.Detection{
		Timestamp:  rec.Timestamp,
		RuleID:     rule.ID,
		RuleTitle:  rule.Title,
		Level:      rule.Level,
		Computer:   rec.Computer(),
		Channel:    rec.Channel(),
		EventID:    eventID,
		RecordID:   rec.RecordID,
		SourcePath: rec.SourcePath,
	}

	if rule.Agg == nil {
		return det, true
	}

	key := ""
	if rule.Agg.ByField != "" {
		key = aggregationKey(rule.Agg.ByField, resolve)
	}
	value := ""
	if rule.Agg.CountField != "" {
		value = fieldString(resolve(rule.Agg.CountField))
	}

	measured, triggered := p.agg.Record(rule.ID, rule.Agg, rec.Timestamp, key, value)
	if !triggered {
		return models.Detection{}, false
	}
	det.AggregationValue = measured
	det.AggregationKey = key
	return det, true
}

// fieldString renders a resolved FieldValue's first leaf value as a string,
// or "" when the field is missing.
func fieldString(v models.FieldValue) string {
	vals := v.Values()
	if len(vals) == 0 {
		return ""
	}
	return models.ScalarString(vals[0])
}

// aggregationKey stringifies a (possibly comma-joined, for correlation
// group-by) set of field names into the bucket key the aggregation store
// indexes by.
func aggregationKey(byField string, resolve func(string) models.FieldValue) string {
	fields := strings.Split(byField, ",")
	if len(fields) == 1 {
		return fieldString(resolve(fields[0]))
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fieldString(resolve(f))
	}
	return strings.Join(parts, "\x1f")
}

// resolveTargetUserName resolves the conventional TargetUserName field for
// the logon-success/failure metrics.
func (p *Pipeline) resolveTargetUserName(rec *models.EventRecord) string {
	return fieldString(p.accessor.Resolve(rec, "TargetUserName"))
}

func (p *Pipeline) drainSorted(in <-chan models.Detection) []models.Detection {
	var all []models.Detection
	for d := range in {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.SourcePath != b.SourcePath {
			return a.SourcePath < b.SourcePath
		}
		if a.RecordID != b.RecordID {
			return a.RecordID < b.RecordID
		}
		return a.RuleID < b.RuleID
	})
	return all
}
