// Package metrics tracks per-(channel, event_id) counters, per-computer
// counters, and per-user logon success/failure counters, mutated only by the
// scan pipeline and flushed at end-of-run. Backed by
// github.com/prometheus/client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"evtxsigma/pkg/models"
)

const (
	securityChannel  = "Security"
	logonEventID     = 4624
	logonFailEventID = 4625
)

// Collector owns every counter the pipeline updates while scanning. One
// Collector is shared read-write across worker goroutines; prometheus
// counters are internally synchronized so no external locking is needed.
type Collector struct {
	registry *prometheus.Registry

	byChannelEvent *prometheus.CounterVec
	byComputer     *prometheus.CounterVec
	logonSuccess   *prometheus.CounterVec
	logonFailure   *prometheus.CounterVec

	ruleParseErrors   prometheus.Counter
	recordParseErrors prometheus.Counter
	matchErrors       prometheus.Counter
}

// NewCollector registers a fresh set of counters on a new registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.byChannelEvent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evtxsigma_records_total",
		Help: "Records observed, by channel and event id.",
	}, []string{"channel", "event_id"})

	c.byComputer = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evtxsigma_records_by_computer_total",
		Help: "Records observed, by computer.",
	}, []string{"computer"})

	c.logonSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evtxsigma_logon_success_total",
		Help: "Successful logons (EventID 4624 on the Security channel), by user.",
	}, []string{"user"})

	c.logonFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evtxsigma_logon_failure_total",
		Help: "Failed logons (EventID 4625 on the Security channel), by user.",
	}, []string{"user"})

	c.ruleParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evtxsigma_rule_parse_errors_total",
		Help: "Rules skipped because they failed to compile.",
	})
	c.recordParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evtxsigma_record_parse_errors_total",
		Help: "Records skipped because they failed to decode.",
	})
	c.matchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evtxsigma_match_errors_total",
		Help: "(rule, record) pairs skipped because the matcher panicked.",
	})

	c.registry.MustRegister(
		c.byChannelEvent, c.byComputer, c.logonSuccess, c.logonFailure,
		c.ruleParseErrors, c.recordParseErrors, c.matchErrors,
	)
	return c
}

// Registry exposes the underlying prometheus.Registry, e.g. for an optional
// /metrics HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe updates the per-(channel, event_id) and per-computer counters for
// one admitted record, plus logon success/failure when it is a Security
// channel 4624/4625 event with a resolvable TargetUserName.
func (c *Collector) Observe(rec *models.EventRecord, targetUserName string) {
	if rec == nil {
		return
	}
	channel := rec.Channel()
	eventID, _ := rec.EventID()

	c.byChannelEvent.WithLabelValues(channel, formatEventID(eventID)).Inc()
	if computer := rec.Computer(); computer != "" {
		c.byComputer.WithLabelValues(computer).Inc()
	}

	if channel != securityChannel || targetUserName == "" {
		return
	}
	switch eventID {
	case logonEventID:
		c.logonSuccess.WithLabelValues(targetUserName).Inc()
	case logonFailEventID:
		c.logonFailure.WithLabelValues(targetUserName).Inc()
	}
}

func (c *Collector) RuleParseError()   { c.ruleParseErrors.Inc() }
func (c *Collector) RecordParseError() { c.recordParseErrors.Inc() }
func (c *Collector) MatchError()       { c.matchErrors.Inc() }

func formatEventID(id int64) string {
	if id == 0 {
		return "0"
	}
	neg := id < 0
	if neg {
		id = -id
	}
	var buf [20]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
