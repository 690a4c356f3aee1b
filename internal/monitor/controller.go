// Package monitor implements the sampling/aggregation controller: the
// periodic state machine that captures connection and bandwidth
// samples, classifies them against the rule engine, maintains rolling
// and session statistics, and raises de-duplicated alerts.
//
// All aggregation state is owned by the controller and mutated only
// under its lock with at most one cycle in flight (single-writer
// discipline). Collaborators read through accessor methods returning
// copies, or subscribe to the event bus.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/constripacity/SentryBar/internal/config"
	"github.com/constripacity/SentryBar/internal/events"
	"github.com/constripacity/SentryBar/internal/logging"
	"github.com/constripacity/SentryBar/internal/metrics"
	"github.com/constripacity/SentryBar/internal/models"
	"github.com/constripacity/SentryBar/internal/parser"
	"github.com/constripacity/SentryBar/internal/rules"
)

// Controller drives sampling cycles and owns all aggregation state.
type Controller struct {
	cfg     config.MonitorConfig
	sampler Sampler
	rules   *rules.Engine
	bus     *events.Bus
	metrics *metrics.Metrics
	log     *logging.Logger

	connParser *parser.ConnectionListParser
	bwParser   *parser.BandwidthParser
	procParser *parser.ProcessRankingParser

	// cycleMu serializes cycles: a slow cycle finishing late never
	// races a new cycle starting.
	cycleMu    sync.Mutex
	cycleCount uint64

	// bwInFlight guards against starting a bandwidth measurement while
	// one is already running.
	bwInFlight atomic.Bool

	// mu guards the published state below.
	mu          sync.RWMutex
	interval    time.Duration
	connections []*models.Connection
	current     *models.BandwidthSnapshot
	history     []*models.BandwidthSnapshot
	ranking     []models.ProcessCPUSample
	alerts      []*models.Alert

	sessionIn  int64
	sessionOut int64
	perProcess map[string]*models.ProcessTotal

	// Alert de-duplication state, touched only inside a cycle.
	prevPIDs  map[int]struct{}
	bwAlerted map[string]struct{}

	// intervalCh carries refresh-interval changes to the Run loop so
	// the ticker restarts before its next fire, never mid-cycle.
	intervalCh chan time.Duration

	// Cumulative parser drop counts already exported to metrics.
	exportedConnDrops uint64
	exportedRowDrops  uint64
}

// New creates a controller. The sampler, rule engine, bus and metrics
// are required collaborators.
func New(cfg config.MonitorConfig, sampler Sampler, engine *rules.Engine, bus *events.Bus, m *metrics.Metrics) *Controller {
	interval := cfg.RefreshInterval
	if interval < config.MinRefreshInterval {
		interval = config.MinRefreshInterval
	}

	return &Controller{
		cfg:        cfg,
		sampler:    sampler,
		rules:      engine,
		bus:        bus,
		metrics:    m,
		log:        logging.MonitorLogger(),
		connParser: parser.NewConnectionListParser(),
		bwParser:   parser.NewBandwidthParser(),
		procParser: parser.NewProcessRankingParser(),
		interval:   interval,
		perProcess: make(map[string]*models.ProcessTotal),
		prevPIDs:   make(map[int]struct{}),
		bwAlerted:  make(map[string]struct{}),
		intervalCh: make(chan time.Duration, 1),
	}
}

// Run executes sampling cycles until ctx is cancelled. The first cycle
// runs immediately; subsequent cycles follow the refresh interval.
func (c *Controller) Run(ctx context.Context) {
	c.mu.RLock()
	interval := c.interval
	c.mu.RUnlock()

	c.log.Info("monitor started", "interval", interval)

	c.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.bus.Flush()
			c.log.Info("monitor stopped")
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
			c.log.Info("refresh interval changed", "interval", d)
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// SetRefreshInterval changes the cycle period, clamped to the floor.
// The periodic trigger restarts before its next fire.
func (c *Controller) SetRefreshInterval(d time.Duration) {
	if d < config.MinRefreshInterval {
		d = config.MinRefreshInterval
	}

	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()

	// Replace any pending change; only the latest matters.
	select {
	case <-c.intervalCh:
	default:
	}
	c.intervalCh <- d
}

// RunOnce executes a single sampling cycle: fetch, parse, classify,
// merge, alert, publish. It is the controller's only inbound operation
// besides rule mutations, and is safe to call concurrently with the
// Run loop (cycles serialize).
func (c *Controller) RunOnce(ctx context.Context) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	c.cycleCount++
	defer logging.Timer(c.log, "cycle finished", "cycle", c.cycleCount)()

	measure := c.isMeasurementCycle()
	if measure && !c.bwInFlight.CompareAndSwap(false, true) {
		// A previous measurement is still draining; skip this window.
		measure = false
	}

	var (
		wg        sync.WaitGroup
		connRaw   string
		rankRaw   string
		bwRaw     string
		bwElapsed time.Duration
		bwStarted time.Time
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		connRaw = c.sampler.Connections(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rankRaw = c.sampler.ProcessRanking(ctx)
	}()

	if measure {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.bwInFlight.Store(false)
			bwStarted = time.Now()
			bwRaw, bwElapsed = c.sampler.Bandwidth(ctx)
		}()
	}

	// Join: classification for this cycle uses this cycle's own data.
	wg.Wait()

	if m := c.metrics; m != nil {
		if connRaw == "" {
			m.EmptyCapturesTotal.WithLabelValues("connections").Inc()
		}
		if rankRaw == "" {
			m.EmptyCapturesTotal.WithLabelValues("processes").Inc()
		}
		if measure && bwRaw == "" {
			m.EmptyCapturesTotal.WithLabelValues("bandwidth").Inc()
		}
	}

	conns := c.connParser.Parse(connRaw)
	ranking := c.procParser.Parse(rankRaw)

	// An empty capture means the tool failed; the previous window stays
	// current rather than being replaced by an empty one.
	var snapshot *models.BandwidthSnapshot
	if measure && bwRaw != "" {
		snapshot = c.bwParser.Parse(bwRaw, bwStarted, bwElapsed)
	}

	c.mu.Lock()

	// Non-measurement cycles reuse the previous window for merging.
	effective := snapshot
	if effective == nil {
		effective = c.current
	}

	newPIDs := make(map[int]struct{}, len(conns))
	var newAlerts []*models.Alert

	for _, conn := range conns {
		conn.Classification = c.rules.Classify(conn)
		attachBandwidth(conn, effective)
		newPIDs[conn.PID] = struct{}{}

		// Alerts fire only for identities absent from the previous
		// cycle, so a persisting connection alerts once.
		if _, seen := c.prevPIDs[conn.PID]; seen {
			continue
		}
		switch {
		case conn.Classification == models.ClassificationBlocked:
			c.log.Debug("blocked connection appeared",
				logging.Conn(conn.ProcessName, conn.PID, conn.RemoteAddress, conn.RemotePort, conn.Protocol))
			newAlerts = append(newAlerts, c.newConnectionAlert(models.AlertBlockedConnection, conn,
				fmt.Sprintf("%s connected to %s:%s despite a block rule", conn.ProcessName, conn.RemoteAddress, conn.RemotePort)))
		case conn.Classification == models.ClassificationNone && conn.Suspicious:
			c.log.Debug("suspicious connection appeared",
				logging.Conn(conn.ProcessName, conn.PID, conn.RemoteAddress, conn.RemotePort, conn.Protocol))
			newAlerts = append(newAlerts, c.newConnectionAlert(models.AlertSuspiciousConnection, conn,
				fmt.Sprintf("%s has a suspicious connection to %s:%s", conn.ProcessName, conn.RemoteAddress, conn.RemotePort)))
		}
	}
	c.prevPIDs = newPIDs
	c.connections = conns
	c.ranking = ranking

	if measure && snapshot != nil {
		c.log.Debug("bandwidth window completed",
			logging.Duration("window", snapshot.Duration),
			logging.Count("processes", int64(len(snapshot.Processes))),
		)
		c.current = snapshot
		c.history = append(c.history, snapshot)
		if len(c.history) > c.cfg.HistorySize {
			c.history = c.history[len(c.history)-c.cfg.HistorySize:]
		}
		c.accumulateSessionLocked(snapshot)
		newAlerts = append(newAlerts, c.evaluateBandwidthAlertsLocked(snapshot)...)
	}

	c.alerts = append(newAlerts, c.alerts...)
	if len(c.alerts) > c.cfg.AlertHistorySize {
		c.alerts = c.alerts[:c.cfg.AlertHistorySize]
	}

	totals := c.sessionTotalsLocked()
	c.mu.Unlock()

	if measure && snapshot != nil && c.metrics != nil {
		in, out := snapshot.TotalBytes()
		c.metrics.SessionBytesTotal.WithLabelValues("in").Add(float64(in))
		c.metrics.SessionBytesTotal.WithLabelValues("out").Add(float64(out))
	}

	c.publish(conns, snapshot, totals, newAlerts)
	c.bus.EmitCycleCompleted(c.cycleCount, len(conns))
	c.observeCycle(start, conns, measure)
}

// isMeasurementCycle implements the bandwidth throttle: at long
// refresh intervals every cycle measures; below the threshold only
// alternating cycles do, because the sampling tool needs wall-clock
// time between invocations to produce a meaningful delta.
func (c *Controller) isMeasurementCycle() bool {
	c.mu.RLock()
	interval := c.interval
	c.mu.RUnlock()

	if interval >= config.BandwidthEveryCycleAt {
		return true
	}
	return c.cycleCount%2 == 1
}

// attachBandwidth locates this process's bandwidth record, by pid
// first and process name second, and copies the window's byte counts
// onto the connection.
func attachBandwidth(conn *models.Connection, snapshot *models.BandwidthSnapshot) {
	if snapshot == nil {
		return
	}

	var byName *models.ProcessBandwidth
	for i := range snapshot.Processes {
		pb := &snapshot.Processes[i]
		if conn.PID != 0 && pb.PID == conn.PID {
			conn.BytesIn = pb.BytesIn
			conn.BytesOut = pb.BytesOut
			return
		}
		if byName == nil && pb.ProcessName == conn.ProcessName {
			byName = pb
		}
	}

	if byName != nil {
		conn.BytesIn = byName.BytesIn
		conn.BytesOut = byName.BytesOut
	}
}

// accumulateSessionLocked folds a completed measurement window into the
// session counters. Callers hold c.mu.
func (c *Controller) accumulateSessionLocked(snapshot *models.BandwidthSnapshot) {
	for i := range snapshot.Processes {
		pb := &snapshot.Processes[i]
		c.sessionIn += pb.BytesIn
		c.sessionOut += pb.BytesOut

		total, ok := c.perProcess[pb.ProcessName]
		if !ok {
			total = &models.ProcessTotal{ProcessName: pb.ProcessName}
			c.perProcess[pb.ProcessName] = total
		}
		total.BytesIn += pb.BytesIn
		total.BytesOut += pb.BytesOut
	}
}

// evaluateBandwidthAlertsLocked raises high-bandwidth alerts with
// hysteresis: a process alerts once when it crosses the threshold and
// re-arms only after a later window shows it at or under the threshold.
// Callers hold c.mu.
func (c *Controller) evaluateBandwidthAlertsLocked(snapshot *models.BandwidthSnapshot) []*models.Alert {
	usage := make(map[string]*models.ProcessBandwidth, len(snapshot.Processes))
	for i := range snapshot.Processes {
		pb := &snapshot.Processes[i]
		agg, ok := usage[pb.ProcessName]
		if !ok {
			agg = &models.ProcessBandwidth{ProcessName: pb.ProcessName, PID: pb.PID}
			usage[pb.ProcessName] = agg
		}
		agg.BytesIn += pb.BytesIn
		agg.BytesOut += pb.BytesOut
	}

	var alerts []*models.Alert
	for name, agg := range usage {
		if agg.TotalBytes() <= c.cfg.HighBandwidthThreshold {
			continue
		}
		if _, already := c.bwAlerted[name]; already {
			continue
		}
		c.bwAlerted[name] = struct{}{}
		c.log.Debug("bandwidth threshold crossed",
			logging.Bandwidth(name, agg.PID, agg.BytesIn, agg.BytesOut))
		alerts = append(alerts, &models.Alert{
			ID:          uuid.NewString(),
			Type:        models.AlertHighBandwidth,
			ProcessName: name,
			Reason:      fmt.Sprintf("%s moved %d bytes in one interval (threshold %d)", name, agg.TotalBytes(), c.cfg.HighBandwidthThreshold),
			Timestamp:   time.Now(),
		})
	}

	// Re-arm processes that dropped back at or under the threshold.
	// A process absent from the window counts as zero usage.
	for name := range c.bwAlerted {
		agg := usage[name]
		if agg == nil || agg.TotalBytes() <= c.cfg.HighBandwidthThreshold {
			delete(c.bwAlerted, name)
		}
	}

	return alerts
}

func (c *Controller) newConnectionAlert(t models.AlertType, conn *models.Connection, reason string) *models.Alert {
	return &models.Alert{
		ID:            uuid.NewString(),
		Type:          t,
		ProcessName:   conn.ProcessName,
		PID:           conn.PID,
		RemoteAddress: conn.RemoteAddress,
		Reason:        reason,
		Timestamp:     time.Now(),
	}
}

// publish emits the cycle's results on the event bus.
func (c *Controller) publish(conns []*models.Connection, snapshot *models.BandwidthSnapshot, totals *models.SessionTotals, alerts []*models.Alert) {
	c.bus.EmitConnections(conns)
	if snapshot != nil {
		c.bus.EmitBandwidthSnapshot(snapshot)
		c.bus.EmitSessionTotals(totals)
	}
	for _, alert := range alerts {
		c.log.Warn("alert raised",
			"type", string(alert.Type),
			"process", alert.ProcessName,
			"pid", alert.PID,
			"reason", alert.Reason,
		)
		if c.metrics != nil {
			c.metrics.AlertsTotal.WithLabelValues(string(alert.Type)).Inc()
		}
		c.bus.EmitAlert(alert)
	}
}

// observeCycle records metrics for a completed cycle.
func (c *Controller) observeCycle(start time.Time, conns []*models.Connection, measured bool) {
	m := c.metrics
	if m == nil {
		return
	}

	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(time.Since(start).Seconds())
	if measured {
		m.MeasurementsTotal.Inc()
	}

	var suspicious, blocked float64
	for _, conn := range conns {
		if conn.EffectivelySuspicious() {
			suspicious++
		}
		if conn.Classification == models.ClassificationBlocked {
			blocked++
		}
	}
	m.Connections.Set(float64(len(conns)))
	m.SuspiciousConnections.Set(suspicious)
	m.BlockedConnections.Set(blocked)

	if drops := c.connParser.DroppedLines(); drops > c.exportedConnDrops {
		m.DroppedLinesTotal.WithLabelValues("connections").Add(float64(drops - c.exportedConnDrops))
		c.exportedConnDrops = drops
	}
	if drops := c.bwParser.DroppedRows(); drops > c.exportedRowDrops {
		m.DroppedLinesTotal.WithLabelValues("bandwidth").Add(float64(drops - c.exportedRowDrops))
		c.exportedRowDrops = drops
	}

	allowed, blockedRules := c.rules.Counts()
	m.Rules.WithLabelValues("allowed").Set(float64(allowed))
	m.Rules.WithLabelValues("blocked").Set(float64(blockedRules))
}

// =============================================================================
// Accessors (copies of published state)
// =============================================================================

// Connections returns the most recent cycle's classified connections.
func (c *Controller) Connections() []*models.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Connection, len(c.connections))
	for i, conn := range c.connections {
		cp := *conn
		out[i] = &cp
	}
	return out
}

// CurrentSnapshot returns the most recent bandwidth window, or nil when
// none has completed yet.
func (c *Controller) CurrentSnapshot() *models.BandwidthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// History returns the rolling bandwidth snapshot history, oldest first.
func (c *Controller) History() []*models.BandwidthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.BandwidthSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ProcessRanking returns the most recent process/CPU ranking capture.
func (c *Controller) ProcessRanking() []models.ProcessCPUSample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ProcessCPUSample, len(c.ranking))
	copy(out, c.ranking)
	return out
}

// RecentAlerts returns raised alerts, most recent first, bounded by the
// configured history size.
func (c *Controller) RecentAlerts() []*models.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// SessionTotals returns cumulative counters since monitor start.
func (c *Controller) SessionTotals() *models.SessionTotals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionTotalsLocked()
}

func (c *Controller) sessionTotalsLocked() *models.SessionTotals {
	totals := &models.SessionTotals{
		BytesIn:    c.sessionIn,
		BytesOut:   c.sessionOut,
		PerProcess: make([]models.ProcessTotal, 0, len(c.perProcess)),
	}
	for _, pt := range c.perProcess {
		totals.PerProcess = append(totals.PerProcess, *pt)
	}
	sort.Slice(totals.PerProcess, func(i, j int) bool {
		return totals.PerProcess[i].TotalBytes() > totals.PerProcess[j].TotalBytes()
	})
	return totals
}

// TopConsumers returns the n process names with the highest cumulative
// session traffic.
func (c *Controller) TopConsumers(n int) []models.ProcessTotal {
	totals := c.SessionTotals()
	if n > len(totals.PerProcess) {
		n = len(totals.PerProcess)
	}
	return totals.PerProcess[:n]
}
