package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/constripacity/SentryBar/internal/config"
	"github.com/constripacity/SentryBar/internal/events"
	"github.com/constripacity/SentryBar/internal/metrics"
	"github.com/constripacity/SentryBar/internal/models"
	"github.com/constripacity/SentryBar/internal/rules"
)

// fakeSampler feeds canned tool output into the controller. Fields are
// swapped between cycles; RunOnce joins its fetch goroutines before
// returning, so no synchronization is needed.
type fakeSampler struct {
	conns     string
	bandwidth string
	elapsed   time.Duration
	ranking   string
}

func (f *fakeSampler) Connections(ctx context.Context) string { return f.conns }

func (f *fakeSampler) Bandwidth(ctx context.Context) (string, time.Duration) {
	return f.bandwidth, f.elapsed
}

func (f *fakeSampler) ProcessRanking(ctx context.Context) string { return f.ranking }

func connLine(name, pid, remote, state string) string {
	return name + " " + pid + " alice 7u IPv4 0xabc 0t0 TCP 10.0.0.5:50000->" + remote + " " + state + "\n"
}

type harness struct {
	controller *Controller
	sampler    *fakeSampler
	engine     *rules.Engine
	alerts     *[]*models.Alert
}

func newHarness(t *testing.T, cfg config.MonitorConfig) *harness {
	t.Helper()

	engine := rules.NewEngine(rules.NewStore(filepath.Join(t.TempDir(), "rules.json")))
	bus := events.NewBus(&events.BusConfig{EnableBatching: false})

	var alerts []*models.Alert
	bus.Subscribe(events.EventAlertRaised, func(event *events.Event) {
		alerts = append(alerts, event.Data.(*models.Alert))
	})

	sampler := &fakeSampler{elapsed: time.Second}
	return &harness{
		controller: New(cfg, sampler, engine, bus, metrics.New()),
		sampler:    sampler,
		engine:     engine,
		alerts:     &alerts,
	}
}

// everyCycleCfg measures bandwidth every cycle and keeps the alert
// threshold out of the way unless a test lowers it.
func everyCycleCfg() config.MonitorConfig {
	return config.MonitorConfig{
		RefreshInterval:        10 * time.Second,
		HighBandwidthThreshold: 1 << 40,
		HistorySize:            10,
		AlertHistorySize:       50,
	}
}

func TestBlockedAlertFiresOncePerPID(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	h.engine.BlockProcess("evilapp", "")
	ctx := context.Background()

	h.sampler.conns = connLine("evilapp", "4242", "203.0.113.7:443", "(ESTABLISHED)")
	h.controller.RunOnce(ctx)
	h.controller.RunOnce(ctx)

	if got := len(*h.alerts); got != 1 {
		t.Fatalf("persisting blocked connection must alert once, got %d alerts", got)
	}
	alert := (*h.alerts)[0]
	if alert.Type != models.AlertBlockedConnection || alert.PID != 4242 {
		t.Errorf("unexpected alert %+v", alert)
	}

	// A new pid is a new identity and alerts again.
	h.sampler.conns = connLine("evilapp", "4243", "203.0.113.7:443", "(ESTABLISHED)")
	h.controller.RunOnce(ctx)

	if got := len(*h.alerts); got != 2 {
		t.Errorf("new pid must raise a fresh alert, got %d alerts", got)
	}
}

func TestSuspiciousAlertAndAllowOverride(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	ctx := context.Background()

	h.sampler.conns = connLine("weirdproc", "900", "198.51.100.9:55555", "(SYN_SENT)")
	h.controller.RunOnce(ctx)

	if got := len(*h.alerts); got != 1 {
		t.Fatalf("unknown process on high port must alert, got %d", got)
	}
	if (*h.alerts)[0].Type != models.AlertSuspiciousConnection {
		t.Errorf("expected suspicious alert, got %q", (*h.alerts)[0].Type)
	}

	// An allowed classification silences the heuristic on later sightings.
	h2 := newHarness(t, everyCycleCfg())
	h2.engine.AllowProcess("weirdproc", "")
	h2.sampler.conns = connLine("weirdproc", "900", "198.51.100.9:55555", "(SYN_SENT)")
	h2.controller.RunOnce(ctx)

	if got := len(*h2.alerts); got != 0 {
		t.Errorf("allowed process must not raise suspicious alerts, got %d", got)
	}
	conns := h2.controller.Connections()
	if len(conns) != 1 || conns[0].EffectivelySuspicious() {
		t.Error("allow rule must override the heuristic verdict")
	}
}

func TestHighBandwidthHysteresis(t *testing.T) {
	cfg := everyCycleCfg()
	cfg.HighBandwidthThreshold = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()

	over := "time,bytes_in,bytes_out\nhog.111,900,200\n"
	stillOver := "time,bytes_in,bytes_out\nhog.111,3000,0\n"
	under := "time,bytes_in,bytes_out\nhog.111,100,50\n"

	h.sampler.bandwidth = over
	h.controller.RunOnce(ctx)
	if got := len(*h.alerts); got != 1 {
		t.Fatalf("crossing the threshold must alert, got %d", got)
	}

	h.sampler.bandwidth = stillOver
	h.controller.RunOnce(ctx)
	if got := len(*h.alerts); got != 1 {
		t.Fatalf("staying over the threshold must not re-alert, got %d", got)
	}

	h.sampler.bandwidth = under
	h.controller.RunOnce(ctx)
	if got := len(*h.alerts); got != 1 {
		t.Fatalf("dropping under the threshold must not alert, got %d", got)
	}

	h.sampler.bandwidth = over
	h.controller.RunOnce(ctx)
	if got := len(*h.alerts); got != 2 {
		t.Errorf("rising again after a dip must alert a second time, got %d", got)
	}
	if (*h.alerts)[1].Type != models.AlertHighBandwidth {
		t.Errorf("expected high-bandwidth alert, got %q", (*h.alerts)[1].Type)
	}
}

func TestHighBandwidthRearmsWhenProcessDisappears(t *testing.T) {
	cfg := everyCycleCfg()
	cfg.HighBandwidthThreshold = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()

	over := "time,bytes_in,bytes_out\nhog.111,2000,0\n"

	h.sampler.bandwidth = over
	h.controller.RunOnce(ctx)

	// The process vanishes for a window; absence counts as zero usage.
	h.sampler.bandwidth = "time,bytes_in,bytes_out\nother.5,10,10\n"
	h.controller.RunOnce(ctx)

	h.sampler.bandwidth = over
	h.controller.RunOnce(ctx)

	if got := len(*h.alerts); got != 2 {
		t.Errorf("disappearing then returning over threshold must alert twice, got %d", got)
	}
}

func TestBandwidthAttachmentByPIDThenName(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	ctx := context.Background()

	h.sampler.conns = connLine("Safari", "1234", "93.184.216.34:443", "(ESTABLISHED)") +
		connLine("Brave\\x20Browser", "999", "151.101.1.69:443", "(ESTABLISHED)")
	h.sampler.bandwidth = "time,bytes_in,bytes_out\n" +
		"Safari.1234,5000,2000\n" +
		"Safari.1299,700,300\n" +
		"Brave Browser,40,10\n"
	h.controller.RunOnce(ctx)

	conns := h.controller.Connections()
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	// Safari rows aggregate by name; the pid matches the merged record.
	if conns[0].BytesIn != 5700 || conns[0].BytesOut != 2300 {
		t.Errorf("pid-matched bytes = %d/%d; want 5700/2300", conns[0].BytesIn, conns[0].BytesOut)
	}

	// The bandwidth row for Brave carries no pid; the name matches.
	if conns[1].BytesIn != 40 || conns[1].BytesOut != 10 {
		t.Errorf("name-matched bytes = %d/%d; want 40/10", conns[1].BytesIn, conns[1].BytesOut)
	}
}

func TestBandwidthThrottleAtShortInterval(t *testing.T) {
	cfg := everyCycleCfg()
	cfg.RefreshInterval = 5 * time.Second
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.sampler.conns = connLine("Safari", "1234", "93.184.216.34:443", "(ESTABLISHED)")
	h.sampler.bandwidth = "time,bytes_in,bytes_out\nSafari.1234,5000,2000\n"

	h.controller.RunOnce(ctx) // cycle 1: measures
	h.controller.RunOnce(ctx) // cycle 2: skips measurement

	if got := len(h.controller.History()); got != 1 {
		t.Errorf("short intervals must measure on alternating cycles, got %d windows", got)
	}

	// The skipped cycle still merges against the previous window.
	conns := h.controller.Connections()
	if len(conns) != 1 || conns[0].BytesIn != 5000 {
		t.Errorf("non-measurement cycle must reuse the previous window, got %+v", conns)
	}

	h.controller.RunOnce(ctx) // cycle 3: measures again
	if got := len(h.controller.History()); got != 2 {
		t.Errorf("expected 2 windows after 3 cycles, got %d", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	cfg := everyCycleCfg()
	cfg.HistorySize = 3
	h := newHarness(t, cfg)
	ctx := context.Background()

	h.sampler.bandwidth = "time,bytes_in,bytes_out\nproc.1,10,10\n"
	for i := 0; i < 5; i++ {
		h.controller.RunOnce(ctx)
	}

	if got := len(h.controller.History()); got != 3 {
		t.Errorf("history must be bounded to 3, got %d", got)
	}
}

func TestSessionTotalsAccumulate(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	ctx := context.Background()

	h.sampler.bandwidth = "time,bytes_in,bytes_out\nhog.1,600,400\nquiet.2,10,5\n"
	h.controller.RunOnce(ctx)
	h.controller.RunOnce(ctx)

	totals := h.controller.SessionTotals()
	if totals.BytesIn != 1220 || totals.BytesOut != 810 {
		t.Errorf("session totals = %d/%d; want 1220/810", totals.BytesIn, totals.BytesOut)
	}

	top := h.controller.TopConsumers(1)
	if len(top) != 1 || top[0].ProcessName != "hog" {
		t.Fatalf("expected 'hog' as top consumer, got %+v", top)
	}
	if top[0].TotalBytes() != 2000 {
		t.Errorf("top consumer total = %d, want 2000", top[0].TotalBytes())
	}
}

func TestEmptyCaptureKeepsPreviousWindow(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	ctx := context.Background()

	h.sampler.conns = connLine("Safari", "1234", "93.184.216.34:443", "(ESTABLISHED)")
	h.sampler.bandwidth = "time,bytes_in,bytes_out\nSafari.1234,100,50\n"
	h.controller.RunOnce(ctx)

	// Tool failure: empty capture parses to an empty window, but the
	// previous snapshot remains the current one for accessors.
	h.sampler.bandwidth = ""
	h.controller.RunOnce(ctx)

	current := h.controller.CurrentSnapshot()
	if current == nil {
		t.Fatal("current snapshot must survive an empty capture cycle")
	}
}

func TestCycleCompletedEventPerCycle(t *testing.T) {
	engine := rules.NewEngine(rules.NewStore(filepath.Join(t.TempDir(), "rules.json")))
	bus := events.NewBus(&events.BusConfig{EnableBatching: false})

	var completed []map[string]uint64
	bus.Subscribe(events.EventCycleCompleted, func(event *events.Event) {
		completed = append(completed, event.Data.(map[string]uint64))
	})

	sampler := &fakeSampler{
		conns:   connLine("Safari", "1234", "93.184.216.34:443", "(ESTABLISHED)"),
		elapsed: time.Second,
	}
	controller := New(everyCycleCfg(), sampler, engine, bus, metrics.New())

	ctx := context.Background()
	controller.RunOnce(ctx)
	controller.RunOnce(ctx)

	if len(completed) != 2 {
		t.Fatalf("expected one completion event per cycle, got %d", len(completed))
	}
	if completed[0]["cycle"] != 1 || completed[1]["cycle"] != 2 {
		t.Errorf("cycle ordinals = %d,%d; want 1,2", completed[0]["cycle"], completed[1]["cycle"])
	}
	if completed[1]["connections"] != 1 {
		t.Errorf("connection count = %d, want 1", completed[1]["connections"])
	}
}

func TestSetRefreshIntervalClampsToFloor(t *testing.T) {
	h := newHarness(t, everyCycleCfg())
	h.controller.SetRefreshInterval(time.Second)

	h.controller.mu.RLock()
	got := h.controller.interval
	h.controller.mu.RUnlock()

	if got != config.MinRefreshInterval {
		t.Errorf("interval = %v, want floor %v", got, config.MinRefreshInterval)
	}
}
