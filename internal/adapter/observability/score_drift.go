package observability

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// Drift defaults applied by RecordResultScores.
const (
	DefaultDriftWindow    = 20
	DefaultDriftThreshold = 0.15
)

// OverallMetric names the overall score in drift tracking; dimensions use DimensionMetric.
const OverallMetric = "overall"

// DimensionMetric names one dimension score in drift tracking.
func DimensionMetric(dim string) string { return "dimension:" + dim }

// ScoreDriftMonitor tracks how the scores of one instrument version, scored
// by one engine version, move away from a baseline. The first full window
// becomes the baseline unless one was set explicitly; afterwards each full
// window is compared to it. Drift is |mean(window) - baseline| relative to
// max(|baseline|, 1).
type ScoreDriftMonitor struct {
	instrumentID      string
	instrumentVersion string
	engineVersion     string
	windowSize        int
	threshold         float64

	mu       sync.RWMutex
	baseline map[string]float64
	recent   map[string][]float64
}

// NewScoreDriftMonitor builds a monitor. A window below 1 is raised to 1.
func NewScoreDriftMonitor(instrumentID, instrumentVersion, engineVersion string, windowSize int, threshold float64) *ScoreDriftMonitor {
	if windowSize < 1 {
		windowSize = 1
	}
	return &ScoreDriftMonitor{
		instrumentID:      instrumentID,
		instrumentVersion: instrumentVersion,
		engineVersion:     engineVersion,
		windowSize:        windowSize,
		threshold:         threshold,
		baseline:          make(map[string]float64),
		recent:            make(map[string][]float64),
	}
}

// SetBaseline pins the reference mean of a metric.
func (m *ScoreDriftMonitor) SetBaseline(metric string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline[metric] = score
}

// RecordScore adds a score to the metric's sliding window and reports the
// drift once the window is full. drifted is true when it exceeds the threshold.
func (m *ScoreDriftMonitor) RecordScore(metric string, score float64) (drift float64, drifted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := append(m.recent[metric], score)
	if len(w) > m.windowSize {
		w = w[len(w)-m.windowSize:]
	}
	m.recent[metric] = w
	if len(w) < m.windowSize {
		return 0, false
	}
	if _, ok := m.baseline[metric]; !ok {
		m.baseline[metric] = mean(w)
		slog.Info("score baseline established",
			slog.String("instrument_id", m.instrumentID),
			slog.String("instrument_version", m.instrumentVersion),
			slog.String("metric", metric),
			slog.Float64("baseline", m.baseline[metric]))
		return 0, false
	}

	drift = m.driftLocked(metric)
	ScoreDriftGauge.WithLabelValues(m.instrumentID, m.instrumentVersion, m.engineVersion, metric).Set(drift)
	if drift > m.threshold {
		slog.Warn("score drift detected",
			slog.String("instrument_id", m.instrumentID),
			slog.String("instrument_version", m.instrumentVersion),
			slog.String("engine_version", m.engineVersion),
			slog.String("metric", metric),
			slog.Float64("drift", drift),
			slog.Float64("threshold", m.threshold))
		return drift, true
	}
	return drift, false
}

func (m *ScoreDriftMonitor) driftLocked(metric string) float64 {
	base, ok := m.baseline[metric]
	w := m.recent[metric]
	if !ok || len(w) == 0 {
		return 0
	}
	return math.Abs(mean(w)-base) / math.Max(math.Abs(base), 1)
}

// Drift returns the current relative drift of a metric, 0 without a baseline.
func (m *ScoreDriftMonitor) Drift(metric string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.driftLocked(metric)
}

// Baseline returns the metric's baseline, if established.
func (m *ScoreDriftMonitor) Baseline(metric string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baseline[metric]
	return b, ok
}

// RecentScores returns a copy of the metric's window.
func (m *ScoreDriftMonitor) RecentScores(metric string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.recent[metric]))
	copy(out, m.recent[metric])
	return out
}

// Metrics lists the tracked metric names in sorted order.
func (m *ScoreDriftMonitor) Metrics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.recent))
	for k := range m.recent {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// ScoreDriftManager keeps one monitor per (instrument, instrument version, engine version).
type ScoreDriftManager struct {
	windowSize int
	threshold  float64

	mu       sync.Mutex
	monitors map[string]*ScoreDriftMonitor
}

// NewScoreDriftManager builds a manager whose monitors share window and threshold.
func NewScoreDriftManager(windowSize int, threshold float64) *ScoreDriftManager {
	return &ScoreDriftManager{windowSize: windowSize, threshold: threshold, monitors: make(map[string]*ScoreDriftMonitor)}
}

// Monitor returns the monitor of a key, creating it on first use.
func (g *ScoreDriftManager) Monitor(instrumentID, instrumentVersion, engineVersion string) *ScoreDriftMonitor {
	key := fmt.Sprintf("%s@%s/engine-%s", instrumentID, instrumentVersion, engineVersion)
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.monitors[key]; ok {
		return m
	}
	m := NewScoreDriftMonitor(instrumentID, instrumentVersion, engineVersion, g.windowSize, g.threshold)
	g.monitors[key] = m
	return m
}

// Record feeds a result's overall score (when present) and every dimension score.
func (g *ScoreDriftManager) Record(instrumentID, instrumentVersion, engineVersion string, overall *float64, dims map[string]float64) {
	m := g.Monitor(instrumentID, instrumentVersion, engineVersion)
	if overall != nil {
		m.RecordScore(OverallMetric, *overall)
	}
	for dim, v := range dims {
		m.RecordScore(DimensionMetric(dim), v)
	}
}

var scoreDrift = NewScoreDriftManager(DefaultDriftWindow, DefaultDriftThreshold)

// ScoreDrift returns the process-wide drift manager.
func ScoreDrift() *ScoreDriftManager { return scoreDrift }

// RecordResultScores feeds a stored or regenerated result into the process-wide manager.
func RecordResultScores(instrumentID, instrumentVersion, engineVersion string, overall *float64, dims map[string]float64) {
	scoreDrift.Record(instrumentID, instrumentVersion, engineVersion, overall, dims)
}
