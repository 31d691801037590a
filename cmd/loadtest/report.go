package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const (
	scenarioStep = "scenario"

	metricStepCalls   = "loadtest_step_calls_total"
	metricStepLatency = "loadtest_step_latency_ms"
)

type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
	CollectError      string                `json:"collect_error,omitempty"`
}

// collector пишет каждый вызов в приватный реестр prometheus; отчёт собирается из его снимка.
type collector struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.SummaryVec
}

func newCollector() *collector {
	c := &collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricStepCalls,
			Help: "Load test calls by step, HTTP status and outcome.",
		}, []string{"step", "status", "outcome"}),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metricStepLatency,
			Help:       "Load test call latency in milliseconds.",
			Objectives: map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001},
			MaxAge:     24 * time.Hour,
		}, []string{"step"}),
	}
	c.registry.MustRegister(c.calls, c.latency)
	return c
}

// record учитывает вызов; status: HTTP-код или "error" для сетевой ошибки.
func (c *collector) record(step string, latency time.Duration, status string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "success"
	}
	c.calls.WithLabelValues(step, status, outcome).Inc()
	c.latency.WithLabelValues(step).Observe(float64(latency.Microseconds()) / 1000)
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           map[string]stepReport{},
	}

	families, err := c.registry.Gather()
	if err != nil {
		result.CollectError = err.Error()
	}

	steps := map[string]*stepReport{}
	step := func(name string) *stepReport {
		if steps[name] == nil {
			steps[name] = &stepReport{Statuses: map[string]int64{}}
		}
		return steps[name]
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := labelValues(metric.GetLabel())
			switch family.GetName() {
			case metricStepCalls:
				st, n := step(labels["step"]), int64(metric.GetCounter().GetValue())
				st.Calls += n
				st.Statuses[labels["status"]] += n
				if labels["outcome"] == "success" {
					st.Success += n
				} else {
					st.Failed += n
				}
			case metricStepLatency:
				step(labels["step"]).LatencyMs = summarize(metric.GetSummary())
			}
		}
	}

	for name, st := range steps {
		st.ErrorRate = share(st.Failed, st.Calls)
		result.Steps[name] = *st
	}
	if scenario, ok := steps[scenarioStep]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func labelValues(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		out[pair.GetName()] = pair.GetValue()
	}
	return out
}

func summarize(s *dto.Summary) latencySummary {
	var out latencySummary
	if s.GetSampleCount() == 0 {
		return out
	}
	out.Avg = s.GetSampleSum() / float64(s.GetSampleCount())
	for _, q := range s.GetQuantile() {
		v := q.GetValue()
		if math.IsNaN(v) {
			continue
		}
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = v
		case 0.95:
			out.P95 = v
		case 0.99:
			out.P99 = v
		}
	}
	return out
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	fmt.Fprintf(w, "Load test summary\nmode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Fprintf(w, "scenario latency ms: avg=%.2f p50=%.2f p95=%.2f p99=%.2f\n", lat.Avg, lat.P50, lat.P95, lat.P99)

	for _, name := range slices.Sorted(maps.Keys(result.Steps)) {
		if name == scenarioStep {
			continue
		}
		st := result.Steps[name]
		fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, st.Calls, st.Success, st.Failed, st.ErrorRate, st.LatencyMs.P95)
	}
	if result.CollectError != "" {
		fmt.Fprintf(w, "collect error: %s\n", result.CollectError)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

// writeJSONReport пишет отчёт только внутри рабочего каталога.
func writeJSONReport(path string, result report) error {
	root, err := os.OpenRoot(".")
	if err != nil {
		return err
	}
	defer func() { _ = root.Close() }()

	file, err := root.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("report %q must name a file inside the working directory: %w", path, err)
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
