package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/app"
	"github.com/vladislavdragonenkov/cafe/internal/httpapi"
)

func newCafeServer(t *testing.T) *httptest.Server {
	t.Helper()

	deps, err := app.NewDependencies(context.Background(), app.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	server := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Carts:    deps.Sessions,
		Checkout: deps.Coordinator,
		Wallet:   deps.Ledger,
		Orders:   deps.Orders,
		Menu:     deps.Catalog,
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(url string, mode loadMode) config {
	return config{
		baseURL:     url,
		total:       20,
		concurrency: 4,
		timeout:     5 * time.Second,
		mode:        mode,
		users:       2,
		category:    "coffee",
		menuItemID:  "latte",
		quantity:    2,
		topUpMinor:  5000,
		userTag:     "lt",
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.baseURL)
	assert.Equal(t, modeCheckout, cfg.mode)
	assert.Equal(t, 400, cfg.total)
	assert.False(t, cfg.totalSet)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseConfig([]string{"-url=http://cafe:8080/", "-mode=contention", "-users=3", "-duration=1m", "-total=50"})
	require.NoError(t, err)

	assert.Equal(t, "http://cafe:8080", cfg.baseURL)
	assert.Equal(t, modeContention, cfg.mode)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, "duration:1m0s,max-total:50", runTarget(cfg))
}

func TestParseConfig_Errors(t *testing.T) {
	cases := map[string][]string{
		"mode":        {"-mode=stampede"},
		"concurrency": {"-concurrency=0"},
		"total":       {"-total=0"},
		"users":       {"-mode=contention", "-users=0"},
		"qty":         {"-qty=0"},
		"top-up":      {"-top-up=0"},
		"item":        {"-item="},
		"duration":    {"-duration=-1s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfig(args)
			assert.Error(t, err)
		})
	}
}

func TestRunLoad_CheckoutModes(t *testing.T) {
	server := newCafeServer(t)

	for _, mode := range []loadMode{modeCheckout, modeCheckoutCancel, modeContention} {
		t.Run(string(mode), func(t *testing.T) {
			result := runLoad(context.Background(), testConfig(server.URL, mode), server.Client())

			assert.Equal(t, int64(20), result.TotalScenarios)
			assert.Zero(t, result.FailedScenarios, "steps: %+v", result.Steps)
			assert.Equal(t, int64(20), result.Steps["TopUp"].Calls)
			assert.Equal(t, int64(20), result.Steps["AddItem"].Success)
			if mode == modeCheckoutCancel {
				assert.Equal(t, int64(20), result.Steps["CancelOrder"].Success)
			}
		})
	}
}

func TestRunLoad_ReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, modeCheckout)
	cfg.total = 5
	result := runLoad(context.Background(), cfg, server.Client())

	assert.Equal(t, int64(5), result.FailedScenarios)
	assert.Equal(t, int64(5), result.Steps["TopUp"].Statuses["503"])
	assert.InDelta(t, 1.0, result.ErrorRate, 0.0001)

	var out bytes.Buffer
	printReport(&out, result, cfg)
	assert.Contains(t, out.String(), "TopUp: calls=5")
}

func TestScenarioUser(t *testing.T) {
	cfg := testConfig("http://x", modeContention)
	assert.Equal(t, scenarioUser(cfg, "r", 1), scenarioUser(cfg, "r", 3))

	cfg.mode = modeCheckout
	assert.NotEqual(t, scenarioUser(cfg, "r", 1), scenarioUser(cfg, "r", 3))
}

func TestDispatchJobs_DurationStops(t *testing.T) {
	cfg := config{duration: 30 * time.Millisecond}
	jobs := make(chan int)
	done := make(chan struct{})
	go func() {
		dispatchJobs(context.Background(), jobs, cfg)
		close(done)
	}()

	count := 0
	for range jobs {
		count++
	}
	<-done
	assert.Positive(t, count)
}

func TestCollector_BuildReport(t *testing.T) {
	col := newCollector()
	for i, status := range []string{"201", "201", "402", "201"} {
		col.record("Checkout", time.Duration(i+1)*time.Millisecond, status, status == "201")
	}
	col.record(scenarioStep, 10*time.Millisecond, "ok", true)
	col.record(scenarioStep, 30*time.Millisecond, "failed", false)

	result := col.buildReport(time.Now(), 2*time.Second)
	require.Empty(t, result.CollectError)

	checkout := result.Steps["Checkout"]
	assert.Equal(t, int64(4), checkout.Calls)
	assert.Equal(t, int64(3), checkout.Success)
	assert.Equal(t, int64(1), checkout.Failed)
	assert.Equal(t, map[string]int64{"201": 3, "402": 1}, checkout.Statuses)
	assert.InDelta(t, 0.25, checkout.ErrorRate, 0.0001)
	assert.InDelta(t, 2.5, checkout.LatencyMs.Avg, 0.0001)
	assert.GreaterOrEqual(t, checkout.LatencyMs.P99, checkout.LatencyMs.P50)
	assert.LessOrEqual(t, checkout.LatencyMs.P99, 4.0)

	assert.Equal(t, int64(2), result.TotalScenarios)
	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.InDelta(t, 1.0, result.RPS, 0.0001)
	assert.InDelta(t, 20.0, result.ScenarioLatencyMs.Avg, 0.0001)
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	result := report{TotalScenarios: 3, Steps: map[string]stepReport{"Checkout": {Calls: 3}}}
	require.NoError(t, writeJSONReport("report.json", result))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(3), decoded.TotalScenarios)

	err = writeJSONReport("../escape.json", result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inside the working directory")
	assert.Error(t, writeJSONReport(".", result))
}
