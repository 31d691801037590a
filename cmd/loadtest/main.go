// Команда loadtest нагружает HTTP API кофейни сценариями оформления:
// пополнение кошелька, добавление позиций в корзину, оформление и, при необходимости, отмена.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutCancel loadMode = "checkout-cancel"
	// modeContention гоняет все сценарии по небольшому пулу пользователей, чтобы
	// проверить конкурентные списания и повторы с тем же ключом идемпотентности.
	modeContention loadMode = "contention"
)

// errRejected: сервер вернул ожидаемый бизнес-отказ (402/409) в режиме contention.
var errRejected = errors.New("rejected")

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	users       int
	category    string
	menuItemID  string
	quantity    int
	topUpMinor  int64
	userTag     string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "cafe HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with -duration only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-cancel | contention")
	fs.IntVar(&cfg.users, "users", 5, "user pool size for contention mode")
	fs.StringVar(&cfg.category, "category", "coffee", "menu category of the ordered item")
	fs.StringVar(&cfg.menuItemID, "item", "latte", "menu item id")
	fs.IntVar(&cfg.quantity, "qty", 2, "quantity per scenario")
	fs.Int64Var(&cfg.topUpMinor, "top-up", 5000, "wallet top-up per scenario in minor units")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	switch loadMode(strings.TrimSpace(modeValue)) {
	case modeCheckout, modeCheckoutCancel, modeContention:
		cfg.mode = loadMode(strings.TrimSpace(modeValue))
	default:
		return cfg, fmt.Errorf("unsupported mode: %s", modeValue)
	}

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.mode == modeContention && cfg.users <= 0:
		return cfg, errors.New("users must be > 0 in contention mode")
	case cfg.quantity <= 0:
		return cfg, errors.New("qty must be > 0")
	case cfg.topUpMinor <= 0:
		return cfg, errors.New("top-up must be > 0")
	case strings.TrimSpace(cfg.menuItemID) == "" || strings.TrimSpace(cfg.category) == "":
		return cfg, errors.New("category and item are required")
	case strings.TrimSpace(cfg.userTag) == "":
		return cfg, errors.New("user-tag is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("invalid loadtest config")
	}

	result := runLoad(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).WithField("output", cfg.outputPath).Fatal("failed to write report")
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(ctx context.Context, cfg config, httpClient *http.Client) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	api := &apiClient{baseURL: cfg.baseURL, http: httpClient, col: col}

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.concurrency {
		g.Go(func() error {
			for index := range jobs {
				runScenario(gctx, api, cfg, runID, index)
			}
			return nil
		})
	}
	dispatchJobs(gctx, jobs, cfg)
	_ = g.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

func scenarioUser(cfg config, runID string, index int) string {
	if cfg.mode == modeContention {
		return fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index%cfg.users)
	}
	return fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
}

func runScenario(ctx context.Context, api *apiClient, cfg config, runID string, index int) {
	started := time.Now()
	err := scenario(ctx, api, cfg, runID, index)
	status := "ok"
	switch {
	case errors.Is(err, errRejected):
		status = "rejected"
		err = nil
	case err != nil:
		status = "failed"
	}
	api.col.record(scenarioStep, time.Since(started), status, err == nil)
}

func scenario(ctx context.Context, api *apiClient, cfg config, runID string, index int) error {
	user := scenarioUser(cfg, runID, index)

	if _, err := api.call(ctx, "TopUp", user, http.MethodPost, "/v1/wallet/top-up",
		map[string]any{"amount_minor": cfg.topUpMinor}, nil, http.StatusOK); err != nil {
		return err
	}
	if _, err := api.call(ctx, "AddItem", user, http.MethodPost, "/v1/cart/items", map[string]any{
		"category":     cfg.category,
		"menu_item_id": cfg.menuItemID,
		"quantity":     cfg.quantity,
	}, nil, http.StatusCreated); err != nil {
		return err
	}

	key := fmt.Sprintf("lt-%s-%d", runID, index)
	body := map[string]any{"order_type": "pick_up", "payment_method": "Wallet"}
	headers := map[string]string{"Idempotency-Key": key}
	expected := []int{http.StatusCreated}
	if cfg.mode == modeContention {
		// Корзину пользователя одновременно оформляют несколько воркеров.
		expected = append(expected, http.StatusBadRequest, http.StatusPaymentRequired, http.StatusConflict)
	}

	resp, err := api.call(ctx, "Checkout", user, http.MethodPost, "/v1/checkout", body, headers, expected...)
	if err != nil {
		return err
	}
	if resp.status != http.StatusCreated {
		return errRejected
	}

	var result struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(resp.body, &result); err != nil || result.OrderID == "" {
		return fmt.Errorf("checkout response without order id: %s", resp.body)
	}

	if cfg.mode == modeContention {
		replay, err := api.call(ctx, "CheckoutReplay", user, http.MethodPost, "/v1/checkout", body, headers, http.StatusCreated)
		if err != nil {
			return err
		}
		if replay.header.Get("Idempotent-Replayed") != "true" {
			return errors.New("replayed checkout is not marked as replay")
		}
	}

	if cfg.mode == modeCheckoutCancel {
		if _, err := api.call(ctx, "CancelOrder", user, http.MethodPost, "/v1/orders/"+result.OrderID+"/cancel", nil, nil, http.StatusOK); err != nil {
			return err
		}
	}
	return nil
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

type apiClient struct {
	baseURL string
	http    *http.Client
	col     *collector
}

func (c *apiClient) call(
	ctx context.Context,
	step, user, method, path string,
	payload any,
	headers map[string]string,
	expected ...int,
) (apiResponse, error) {
	started := time.Now()
	resp, err := c.do(ctx, user, method, path, payload, headers)
	if err != nil {
		c.col.record(step, time.Since(started), "error", false)
		return resp, fmt.Errorf("%s: %w", step, err)
	}

	ok := false
	for _, code := range expected {
		if resp.status == code {
			ok = true
			break
		}
	}
	c.col.record(step, time.Since(started), strconv.Itoa(resp.status), ok)
	if !ok {
		return resp, fmt.Errorf("%s: unexpected status %d: %s", step, resp.status, bytes.TrimSpace(resp.body))
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, user, method, path string, payload any, headers map[string]string) (apiResponse, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apiResponse{}, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("X-User-ID", user)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, err
	}
	return apiResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}
