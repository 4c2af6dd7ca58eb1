package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/campusmarket/internal/domain"
	"github.com/vladislavdragonenkov/campusmarket/internal/transport/httpapi"
)

type loadMode string

const (
	modeReserve         loadMode = "reserve"
	modeReserveComplete loadMode = "reserve-complete"
	modeReserveCancel   loadMode = "reserve-cancel"
)

const tokenTTL = time.Hour

type config struct {
	baseURL     string
	listings    int
	buyers      int
	concurrency int
	timeout     time.Duration
	mode        loadMode
	secret      string
	devHeaders  bool
	tag         string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Listings        int64                   `json:"listings"`
	Winners         int64                   `json:"winners"`
	Conflicts       int64                   `json:"conflicts"`
	Unexpected      int64                   `json:"unexpected"`
	Violations      []string                `json:"violations,omitempty"`
	RPS             float64                 `json:"rps"`
	Methods         map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector копит статистику вызовов и итог гонок по объявлениям.
type collector struct {
	mu         sync.Mutex
	methods    map[string]*methodStats
	listings   int64
	winners    int64
	conflicts  int64
	unexpected int64
	violations []string
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, statusCode int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if success {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(statusCode)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordRace(listingID string, winners, conflicts, unexpected int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listings++
	c.winners += int64(winners)
	c.conflicts += int64(conflicts)
	c.unexpected += int64(unexpected)
	if winners != 1 {
		c.violations = append(c.violations, fmt.Sprintf("listing %s: %d winners", listingID, winners))
	}
}

func (c *collector) violation(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Listings:        c.listings,
		Winners:         c.winners,
		Conflicts:       c.conflicts,
		Unexpected:      c.unexpected,
		Violations:      append([]string(nil), c.violations...),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	sort.Strings(result.Violations)

	var calls int64
	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
		calls += stats.calls
	}
	if duration > 0 {
		result.RPS = float64(calls) / duration.Seconds()
	}

	return result
}

func (r report) failed() bool {
	return len(r.Violations) > 0 || r.Unexpected > 0
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "marketplace HTTP base URL")
	fs.IntVar(&cfg.listings, "listings", 50, "number of listings to race for")
	fs.IntVar(&cfg.buyers, "buyers", 10, "concurrent buyers per listing")
	fs.IntVar(&cfg.concurrency, "concurrency", 4, "listings raced in parallel")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeReserve), "load mode: reserve | reserve-complete | reserve-cancel")
	fs.StringVar(&cfg.secret, "secret", "", "JWT secret (fallback: CAMPUSMARKET_JWT_SECRET)")
	fs.BoolVar(&cfg.devHeaders, "dev-headers", false, "send X-Actor-* headers instead of tokens (server must run with auth disabled)")
	fs.StringVar(&cfg.tag, "tag", "load", "actor id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if strings.TrimSpace(cfg.secret) == "" {
		cfg.secret = strings.TrimSpace(getenv("CAMPUSMARKET_JWT_SECRET"))
	}

	if cfg.baseURL == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.listings <= 0 {
		return cfg, errors.New("listings must be > 0")
	}
	if cfg.buyers < 2 {
		return cfg, errors.New("buyers must be >= 2 to produce a race")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if !cfg.devHeaders && cfg.secret == "" {
		return cfg, errors.New("secret is required unless -dev-headers is set")
	}
	if strings.TrimSpace(cfg.tag) == "" {
		return cfg, errors.New("tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeReserve:
		return modeReserve, nil
	case modeReserveComplete:
		return modeReserveComplete, nil
	case modeReserveCancel:
		return modeReserveCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// client: тонкая HTTP-обёртка над REST API маркетплейса.
type client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	secret     []byte
	devHeaders bool
	col        *collector

	mu     sync.Mutex
	tokens map[string]string
}

func newClient(cfg config, col *collector) *client {
	return &client{
		baseURL:    cfg.baseURL,
		http:       &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: cfg.buyers * cfg.concurrency}},
		timeout:    cfg.timeout,
		secret:     []byte(cfg.secret),
		devHeaders: cfg.devHeaders,
		col:        col,
		tokens:     make(map[string]string),
	}
}

func (c *client) authorize(req *http.Request, actorID string) error {
	if c.devHeaders {
		req.Header.Set(httpapi.HeaderActorID, actorID)
		req.Header.Set(httpapi.HeaderActorVerified, "true")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[actorID]
	if !ok {
		var err error
		token, err = httpapi.SignToken(c.secret, domain.Actor{ID: actorID, Role: domain.RoleUser, Verified: true}, tokenTTL)
		if err != nil {
			return err
		}
		c.tokens[actorID] = token
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// call выполняет запрос и декодирует JSON-ответ в out при 2xx.
func (c *client) call(method, name, path, actorID, idemKey string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, idemKey)
	}
	if err := c.authorize(req, actorID); err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(name, time.Since(start), 0, false)
		return 0, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	c.col.record(name, time.Since(start), resp.StatusCode, resp.StatusCode < 300)
	if readErr != nil {
		return resp.StatusCode, readErr
	}
	if resp.StatusCode < 300 && out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", name, err)
		}
	}
	return resp.StatusCode, nil
}

type idResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// runRace создаёт объявление и одновременно пытается зарезервировать его всеми покупателями.
func runRace(c *client, cfg config, runID string, index int) error {
	seller := fmt.Sprintf("%s-seller-%s-%d", cfg.tag, runID, index)

	var listing idResponse
	code, err := c.call(http.MethodPost, "CreateListing", "/api/listings", seller, "", map[string]any{
		"title":    fmt.Sprintf("Load listing %d", index),
		"category": "load",
		"price":    "10.00",
	}, &listing)
	if err != nil {
		return err
	}
	if code != http.StatusCreated || listing.ID == "" {
		return fmt.Errorf("create listing returned %d", code)
	}

	type outcome struct {
		buyer string
		code  int
		tx    idResponse
		err   error
	}
	results := make([]outcome, cfg.buyers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < cfg.buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := fmt.Sprintf("%s-buyer-%s-%d-%d", cfg.tag, runID, index, i)
			<-start
			var tx idResponse
			code, err := c.call(http.MethodPost, "Reserve", "/api/listings/"+listing.ID+"/reserve", buyer,
				fmt.Sprintf("lt-%s-%d-%d", runID, index, i), map[string]string{}, &tx)
			results[i] = outcome{buyer: buyer, code: code, tx: tx, err: err}
		}(i)
	}
	close(start)
	wg.Wait()

	var winner *outcome
	winners, conflicts, unexpected := 0, 0, 0
	for i := range results {
		switch {
		case results[i].err == nil && results[i].code == http.StatusCreated:
			winners++
			winner = &results[i]
		case results[i].err == nil && results[i].code == http.StatusConflict:
			conflicts++
		default:
			unexpected++
		}
	}
	c.col.recordRace(listing.ID, winners, conflicts, unexpected)
	if winners != 1 {
		return nil
	}

	switch cfg.mode {
	case modeReserveComplete:
		// Продавец подтверждает сделку через /status, маршрут /complete только для покупателя.
		code, err := c.call(http.MethodPut, "Complete", "/api/transactions/"+winner.tx.ID+"/status", seller, "",
			map[string]string{"status": string(domain.TransactionStatusCompleted)}, nil)
		if err != nil || code != http.StatusOK {
			c.col.violation("listing %s: complete returned %d (%v)", listing.ID, code, err)
			return nil
		}
		return c.expectListingStatus(listing.ID, seller, string(domain.ListingStatusSold))
	case modeReserveCancel:
		code, err := c.call(http.MethodPut, "Cancel", "/api/transactions/"+winner.tx.ID+"/cancel", winner.buyer, "",
			map[string]string{"reason": "load-cancel"}, nil)
		if err != nil || code != http.StatusOK {
			c.col.violation("listing %s: cancel returned %d (%v)", listing.ID, code, err)
			return nil
		}
		return c.expectListingStatus(listing.ID, seller, string(domain.ListingStatusAvailable))
	default:
		return c.expectListingStatus(listing.ID, seller, string(domain.ListingStatusReserved))
	}
}

func (c *client) expectListingStatus(listingID, actorID, want string) error {
	var got idResponse
	code, err := c.call(http.MethodGet, "GetListing", "/api/listings/"+listingID, actorID, "", nil, &got)
	if err != nil {
		return err
	}
	if code != http.StatusOK || got.Status != want {
		c.col.violation("listing %s: status %q, want %q", listingID, got.Status, want)
	}
	return nil
}

func run(cfg config) report {
	col := newCollector()
	c := newClient(cfg, col)

	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				if err := runRace(c, cfg, runID, index); err != nil {
					col.violation("listing #%d: %v", index, err)
				}
			}
		}()
	}
	for i := 0; i < cfg.listings; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	result := run(cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.failed() {
		os.Exit(1)
	}
}

func codeLabel(statusCode int) string {
	if statusCode == 0 {
		return "transport_error"
	}
	return strconv.Itoa(statusCode)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s listings=%d buyers=%d winners=%d conflicts=%d unexpected=%d\n",
		cfg.mode,
		result.Listings,
		cfg.buyers,
		result.Winners,
		result.Conflicts,
		result.Unexpected,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.LatencyMs.P50,
			stats.LatencyMs.P95,
			stats.LatencyMs.P99,
		)
	}
	for _, v := range result.Violations {
		_, _ = fmt.Fprintf(out, "VIOLATION: %s\n", v)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
