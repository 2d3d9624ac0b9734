// Package analysis talks to the external analysis backend that produces
// report payloads.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/metrics"
	"github.com/bobmcallan/quant-portal/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// TimestampLayout matches JavaScript's Date.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrEmptySymbol = errors.New("symbol is required")
	ErrCircuitOpen = errors.New("analysis backend unavailable (circuit open)")
	ErrRateLimited = errors.New("analysis rate limit exceeded")
)

// BackendError is a failure reported by the analysis backend itself.
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("analysis backend returned %d: %s", e.StatusCode, e.Message)
}

// Result is a completed analysis ready to be recorded.
type Result struct {
	Symbol    string
	Timestamp string
	Payload   models.AnalysisData
}

// Observer receives request outcomes and breaker transitions.
type Observer interface {
	AnalysisFinished(outcome string, elapsed time.Duration)
	BreakerStateChanged(state int)
}

type noopObserver struct{}

func (noopObserver) AnalysisFinished(string, time.Duration) {}
func (noopObserver) BreakerStateChanged(int)                {}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerMinute caps outbound requests; zero disables the limit.
	RequestsPerMinute int
	// BreakerFailures is the number of consecutive failures that opens the
	// breaker. Zero disables tripping.
	BreakerFailures int
	BreakerCooldown time.Duration
	Observer        Observer
	// Now stamps results. Defaults to time.Now.
	Now func() time.Time
}

// Client posts analysis requests through a rate limiter and circuit breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *common.Logger
	obs     Observer
	now     func() time.Time
}

// NewClient creates a client for the backend at opts.BaseURL.
func NewClient(logger *common.Logger, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetHeader("Content-Type", "application/json")

	c := &Client{
		http:   httpClient,
		logger: logger,
		obs:    opts.Observer,
		now:    opts.Now,
	}

	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute)
	}

	failures := uint32(opts.BreakerFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "analysis",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// The backend rejecting a symbol says nothing about its health.
			var be *BackendError
			if errors.As(err, &be) && be.StatusCode < http.StatusInternalServerError {
				return true
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("analysis circuit breaker state changed")
			c.obs.BreakerStateChanged(int(to))
		},
	})

	return c
}

type analyzeResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Analyze requests an analysis of symbol. On success the backend's data
// object is returned verbatim, stamped with the arrival time.
func (c *Client) Analyze(ctx context.Context, symbol string) (Result, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		c.obs.AnalysisFinished(metrics.OutcomeInvalid, 0)
		return Result{}, ErrEmptySymbol
	}

	if c.limiter != nil && !c.limiter.Allow() {
		c.obs.AnalysisFinished(metrics.OutcomeRateLimited, 0)
		return Result{}, ErrRateLimited
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, symbol)
	})
	elapsed := time.Since(start)

	if err != nil {
		var be *BackendError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			c.obs.AnalysisFinished(metrics.OutcomeCircuitOpen, elapsed)
			return Result{}, ErrCircuitOpen
		case errors.As(err, &be):
			c.obs.AnalysisFinished(metrics.OutcomeBackendError, elapsed)
		default:
			c.obs.AnalysisFinished(metrics.OutcomeTransport, elapsed)
		}
		c.logger.Warn().
			Str("symbol", symbol).
			Str("error", err.Error()).
			Dur("elapsed", elapsed).
			Msg("analysis request failed")
		return Result{}, err
	}

	c.obs.AnalysisFinished(metrics.OutcomeSuccess, elapsed)
	c.logger.Info().
		Str("symbol", symbol).
		Dur("elapsed", elapsed).
		Msg("analysis completed")

	return Result{
		Symbol:    symbol,
		Timestamp: c.now().UTC().Format(TimestampLayout),
		Payload:   out.(models.AnalysisData),
	}, nil
}

// post performs one POST /analyze.
// {"symbol"} -> {status:"success", data:{final_report}} | {status:"error", message}
func (c *Client) post(ctx context.Context, symbol string) (models.AnalysisData, error) {
	var body analyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"symbol": symbol}).
		Post("/analyze")
	if err != nil {
		return nil, fmt.Errorf("failed to reach analysis backend: %w", err)
	}

	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		if !resp.IsSuccess() {
			return nil, &BackendError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
		}
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}

	if !resp.IsSuccess() || body.Status != "success" {
		msg := body.Message
		if msg == "" {
			msg = resp.Status()
		}
		status := resp.StatusCode()
		if resp.IsSuccess() {
			status = http.StatusBadGateway
		}
		return nil, &BackendError{StatusCode: status, Message: msg}
	}

	data := strings.TrimSpace(string(body.Data))
	if data == "" || data == "null" {
		return nil, &BackendError{StatusCode: http.StatusBadGateway, Message: "response has no data"}
	}

	return models.AnalysisData(body.Data).Clone(), nil
}
