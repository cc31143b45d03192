package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/home-monitor/video-svr/pkg/schema"
)

const (
	OpFetchUnprocessed = "fetch_unprocessed"
	OpReportProcessed  = "report_processed"

	// cap on error bodies copied into errors and logs
	maxErrorBody = 512
)

type StoreClientOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerMinute int
	UserAgent     string
}

// StoreClient talks to the motion data store. It never retries.
type StoreClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

type unprocessedResponse struct {
	Data struct {
		Query []schema.MotionEvent `json:"query"`
	} `json:"data"`
}

func NewStoreClient(logger *zap.Logger, opts StoreClientOptions) *StoreClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "video-svr/1.0"
	}
	return &StoreClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: ua,
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: NewStoreLimiter(opts.RatePerMinute),
		logger:  logger,
	}
}

// FetchUnprocessed returns the events the store has not yet marked processed.
func (c *StoreClient) FetchUnprocessed(ctx context.Context) ([]schema.MotionEvent, error) {
	url := c.baseURL + "/db/unprocessed"
	body, err := c.do(ctx, OpFetchUnprocessed, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp unprocessedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &RemoteUnavailableError{Op: OpFetchUnprocessed, URL: url, Err: fmt.Errorf("decode failed: %w", err)}
	}
	if resp.Data.Query == nil {
		resp.Data.Query = []schema.MotionEvent{}
	}

	c.logger.Debug("Fetched unprocessed motion events", zap.Int("count", len(resp.Data.Query)))
	return resp.Data.Query, nil
}

// ReportProcessed sends the matched records back to the store in one request.
func (c *StoreClient) ReportProcessed(ctx context.Context, events []schema.MotionEvent) error {
	url := c.baseURL + "/db/processed"
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := c.do(ctx, OpReportProcessed, http.MethodPut, url, payload); err != nil {
		return err
	}

	c.logger.Info("Reported processed motion events", zap.Int("count", len(events)))
	return nil
}

func (c *StoreClient) do(ctx context.Context, op, method, url string, payload []byte) ([]byte, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, &RemoteUnavailableError{Op: op, URL: url, Err: err}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &RemoteUnavailableError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Data store request failed", zap.String("op", op), zap.String("url", url), zap.Error(err))
		return nil, &RemoteUnavailableError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteUnavailableError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		c.logger.Warn("Data store returned error status",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("body", snippet))
		msg := strings.TrimSpace(snippet)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &RemoteUnavailableError{
			Op:         op,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        errors.New(msg),
		}
	}
	return body, nil
}
