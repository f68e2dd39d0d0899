// Package embedclient talks to the external embedding model provider. The
// client is stateless: batching, retry/backoff, and rate limiting are its
// concern; caching embeddings by content hash is the caller's (see
// catalog.GetCachedEmbeddings).
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/siftertext/ingestcore/xerrors"
)

// Options configures a Client.
type Options struct {
	Host        string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	RatePerSec  float64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterRatio float64
}

// Client is a batched HTTP client for an embedding model provider.
type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a Client. A nil logger is replaced with a no-op logger.
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Limit(opts.RatePerSec)
	if opts.RatePerSec <= 0 {
		limit = rate.Inf
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes a vector for every text in a single batched request. Per
// spec the batch either all-succeeds or all-fails: a partial response is
// treated as a permanent failure.
func (c *Client) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.opts.Model
	}

	reqBody := embedRequest{Input: texts, Model: model}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, xerrors.Wrap(err, "marshal embedding request")
	}

	url := fmt.Sprintf("%s/v1/embeddings", strings.TrimRight(c.opts.Host, "/"))

	maxRetries := c.opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(xerrors.ErrDeadlineExceeded, "rate limiter wait")
		}

		vectors, retryable, err := c.doRequest(ctx, url, jsonBody)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, xerrors.Wrap(xerrors.ErrProviderPermanent,
					fmt.Sprintf("embedding response has %d vectors for %d texts", len(vectors), len(texts)))
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.ErrDeadlineExceeded, "embedding request cancelled")
		}
		c.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		c.backoffSleep(attempt)
	}

	return nil, xerrors.Wrap(xerrors.ErrProviderTransient, fmt.Sprintf("embedding request exhausted retries: %v", lastErr))
}

// doRequest performs one HTTP round-trip. The bool return indicates whether
// the caller should retry.
func (c *Client) doRequest(ctx context.Context, url string, body []byte) ([][]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, xerrors.Wrap(err, "create embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, xerrors.Wrap(xerrors.ErrProviderTransient, err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, xerrors.Wrap(xerrors.ErrProviderTransient, "read embedding response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, xerrors.Wrap(xerrors.ErrProviderTransient,
			fmt.Sprintf("embedding server status %s", resp.Status))
	case resp.StatusCode >= 400:
		return nil, false, xerrors.Wrap(xerrors.ErrProviderPermanent,
			fmt.Sprintf("embedding server status %s: %s", resp.Status, string(bodyBytes)))
	}

	var er embedResponse
	if err := json.Unmarshal(bodyBytes, &er); err != nil {
		return nil, false, xerrors.Wrap(xerrors.ErrProviderPermanent, "decode embedding response")
	}
	if len(er.Data) == 0 {
		return nil, false, xerrors.Wrap(xerrors.ErrProviderPermanent, "empty embedding response")
	}

	vectors := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		vectors[i] = d.Embedding
	}
	return vectors, false, nil
}

func (c *Client) backoffSleep(attempt int) {
	base := c.opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	d := base * time.Duration(1<<attempt)
	if c.opts.MaxDelay > 0 && d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	jitterRatio := c.opts.JitterRatio
	if jitterRatio <= 0 || jitterRatio > 1 {
		jitterRatio = 0.2
	}
	jitter := time.Duration(float64(d) * jitterRatio)
	sleep := d - jitter
	if jitter > 0 {
		sleep += time.Duration(rand.Int63n(int64(2*jitter + 1)))
	}
	time.Sleep(sleep)
}
