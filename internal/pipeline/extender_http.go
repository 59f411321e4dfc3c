package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go-dataset-pipeline/internal/config"
	"go-dataset-pipeline/internal/datafile"
	"go-dataset-pipeline/internal/metrics"
	"go-dataset-pipeline/internal/model"
	applog "go-dataset-pipeline/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// HTTPExtender calls remote service actions over HTTP. Each batch is
// POSTed as a JSON array of inputs to <server><path>; the response is the
// JSON array of outputs.
type HTTPExtender struct {
	Layout    datafile.Layout
	BatchSize int

	client  *retryablehttp.Client
	limiter *rate.Limiter
}

var _ Extender = (*HTTPExtender)(nil)

// NewHTTPExtender returns an extender configured by cfg.
func NewHTTPExtender(layout datafile.Layout, cfg config.RemoteConfig, logger *slog.Logger) *HTTPExtender {
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retries
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = logger.With("component", "extender")

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPExtender{
		Layout:    layout,
		BatchSize: cfg.BatchSize,
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
	}
}

// Extend rewrites the extended rows of d with the output of action.
func (h *HTTPExtender) Extend(ctx context.Context, d *model.Dataset, svc *model.RemoteService, action *model.Action) error {
	url := strings.TrimRight(svc.Server, "/") + "/" + strings.TrimLeft(action.Path, "/")
	call := func(ctx context.Context, inputs []map[string]any) ([]map[string]any, error) {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := h.post(ctx, url, svc.APIKey, inputs)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.CounterExtensionCalls.WithLabelValues(svc.ID, result).Inc()
		return out, err
	}
	applog.FromContext(ctx).DebugContext(ctx, "extending rows", "service", svc.ID, "action", action.ID)
	return ExtendRows(ctx, h.Layout, d, svc, action, h.BatchSize, call)
}

func (h *HTTPExtender) post(ctx context.Context, url string, key model.APIKey, inputs []map[string]any) ([]map[string]any, error) {
	body, err := json.Marshal(inputs)
	if err != nil {
		return nil, errors.Wrap(err, "encoding batch")
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key.Name != "" && key.Value != "" {
		req.Header.Set(key.Name, key.Value)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}
	return out, nil
}
