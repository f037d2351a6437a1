package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/cloo-solutions/briefly/internal/logging"
	"go.uber.org/zap"
)

const (
	DefaultDownloadAttempts = 3
	DefaultMaxDownloadBytes = 50 << 20
)

// DownloaderConfig bounds a download.
type DownloaderConfig struct {
	Attempts   uint
	RetryDelay time.Duration
	MaxBytes   int64
}

// HTTPDownloader fetches file content over HTTP, retrying transient
// failures with exponential backoff.
type HTTPDownloader struct {
	client *http.Client
	cfg    DownloaderConfig
}

func NewHTTPDownloader(client *http.Client, cfg DownloaderConfig) *HTTPDownloader {
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultDownloadAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxDownloadBytes
	}
	return &HTTPDownloader{client: defaultClient(client), cfg: cfg}
}

// Download returns the body at url. accessToken is sent as a bearer token
// when set. Errors are tagged as source fetch failures.
func (d *HTTPDownloader) Download(ctx context.Context, url, accessToken string) ([]byte, error) {
	log := logging.FromContext(ctx)
	return retry.DoWithData(
		func() ([]byte, error) {
			return d.get(ctx, url, accessToken)
		},
		retry.Context(ctx),
		retry.Attempts(d.cfg.Attempts),
		retry.Delay(d.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(domain.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying download", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (d *HTTPDownloader) get(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewIngestError(domain.KindSourceFetch, err, false)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.NewSourceFetchError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, domain.NewIngestError(domain.KindSourceFetch,
			fmt.Errorf("download failed: %s: %s", resp.Status, strings.TrimSpace(string(body))),
			retryableStatus(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, domain.NewSourceFetchError(fmt.Errorf("failed to read body: %w", err))
	}
	if int64(len(data)) > d.cfg.MaxBytes {
		return nil, domain.NewIngestError(domain.KindSourceFetch,
			fmt.Errorf("file exceeds maximum size of %d bytes", d.cfg.MaxBytes), false)
	}
	return data, nil
}
