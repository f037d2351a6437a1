// Package provider talks to cloud drive APIs with access tokens obtained
// elsewhere. It lists files for delta sync and downloads their content.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloo-solutions/briefly/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// retryableStatus reports whether a response status may succeed if repeated.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// getJSON issues an authenticated GET and decodes a JSON body into out.
// Failures are tagged as sync provider errors.
func getJSON(ctx context.Context, client *http.Client, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.NewIngestError(domain.KindSyncProvider, err, false)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return domain.NewSyncProviderError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.NewIngestError(domain.KindSyncProvider,
			fmt.Errorf("listing failed: %s: %s", resp.Status, strings.TrimSpace(string(body))),
			retryableStatus(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewIngestError(domain.KindSyncProvider, fmt.Errorf("failed to decode listing: %w", err), false)
	}
	return nil
}
