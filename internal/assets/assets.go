// Package assets forwards generated assets to an external registry.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cutline/internal/domain"
	"cutline/internal/logging"
)

type Registry interface {
	Register(ctx context.Context, sessionID string, asset domain.GeneratedAsset) error
}

// RegisterError reports a non-2xx registry response.
type RegisterError struct {
	StatusCode int
	Body       string
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("asset registry: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable is true for server-side failures.
func (e *RegisterError) IsRetryable() bool { return e.StatusCode >= 500 }

type registration struct {
	SessionID string                `json:"session_id"`
	Asset     domain.GeneratedAsset `json:"asset"`
}

// HTTPRegistry POSTs each asset as JSON to the registry URL.
type HTTPRegistry struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPRegistry(url string, timeout time.Duration, logger *slog.Logger) *HTTPRegistry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRegistry{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logging.OrNop(logger), "assets"),
	}
}

func (r *HTTPRegistry) Register(ctx context.Context, sessionID string, asset domain.GeneratedAsset) error {
	body, err := json.Marshal(registration{SessionID: sessionID, Asset: asset})
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cutline-Session", sessionID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RegisterError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	r.logger.Info("asset registered", "session_id", sessionID, "asset_id", asset.ID, "kind", string(asset.Kind), "body_bytes", len(body))
	return nil
}

// Nop accepts every asset without forwarding it.
type Nop struct{}

func (Nop) Register(context.Context, string, domain.GeneratedAsset) error { return nil }
