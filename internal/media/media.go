// Package media resolves media ids into playable files.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cutline/internal/domain"
	"cutline/internal/logging"
)

var ErrNotFound = errors.New("media not found")

// File describes a resolved media file. Duration is in seconds.
type File struct {
	ID       string           `json:"id"`
	URL      string           `json:"url"`
	Type     domain.MediaKind `json:"type"`
	Duration float64          `json:"duration"`
	Width    float64          `json:"width,omitempty"`
	Height   float64          `json:"height,omitempty"`
}

type Resolver interface {
	GetMediaFile(ctx context.Context, id string) (File, error)
}

// ResolveError is returned for non-2xx responses other than 404.
type ResolveError struct {
	StatusCode int
	Body       string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("media resolve failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPResolver looks media up at GET {baseURL}/media/{id}.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPResolver(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent(logging.OrNop(logger), "media"),
	}
}

func (r *HTTPResolver) GetMediaFile(ctx context.Context, id string) (File, error) {
	endpoint := fmt.Sprintf("%s/media/%s", r.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return File{}, &ResolveError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var f File
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode media file: %w", err)
	}
	if f.ID == "" {
		f.ID = id
	}
	if f.URL == "" {
		return File{}, fmt.Errorf("media %s has no url", id)
	}
	r.logger.Debug("media resolved", "media_id", id, "type", string(f.Type), "duration", f.Duration)
	return f, nil
}

// StaticResolver serves files from a fixed table.
type StaticResolver map[string]File

func (s StaticResolver) GetMediaFile(_ context.Context, id string) (File, error) {
	f, ok := s[id]
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if f.ID == "" {
		f.ID = id
	}
	return f, nil
}
