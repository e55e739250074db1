package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cutline/internal/domain"
)

func TestHTTPResolver_GetMediaFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/clip-1":
			_ = json.NewEncoder(w).Encode(File{URL: "https://cdn.example/clip-1.mp4", Type: domain.MediaVideo, Duration: 4.5})
		case "/media/broken":
			http.Error(w, "boom", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL+"/", time.Second, nil)

	f, err := r.GetMediaFile(context.Background(), "clip-1")
	require.NoError(t, err)
	assert.Equal(t, "clip-1", f.ID)
	assert.Equal(t, 4.5, f.Duration)
	assert.Equal(t, domain.MediaVideo, f.Type)

	_, err = r.GetMediaFile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.GetMediaFile(context.Background(), "broken")
	var re *ResolveError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadGateway, re.StatusCode)
}

func TestStaticResolver(t *testing.T) {
	s := StaticResolver{"a": {URL: "file:///a.mp4", Type: domain.MediaVideo, Duration: 2}}
	f, err := s.GetMediaFile(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", f.ID)

	_, err = s.GetMediaFile(context.Background(), "b")
	assert.ErrorIs(t, err, ErrNotFound)
}
