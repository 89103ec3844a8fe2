package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkgctx "github.com/baechuer/real-time-ressys/services/event-client/internal/pkg/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_InjectsRequestID(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(HeaderXRequestID)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(DefaultConfig())
	ctx := pkgctx.WithRequestID(context.Background(), "test-req-id")
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(ctx, req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "test-req-id", <-got)
}

func TestClient_GeneratesRequestIDWhenMissing(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(HeaderXRequestID)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := New(DefaultConfig()).Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, <-got)
}

func TestClient_BodyReadableAfterDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := New(DefaultConfig()).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(b))
}

func TestClient_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Config{ReadTimeout: 50 * time.Millisecond, WriteTimeout: time.Second})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	_, err := c.Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := New(DefaultConfig()).Do(ctx, req)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	_, err := New(DefaultConfig()).Do(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New(Config{RateLimit: 0.001, Burst: 1})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err = c.Do(ctx, req)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestIsWriteMethod(t *testing.T) {
	assert.True(t, isWriteMethod(http.MethodPost))
	assert.True(t, isWriteMethod(http.MethodDelete))
	assert.False(t, isWriteMethod(http.MethodGet))
}
