package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/registry"
)

func TestRegister(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	(&Module{}).Register(reg)

	fetcher, err := reg.Fetcher(model.TransportHTTP)
	require.NoError(t, err)
	assert.NotNil(t, fetcher)
}

func TestFetch_RoundTrip(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		payload, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"user": "vk"}`, string(payload))

		w.Header().Set("X-Request-Id", "42")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 7}`)
	}))
	defer server.Close()

	fetcher := New(DefaultTimeout)
	inbound, err := fetcher.Fetch(context.Background(), &model.Outbound{
		Request:   "create",
		Transport: model.TransportHTTP,
		Method:    http.MethodPost,
		URL:       server.URL + "/users",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      `{"user": "vk"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, inbound.Status)
	assert.Equal(t, `{"id": 7}`, inbound.Body)
	assert.Equal(t, "42", inbound.Headers["X-Request-Id"])
	assert.Positive(t, inbound.Duration)
}

func TestFetch_ConnectionError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	fetcher := New(DefaultTimeout)
	_, err := fetcher.Fetch(context.Background(), &model.Outbound{
		Method: http.MethodGet,
		URL:    url,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute request")
}

func TestFetch_ContextCancellation(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	fetcher := New(time.Minute)
	_, err := fetcher.Fetch(ctx, &model.Outbound{
		Method: http.MethodGet,
		URL:    server.URL,
	})
	require.ErrorIs(t, err, context.Canceled)
}
