package socketfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/registry"
)

func TestRegister(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	(&Module{}).Register(reg)

	fetcher, err := reg.Fetcher(model.TransportSocketIO)
	require.NoError(t, err)
	assert.NotNil(t, fetcher)
}

func TestFetch_MissingOptions(t *testing.T) {
	t.Parallel()
	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), &model.Outbound{
		Request: "no-opts",
		URL:     "http://localhost:3000",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no socketio options")
}

func TestFetch_InvalidBodyJSON(t *testing.T) {
	t.Parallel()
	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), &model.Outbound{
		Request:  "bad-body",
		URL:      "http://localhost:3000",
		Body:     "not json",
		SocketIO: &model.SocketIOOptions{OnEvent: "reply"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestFetch_InvalidURL(t *testing.T) {
	t.Parallel()
	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), &model.Outbound{
		Request:  "bad-url",
		URL:      "://nope",
		SocketIO: &model.SocketIOOptions{OnEvent: "reply"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse URL")
}

func TestFetch_ConnectionFailure(t *testing.T) {
	t.Parallel()
	// A plain HTTP server that is not a socket.io endpoint, shut down before
	// the fetch, so the connection attempt cannot succeed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	f := &Fetcher{}
	_, err := f.Fetch(context.Background(), &model.Outbound{
		Request:  "unreachable",
		URL:      url,
		SocketIO: &model.SocketIOOptions{OnEvent: "reply", Timeout: "500ms"},
	})
	require.Error(t, err)
}
