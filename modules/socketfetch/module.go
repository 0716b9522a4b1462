// Package socketfetch provides the socket.io transport: connect, emit the
// rendered body, and treat the first matching event as the inbound
// response.
package socketfetch

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/reqrelay/internal/ctxlog"
	"github.com/vk/reqrelay/internal/model"
	"github.com/vk/reqrelay/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register installs the socketio transport.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFetcher(model.TransportSocketIO, &Fetcher{})
}

// Fetcher executes outbound requests over socket.io. Each fetch opens its
// own connection; the response is the first occurrence of the configured
// event.
type Fetcher struct{}

// opResult is a private struct to safely pass results through the done channel.
type opResult struct {
	inbound *model.Inbound
	err     error
}

// Fetch connects to the target, optionally emits the rendered body, and
// waits for the configured event or the timeout.
func (f *Fetcher) Fetch(ctx context.Context, out *model.Outbound) (*model.Inbound, error) {
	opts := out.SocketIO
	if opts == nil {
		return nil, fmt.Errorf("outbound request %q has no socketio options", out.Request)
	}

	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "url", out.URL, "onEvent", opts.OnEvent, "emitEvent", opts.EmitEvent)
	logger.Debug("Fetch started")
	defer logger.Debug("Fetch finished")

	var isConnected atomic.Bool

	timeout := 10 * time.Second
	if opts.Timeout != "" {
		parsed, err := time.ParseDuration(opts.Timeout)
		if err != nil {
			logger.Warn("Failed to parse timeout, using default 10s", "inputTimeout", opts.Timeout, "error", err)
		} else {
			timeout = parsed
		}
	}

	done := make(chan opResult, 1)
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parsedURL, err := url.Parse(out.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	socketOpts := socket.DefaultOptions()
	socketOpts.SetPath(parsedURL.Path)

	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		socketOpts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	socketOpts.SetTransports(types.NewSet(transports.WebSocket))

	var emitData any
	if out.Body != "" {
		if err := json.Unmarshal([]byte(out.Body), &emitData); err != nil {
			return nil, fmt.Errorf("rendered body is not valid JSON for socket.io emit: %w", err)
		}
	}

	manager := socket.NewManager(baseURL, socketOpts)
	io := manager.Socket(opts.Namespace, socketOpts)
	defer func() {
		logger.Debug("Disconnecting socket client")
		io.Disconnect()
	}()

	started := time.Now()

	io.On(types.EventName("connect"), func(...any) {
		isConnected.Store(true)
		logger.Info("Successfully connected", "namespace", opts.Namespace, "sid", io.Id())
		if opts.EmitEvent != "" {
			logger.Info("Emitting event", "event", opts.EmitEvent)
			io.Emit(opts.EmitEvent, emitData)
		}
	})

	io.On(types.EventName("connect_error"), func(errs ...any) {
		if err, ok := errs[0].(error); ok {
			done <- opResult{err: err}
			return
		}
		done <- opResult{err: fmt.Errorf("connect_error: %v", errs)}
	})

	io.On(types.EventName(opts.OnEvent), func(data ...any) {
		var responseData any
		if len(data) > 0 {
			responseData = data[0]
		}
		done <- opResult{inbound: &model.Inbound{
			Event:    opts.OnEvent,
			Data:     responseData,
			Duration: time.Since(started),
		}}
	})

	io.Connect()

	select {
	case <-opCtx.Done():
		if isConnected.Load() {
			return nil, fmt.Errorf("timed out after connecting while waiting for event %q", opts.OnEvent)
		}
		return nil, fmt.Errorf("timed out while waiting for initial connection")
	case res := <-done:
		return res.inbound, res.err
	}
}
