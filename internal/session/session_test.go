package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reqrelay/internal/hclgrid"
	"github.com/vk/reqrelay/internal/registry"
	"github.com/vk/reqrelay/modules/httpfetch"
)

// loadGrid parses a grid from source via a temp file, the same path the
// application takes.
func loadGrid(t *testing.T, src string) *hclgrid.Grid {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	grid, err := hclgrid.Load(context.Background(), path)
	require.NoError(t, err)
	return grid
}

func httpRegistry() *registry.Registry {
	reg := registry.New()
	(&httpfetch.Module{}).Register(reg)
	return reg
}

func reportFor(t *testing.T, reports []Report, name string) Report {
	t.Helper()
	for _, r := range reports {
		if r.Request == name {
			return r
		}
	}
	t.Fatalf("no report for request %q in %+v", name, reports)
	return Report{}
}

func TestRun_SingleRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer server.Close()
	t.Setenv("TEST_BASE", server.URL)

	grid := loadGrid(t, `
request "hello" {
  url = "${env.TEST_BASE}/hello"
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	reports, err := sess.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	report := reports[0]
	require.NoError(t, report.Err)
	require.NotNil(t, report.Outcome)
	assert.True(t, report.Outcome.OK)
	assert.Equal(t, http.StatusOK, report.Outcome.Status)
	assert.Equal(t, "hello", report.Outcome.Body)
	assert.Empty(t, report.Depends)
	assert.Positive(t, report.Trace)
}

func TestRun_DependencyChain(t *testing.T) {
	var gotToken atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token": "s3cr3t"}`)
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		fmt.Fprint(w, "profile-body")
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	t.Setenv("TEST_BASE", server.URL)

	grid := loadGrid(t, `
request "login" {
  method = "POST"
  url    = "${env.TEST_BASE}/login"
}

request "profile" {
  url = "${env.TEST_BASE}/profile?token=${request.login.data.token}"
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	reports, err := sess.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	login := reportFor(t, reports, "login")
	require.NoError(t, login.Err)
	assert.True(t, login.Outcome.OK)
	require.NotNil(t, login.Outcome.Data, "JSON response body should be decoded")

	profile := reportFor(t, reports, "profile")
	require.NoError(t, profile.Err)
	assert.True(t, profile.Outcome.OK)
	assert.Equal(t, "s3cr3t", gotToken.Load(), "profile should carry the token rendered from login's response")

	require.Len(t, profile.Depends, 1)
	assert.Equal(t, "login", profile.Depends[0].Request)
	assert.Equal(t, login.Trace, profile.Depends[0].Trace)
	assert.Empty(t, login.Depends)
}

func TestRun_CustomExpectStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	t.Setenv("TEST_BASE", server.URL)

	grid := loadGrid(t, `
request "degraded" {
  url           = "${env.TEST_BASE}/status"
  expect_status = [500, 599]
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	reports, err := sess.Run(context.Background())
	require.NoError(t, err)

	report := reports[0]
	require.NoError(t, report.Err)
	assert.True(t, report.Outcome.OK, "503 should satisfy expect_status = [500, 599]")
}

func TestRun_FailingStatusReportedNotReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()
	t.Setenv("TEST_BASE", server.URL)

	grid := loadGrid(t, `
request "unlucky" {
  url = "${env.TEST_BASE}/boom"
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	reports, err := sess.Run(context.Background())
	require.NoError(t, err, "a failing outcome is a report, not a session error")

	report := reports[0]
	require.NoError(t, report.Err)
	assert.False(t, report.Outcome.OK)
	assert.Equal(t, http.StatusInternalServerError, report.Outcome.Status)
	assert.Contains(t, report.Outcome.Reason, "status 500 outside 200..299")
}

func TestRun_DependencyFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close() // every fetch against it now fails

	t.Setenv("TEST_BASE", base)

	grid := loadGrid(t, `
request "login" {
  url = "${env.TEST_BASE}/login"
}

request "profile" {
  url = "${env.TEST_BASE}/profile?token=${request.login.body}"
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	reports, err := sess.Run(context.Background())
	require.NoError(t, err)

	login := reportFor(t, reports, "login")
	require.Error(t, login.Err)

	profile := reportFor(t, reports, "profile")
	require.Error(t, profile.Err)
	assert.Contains(t, profile.Err.Error(), `depends on "login"`)
}

func TestNew_RejectsReferenceCycle(t *testing.T) {
	t.Parallel()
	grid := loadGrid(t, `
request "a" {
  url = "https://example.com/a?x=${request.b.body}"
}

request "b" {
  url = "https://example.com/b?x=${request.a.body}"
}
`)
	_, err := New(grid, httpRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference cycle")
}

func TestNew_RejectsUnknownReference(t *testing.T) {
	t.Parallel()
	grid := loadGrid(t, `
request "a" {
  url = "https://example.com/a?x=${request.ghost.body}"
}
`)
	_, err := New(grid, httpRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `references unknown request "ghost"`)
}

func TestRun_CalledTwice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	t.Setenv("TEST_BASE", server.URL)

	grid := loadGrid(t, `
request "once" {
  url = "${env.TEST_BASE}/once"
}
`)
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	_, err = sess.Run(context.Background())
	require.NoError(t, err)

	_, err = sess.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Run called twice")
}

func TestPreview_DoesNotSend(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	grid := loadGrid(t, fmt.Sprintf(`
request "login" {
  method = "post"
  url    = %q
}

request "profile" {
  url = "%s/profile?token=${request.login.body}"
}
`, server.URL+"/login", server.URL))
	sess, err := New(grid, httpRegistry())
	require.NoError(t, err)

	preview, err := sess.Preview(context.Background(), "login")
	require.NoError(t, err)
	assert.Equal(t, "POST "+server.URL+"/login", preview)

	preview, err = sess.Preview(context.Background(), "profile")
	require.NoError(t, err)
	assert.Equal(t, "GET <unresolved>", preview,
		"a URL depending on another request's result cannot resolve in preview")

	assert.Zero(t, hits.Load(), "preview must never reach the network")

	_, err = sess.Preview(context.Background(), "ghost")
	require.Error(t, err)
}
