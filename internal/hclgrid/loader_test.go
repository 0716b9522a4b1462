package hclgrid

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeGrid writes the given grid files into a fresh temp dir and returns
// its path.
func writeGrid(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestLoad_SingleFile(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"grid.hcl": `
request "login" {
  method = "POST"
  url    = "https://api.example.com/login"
  body   = "{\"user\": \"vk\"}"
}
`,
	})

	grid, err := Load(context.Background(), filepath.Join(dir, "grid.hcl"))
	require.NoError(t, err)
	require.Len(t, grid.Requests, 1)

	req := grid.Requests["login"]
	require.NotNil(t, req)
	assert.Equal(t, "login", req.Name)
	assert.Equal(t, "http", req.Transport, "transport should default to http")
	assert.Empty(t, req.References())
}

func TestLoad_DirectoryMergesFilesInOrder(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"a_first.hcl": `
request "first" {
  url = "https://example.com/first"
}
`,
		"b_second.hcl": `
request "second" {
  url = "https://example.com/second"
}
request "third" {
  url = "https://example.com/third"
}
`,
	})

	grid, err := Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, grid.Names())
}

func TestLoad_References(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"grid.hcl": `
request "login" {
  method = "POST"
  url    = "https://api.example.com/login"
}

request "profile" {
  url = "https://api.example.com/profile?token=${request.login.body}"
  headers = {
    "X-Session" = request.login.body
    "X-Status"  = "${request.login.status}-${request.health.status}"
  }
}
`,
	})

	grid, err := Load(context.Background(), dir)
	require.NoError(t, err)

	profile := grid.Requests["profile"]
	require.NotNil(t, profile)
	assert.Equal(t, []string{"health", "login"}, profile.References(),
		"references should be sorted and deduplicated")
	assert.Empty(t, grid.Requests["login"].References())
}

func TestLoad_DuplicateRequestName(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"grid.hcl": `
request "dup" {
  url = "https://example.com/one"
}
request "dup" {
  url = "https://example.com/two"
}
`,
	})

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate request "dup"`)
}

func TestLoad_TransportValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name: "unknown transport",
			src: `
request "r" {
  transport = "carrier-pigeon"
  url       = "https://example.com"
}
`,
			wantErr: `unknown transport "carrier-pigeon"`,
		},
		{
			name: "socketio block on http transport",
			src: `
request "r" {
  url = "https://example.com"
  socketio {
    on_event = "pong"
  }
}
`,
			wantErr: "socketio block requires",
		},
		{
			name: "socketio transport without block",
			src: `
request "r" {
  transport = "socketio"
  url       = "wss://example.com"
}
`,
			wantErr: "requires a socketio block",
		},
		{
			name: "malformed expect_status",
			src: `
request "r" {
  url           = "https://example.com"
  expect_status = [200]
}
`,
			wantErr: "expect_status must be a [low, high] pair",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := writeGrid(t, map[string]string{"grid.hcl": tc.src})
			_, err := Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_SocketIOBlock(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"grid.hcl": `
request "echo" {
  transport = "socketio"
  url       = "http://localhost:3000"
  body      = "{\"msg\": \"hi\"}"

  socketio {
    namespace  = "/chat"
    emit_event = "message"
    on_event   = "reply"
    timeout    = "5s"
  }
}
`,
	})

	grid, err := Load(context.Background(), dir)
	require.NoError(t, err)

	req := grid.Requests["echo"]
	require.NotNil(t, req)
	require.NotNil(t, req.SocketIO)
	assert.Equal(t, "/chat", req.SocketIO.Namespace)
	assert.Equal(t, "message", req.SocketIO.EmitEvent)
	assert.Equal(t, "reply", req.SocketIO.OnEvent)
	assert.Equal(t, "5s", req.SocketIO.Timeout)
	assert.False(t, req.SocketIO.InsecureSkipVerify)
}

func TestLoad_ParseError(t *testing.T) {
	t.Parallel()
	dir := writeGrid(t, map[string]string{
		"grid.hcl": `request "broken" {`,
	})

	_, err := Load(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoad_NoFiles(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl files found")
}
