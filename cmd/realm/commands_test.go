package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/realm"
)

func init() { gin.SetMode(gin.TestMode) }

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitCheckRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yml")

	out, err := run(t, "init", "-c", path, "--with", "web,api,docs", "--proxy-port", "9000")
	require.NoError(t, err)
	assert.Contains(t, out, "Config written")

	_, err = run(t, "init", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = run(t, "check", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 processes")
	assert.Contains(t, out, "127.0.0.1:9000")

	out, err = run(t, "routes", "-c", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "PATTERN"))
	assert.True(t, strings.HasPrefix(lines[1], "/"), lines[1])
	assert.Contains(t, out, "/api/*")
	assert.Contains(t, out, "127.0.0.1:4001")
}

func TestInitRejectsUnknownTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yml")
	_, err := run(t, "init", "-c", path, "--with", "web,bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template type")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	_, err = run(t, "init", "-c", path, "--with", "web,web")
	assert.ErrorContains(t, err, "duplicate")
}

func TestCheckReportsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yml")
	require.NoError(t, os.WriteFile(path, []byte("processes:\n  web:\n    command: x\n    routes: [\"api/*\"]\n"), 0o644))
	_, err := run(t, "check", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with '/'")
}

func startAdmin(t *testing.T) (string, *realm.Manager) {
	t.Helper()
	m := realm.New()
	m.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, m.LoadProcesses([]realm.Spec{
		{Name: "api", Command: "sleep 30", Port: 4001, Routes: []string{"/api/*"}},
		{Name: "web", Command: "sleep 30", Port: 4000, Routes: []string{"/"}},
	}))
	srv, err := realm.NewHTTPServer("127.0.0.1:0", "/api", m)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		m.StopAll()
		m.Close()
	})
	return "http://" + srv.Addr + "/api", m
}

func TestRemoteCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
	url, m := startAdmin(t)
	require.NoError(t, m.StartProcess("web"))

	out, err := run(t, "ps", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `web\s+running`, out)
	assert.Regexp(t, `api\s+stopped`, out)

	out, err = run(t, "restart", "api", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "restarted api")
	assert.True(t, m.IsRunning("api"))

	out, err = run(t, "stop", "web", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped web")
	assert.False(t, m.IsRunning("web"))

	out, err = run(t, "stop", "--api-url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "stopped api")
	assert.False(t, m.IsRunning("api"))

	_, err = run(t, "restart", "ghost", "--api-url", url)
	assert.Error(t, err)
}

func TestRemoteCommandsNeedAdmin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yml")
	require.NoError(t, os.WriteFile(path, []byte("processes: {}\n"), 0o644))
	_, err := run(t, "ps", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin API is disabled")
}

func TestAdminURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8001/api", adminURL("127.0.0.1:8001", "/api"))
	assert.Equal(t, "http://127.0.0.1:8001/api", adminURL(":8001", "/api/"))
	assert.Equal(t, "http://127.0.0.1:8001", adminURL("0.0.0.0:8001", ""))
	assert.Equal(t, "http://[::1]:8001/x", adminURL("[::1]:8001", "/x"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "-", formatBytes(0))
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.5KiB", formatBytes(1536))
	assert.Equal(t, "10.0MiB", formatBytes(10*1024*1024))
}
