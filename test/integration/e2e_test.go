// Package integration provides end-to-end tests for a slowpokefs mount and
// its control endpoint.
package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slowfs "github.com/ajaxzhan/slowpokefs/internal/fs"
	"github.com/ajaxzhan/slowpokefs/internal/latency"
	"github.com/ajaxzhan/slowpokefs/internal/metrics"
	"github.com/ajaxzhan/slowpokefs/internal/server"
	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// testEnv holds a dispatcher wired to metrics and a running control server.
type testEnv struct {
	root       string
	dispatcher *slowfs.Dispatcher
	collector  *metrics.Collector
	control    *server.Server
	http       *http.Client
	cancel     context.CancelFunc
}

// setupTestEnv creates the full in-process stack over a temporary directory.
func setupTestEnv(t *testing.T, mc *types.MountConfig) *testEnv {
	t.Helper()

	if mc.RootDir == "" {
		mc.RootDir = t.TempDir()
	}

	collector, err := metrics.NewCollector(nil)
	require.NoError(t, err)

	d, err := slowfs.NewDispatcher(mc, slowfs.Options{
		Delayer:  latency.New(mc),
		Recorder: collector,
	})
	require.NoError(t, err)

	sockDir, err := os.MkdirTemp("", "spe2e")
	require.NoError(t, err)
	httpSock := filepath.Join(sockDir, "http.sock")

	srv, err := server.New(&server.Config{
		GRPCSocket: filepath.Join(sockDir, "control.sock"),
		HTTPSocket: httpSock,
	}, collector.Handler())
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()

	env := &testEnv{
		root:       mc.RootDir,
		dispatcher: d,
		collector:  collector,
		control:    srv,
		cancel:     cancel,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", httpSock)
				},
			},
		},
	}

	t.Cleanup(func() {
		cancel()
		<-done
		d.Close()
		os.RemoveAll(sockDir)
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := e.http.Get("http://control" + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestE2E_OperationsAreObserved(t *testing.T) {
	env := setupTestEnv(t, &types.MountConfig{})
	ctx := context.Background()
	d := env.dispatcher

	fh, err := d.Create(ctx, "/foo.txt", os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = d.Write(ctx, fh, []byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, fh))

	attr, err := d.Getattr(ctx, "/foo.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), attr.Size)

	require.NoError(t, d.Unlink(ctx, "/foo.txt"))
	_, err = d.Getattr(ctx, "/foo.txt")
	require.Error(t, err)

	code, body := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `slowpokefs_operations_total{class="write",op="create",result="ok"} 1`)
	assert.Contains(t, body, `slowpokefs_operations_total{class="read",op="getattr",result="enoent"} 1`)
	assert.Contains(t, body, `slowpokefs_open_handles 0`)
}

func TestE2E_HealthFollowsMount(t *testing.T) {
	env := setupTestEnv(t, &types.MountConfig{})

	code, _ := env.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	env.control.SetServing(true)
	code, _ = env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, code)

	env.control.SetServing(false)
	code, _ = env.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestE2E_RuleDelaysOnlyMatchingPaths(t *testing.T) {
	env := setupTestEnv(t, &types.MountConfig{
		Rules: []types.DelayRule{
			{Pattern: "/slow/", Type: types.PatternDirectory, Priority: 10, MinDelay: 150, MaxDelay: 150, Read: true},
		},
	})
	ctx := context.Background()
	require.NoError(t, os.Mkdir(filepath.Join(env.root, "slow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "slow", "f"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "fast"), nil, 0644))

	start := time.Now()
	_, err := env.dispatcher.Getattr(ctx, "/fast")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	_, err = env.dispatcher.Getattr(ctx, "/slow/f")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

// checkFUSEAvailable skips the test when no FUSE device is present.
func checkFUSEAvailable(t *testing.T) {
	t.Helper()
	switch runtime.GOOS {
	case "linux":
		if _, err := os.Stat("/dev/fuse"); os.IsNotExist(err) {
			t.Skip("skipping test: FUSE is not available (/dev/fuse not found)")
		}
	case "darwin":
		if _, err := os.Stat("/Library/Filesystems/macfuse.fs"); os.IsNotExist(err) {
			t.Skip("skipping test: macFUSE is not installed")
		}
	default:
		t.Skipf("skipping test: FUSE tests not supported on %s", runtime.GOOS)
	}
}

func TestE2E_MountedLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mount test in short mode")
	}
	checkFUSEAvailable(t)

	env := setupTestEnv(t, &types.MountConfig{
		MinDelay:   100,
		MaxDelay:   100,
		WriteDelay: true,
	})
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "seed.txt"), []byte("seed"), 0644))

	mountPoint, err := os.MkdirTemp("", "slowpokefs-e2e-*")
	require.NoError(t, err)
	defer os.RemoveAll(mountPoint)

	sfs, err := slowfs.NewSlowFS(&slowfs.SlowFSConfig{MountPoint: mountPoint}, env.dispatcher)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- sfs.Mount(ctx)
	}()
	defer func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Log("warning: unmount timed out")
		}
	}()

	select {
	case <-sfs.Ready():
	case err := <-errCh:
		t.Skipf("skipping test: mount failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Skip("skipping test: FUSE mount timed out")
	}
	env.control.SetServing(true)

	data, err := os.ReadFile(filepath.Join(mountPoint, "seed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "seed", string(data))

	// Create, write and flush each wait.
	start := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(mountPoint, "out.txt"), []byte("slow"), 0644))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	real, err := os.ReadFile(filepath.Join(env.root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "slow", string(real))

	code, body := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, `op="write"`), "mounted writes are recorded")
}
