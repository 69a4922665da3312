package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/hlsget/internal/config"
	"github.com/surge-downloader/hlsget/internal/core"
	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/testutil"
)

const testStream = "https://video.example.com/45505/480/index.m3u8"

func TestRootCmd_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"get", "add", "ls", "cancel", "rm", "status", "server", "connect", "token"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestResolveConnectBaseURL(t *testing.T) {
	tests := []struct {
		target   string
		insecure bool
		want     string
		wantErr  bool
	}{
		{target: "127.0.0.1:1717", want: "http://127.0.0.1:1717"},
		{target: "localhost:1717", want: "http://localhost:1717"},
		{target: "media.example.com:1717", want: "https://media.example.com:1717"},
		{target: "https://media.example.com/api", want: "https://media.example.com"},
		{target: "http://media.example.com", wantErr: true},
		{target: "http://media.example.com", insecure: true, want: "http://media.example.com"},
		{target: "ftp://media.example.com", wantErr: true},
		{target: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := resolveConnectBaseURL(tt.target, tt.insecure)
		if tt.wantErr {
			assert.Error(t, err, tt.target)
			continue
		}
		require.NoError(t, err, tt.target)
		assert.Equal(t, tt.want, got)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	assert.True(t, isLoopbackHost("localhost"))
	assert.True(t, isLoopbackHost("127.0.0.1"))
	assert.True(t, isLoopbackHost("::1"))
	assert.False(t, isLoopbackHost(""))
	assert.False(t, isLoopbackHost("10.0.0.1"))
	assert.Equal(t, "::1", hostnameFromTarget("[::1]:1717"))
	assert.Equal(t, "example.com", hostnameFromTarget("https://example.com:8443"))
}

func TestDeriveAssetName(t *testing.T) {
	assert.Equal(t, "480", deriveAssetName(testStream))
	assert.Equal(t, "episode-3", deriveAssetName("https://cdn.example.com/shows/episode-3.m3u8"))
	assert.Equal(t, "cdn.example.com", deriveAssetName("https://cdn.example.com/master.m3u8"))
	assert.Equal(t, "asset", deriveAssetName("::bad"))
}

func TestPortAndPIDFiles(t *testing.T) {
	require.NoError(t, config.EnsureDirs())

	saveActivePort(4242)
	assert.Equal(t, 4242, readActivePort())
	removeActivePort()
	assert.Equal(t, 0, readActivePort())

	savePID()
	assert.Equal(t, os.Getpid(), readPID())
	removePID()
	assert.Equal(t, 0, readPID())
}

func TestEnsureAuthToken_Persists(t *testing.T) {
	require.NoError(t, config.EnsureDirs())
	first := ensureAuthToken()
	require.NotEmpty(t, first)
	assert.Equal(t, first, ensureAuthToken())

	info, err := os.Stat(appFile("token"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestAcquireLock_Reentrant(t *testing.T) {
	ok, err := AcquireLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = ReleaseLock() })

	ok, err = AcquireLock()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ReleaseLock())
	require.NoError(t, ReleaseLock())
}

func TestFindAvailablePort(t *testing.T) {
	requireTCPListener(t)
	port, ln := findAvailablePort(DefaultPort + 500)
	require.NotNil(t, ln)
	defer ln.Close()
	assert.Equal(t, strconv.Itoa(port), ln.Addr().String()[strings.LastIndex(ln.Addr().String(), ":")+1:])

	next, ln2 := findAvailablePort(port)
	require.NotNil(t, ln2)
	defer ln2.Close()
	assert.Greater(t, next, port)
}

func TestPrintStatuses(t *testing.T) {
	statuses := []types.AssetStatus{
		{Name: "social", State: "downloaded", Progress: 1, TaskID: "0123456789abcdef", LocalPath: "/data/media/social.ts"},
		{Name: "news", State: "not_downloaded", Error: "boom"},
	}

	var table bytes.Buffer
	require.NoError(t, printStatuses(&table, statuses, false))
	out := table.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "not_downloaded (failed)")
	assert.Contains(t, out, "100.0%")

	var js bytes.Buffer
	require.NoError(t, printStatuses(&js, statuses, true))
	var decoded []types.AssetStatus
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, statuses, decoded)

	var empty bytes.Buffer
	require.NoError(t, printStatuses(&empty, nil, true))
	assert.JSONEq(t, "[]", empty.String())
}

func TestPrintStatus_ShowsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.ts")
	require.NoError(t, os.WriteFile(path, make([]byte, 2048), 0644))

	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, &types.AssetStatus{Name: "a", State: "downloaded", LocalPath: path}, false))
	assert.Contains(t, buf.String(), "2.00 KB")
}

// runCLI executes the root command against a daemon served from a fake engine.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRemoteCommands(t *testing.T) {
	root := t.TempDir()
	eng := testutil.NewFakeEngine()
	eng.CancelEmits = true
	coord := download.New(eng, download.NewRegistry(filepath.Join(root, "registry.json")), root)
	svc := core.NewLocalService(coord, nil)
	t.Cleanup(func() { _ = svc.Shutdown() })

	srv := testutil.NewHTTPServerT(t, core.NewHandler(svc, "cli-token"))
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	remote := []string{"--host", host, "--token", "cli-token"}

	out, err := runCLI(t, append([]string{"add", testStream, "--name", "social"}, remote...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "social: downloading")

	out, err = runCLI(t, append([]string{"ls", "--json"}, remote...)...)
	require.NoError(t, err)
	var list []types.AssetStatus
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "social", list[0].Name)

	out, err = runCLI(t, append([]string{"status", "social"}, remote...)...)
	require.NoError(t, err)
	assert.Contains(t, out, testStream)

	_, err = runCLI(t, append([]string{"cancel", "social"}, remote...)...)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return coord.State("social") != types.Downloading
	}, 5*time.Second, 10*time.Millisecond)

	_, err = runCLI(t, append([]string{"rm", "ghost"}, remote...)...)
	assert.ErrorIs(t, err, core.ErrUnknownAsset)

	_, err = runCLI(t, "ls", "--host", host, "--token", "wrong")
	assert.Error(t, err)
}
