package core

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/testutil"
)

const testToken = "secret-token"

func newRemote(t *testing.T) (*RemoteService, *LocalService, *testutil.FakeEngine, string) {
	t.Helper()
	local, eng, root := newLocal(t)
	srv := testutil.NewHTTPServerT(t, NewHandler(local, testToken))
	remote := NewRemoteService(srv.URL+"/", testToken)
	t.Cleanup(func() { _ = remote.Shutdown() })
	return remote, local, eng, root
}

func TestRemoteService_RoundTrip(t *testing.T) {
	remote, _, eng, root := newRemote(t)

	require.NoError(t, remote.Health())

	st, err := remote.Add(streamURL, "social")
	require.NoError(t, err)
	assert.Equal(t, "downloading", st.State)
	require.Len(t, eng.Created(), 1)
	id := eng.Created()[0].ID

	rel := filepath.Join("media", "social.ts")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("ts"), 0644))
	emit(eng, testutil.SuccessEvents(id, rel)...)

	st = eventuallyState(t, remote, "social", "downloaded")
	assert.Equal(t, filepath.Join(root, rel), st.LocalPath)

	list, err := remote.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "social", list[0].Name)

	require.NoError(t, remote.Delete("social"))
	_, err = remote.Status("social")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestRemoteService_ErrorMapping(t *testing.T) {
	remote, _, _, _ := newRemote(t)

	_, err := remote.Add(streamURL, "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = remote.Add("ftp://example.com/x.m3u8", "x")
	assert.ErrorIs(t, err, ErrInvalidURL)

	err = remote.Cancel("idle")
	assert.ErrorIs(t, err, download.ErrNotActive)

	var apiErr *APIError
	require.ErrorAs(t, remote.Delete("ghost"), &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestRemoteService_CancelRunning(t *testing.T) {
	remote, _, eng, _ := newRemote(t)
	eng.CancelEmits = true

	_, err := remote.Add(streamURL, "x")
	require.NoError(t, err)
	require.NoError(t, remote.Cancel("x"))

	st := eventuallyState(t, remote, "x", "not_downloaded")
	assert.Contains(t, st.Error, "cancelled")
}

func TestHandler_RequiresToken(t *testing.T) {
	local, _, _ := newLocal(t)
	srv := testutil.NewHTTPServerT(t, NewHandler(local, testToken))

	// Health is open
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/list")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	wrong := NewRemoteService(srv.URL, "wrong")
	_, err = wrong.List()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestHandler_MethodsAndParams(t *testing.T) {
	local, _, _ := newLocal(t)
	srv := testutil.NewHTTPServerT(t, NewHandler(local, ""))

	cases := []struct {
		method, path string
		body         string
		want         int
	}{
		{http.MethodGet, "/download", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/download", "{not json", http.StatusBadRequest},
		{http.MethodGet, "/cancel?name=x", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/cancel", "", http.StatusBadRequest},
		{http.MethodDelete, "/delete?name=x", "", http.StatusNotFound},
		{http.MethodPost, "/status?name=x", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/list", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}
