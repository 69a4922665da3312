package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/testutil"
)

const streamURL = "https://video.example.com/45505/480/index.m3u8"

func newLocal(t *testing.T) (*LocalService, *testutil.FakeEngine, string) {
	t.Helper()
	root := t.TempDir()
	eng := testutil.NewFakeEngine()
	coord := download.New(eng, download.NewRegistry(filepath.Join(root, "registry.json")), root)
	svc := NewLocalService(coord, nil)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc, eng, root
}

func emit(eng *testutil.FakeEngine, msgs ...any) {
	for _, m := range msgs {
		eng.Emit(m)
	}
}

func eventuallyState(t *testing.T, svc Service, name, want string) *types.AssetStatus {
	t.Helper()
	var st *types.AssetStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = svc.Status(name)
		return err == nil && st.State == want
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestLocalService_AddAndFinish(t *testing.T) {
	svc, eng, root := newLocal(t)

	st, err := svc.Add(streamURL, "social")
	require.NoError(t, err)
	assert.Equal(t, "downloading", st.State)
	assert.Equal(t, streamURL, st.URL)
	require.Len(t, eng.Created(), 1)
	id := eng.Created()[0].ID
	assert.Equal(t, string(id), st.TaskID)

	emit(eng, testutil.ProgressEvent(id, 30, 120))
	require.Eventually(t, func() bool {
		st, _ := svc.Status("social")
		return st.Progress == 0.25
	}, 5*time.Second, 10*time.Millisecond)

	rel := filepath.Join("media", "social.ts")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("ts"), 0644))
	emit(eng, testutil.SuccessEvents(id, rel)...)

	st = eventuallyState(t, svc, "social", "downloaded")
	assert.Equal(t, filepath.Join(root, rel), st.LocalPath)
	assert.Equal(t, 1.0, st.Progress)
	assert.Empty(t, st.TaskID)

	// Downloaded assets are not restarted
	_, err = svc.Add(streamURL, "social")
	require.NoError(t, err)
	assert.Len(t, eng.Created(), 1)
}

func TestLocalService_AddValidation(t *testing.T) {
	svc, eng, _ := newLocal(t)

	_, err := svc.Add(streamURL, "")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = svc.Add("file:///etc/passwd", "x")
	assert.ErrorIs(t, err, ErrInvalidURL)

	assert.Empty(t, eng.Created())
}

func TestLocalService_AddEngineFailure(t *testing.T) {
	svc, eng, _ := newLocal(t)
	eng.CreateErr = assert.AnError

	_, err := svc.Add(streamURL, "x")
	assert.ErrorIs(t, err, download.ErrEngineUnavailable)

	// The failure is kept on the descriptor
	st, err := svc.Status("x")
	require.NoError(t, err)
	assert.Equal(t, "not_downloaded", st.State)
	assert.Contains(t, st.Error, "download engine unavailable")
}

func TestLocalService_Cancel(t *testing.T) {
	svc, eng, _ := newLocal(t)
	eng.CancelEmits = true

	assert.ErrorIs(t, svc.Cancel("nothing"), download.ErrNotActive)

	_, err := svc.Add(streamURL, "x")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel("x"))

	st := eventuallyState(t, svc, "x", "not_downloaded")
	assert.Contains(t, st.Error, "cancelled")
	assert.Len(t, eng.Cancelled(), 1)
}

func TestLocalService_DeleteAndUnknown(t *testing.T) {
	svc, _, root := newLocal(t)

	_, err := svc.Status("ghost")
	assert.ErrorIs(t, err, ErrUnknownAsset)
	assert.ErrorIs(t, svc.Delete("ghost"), ErrUnknownAsset)

	rel := filepath.Join("media", "kept.ts")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, rel), []byte("ts"), 0644))
	require.True(t, svc.Coordinator().Registry().Set("kept", rel))

	st, err := svc.Status("kept")
	require.NoError(t, err)
	assert.Equal(t, "downloaded", st.State)

	require.NoError(t, svc.Delete("kept"))
	assert.False(t, testutil.FileExists(filepath.Join(root, rel)))
	_, err = svc.Status("kept")
	assert.ErrorIs(t, err, ErrUnknownAsset)
}

func TestLocalService_ListMergesSources(t *testing.T) {
	svc, _, root := newLocal(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media", "b.ts"), []byte("ts"), 0644))
	require.True(t, svc.Coordinator().Registry().Set("b", "media/b.ts"))

	_, err := svc.Add(streamURL, "c")
	require.NoError(t, err)
	_, err = svc.Add(streamURL+"?a", "a")
	require.NoError(t, err)

	list, err := svc.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "downloading", list[0].State)
	assert.Equal(t, "b", list[1].Name)
	assert.Equal(t, "downloaded", list[1].State)
	assert.Equal(t, "c", list[2].Name)
}

func TestLocalService_Restore(t *testing.T) {
	svc, eng, _ := newLocal(t)
	eng.Resumable = []types.TaskInfo{{ID: "old-1", Name: "resumed", URL: streamURL}}

	n, err := svc.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []types.TaskID{"old-1"}, eng.Started())

	a := svc.Asset("resumed")
	require.NotNil(t, a)
	st, err := svc.Status("resumed")
	require.NoError(t, err)
	assert.Equal(t, "downloading", st.State)
	assert.Equal(t, "old-1", st.TaskID)
}

func TestLocalService_ShutdownClosesEngineOnce(t *testing.T) {
	root := t.TempDir()
	eng := testutil.NewFakeEngine()
	coord := download.New(eng, download.NewRegistry(""), root)

	closed := 0
	svc := NewLocalService(coord, func() { closed++ })
	require.NoError(t, svc.Shutdown())
	require.NoError(t, svc.Shutdown())
	assert.Equal(t, 1, closed)
}
