package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStreamURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https manifest", url: "https://video.example.com/45505/480/index.m3u8"},
		{name: "http with port", url: "http://127.0.0.1:8080/live.m3u8"},
		{name: "with query", url: "https://cdn.example.com/a.m3u8?token=abc"},
		{name: "ftp scheme", url: "ftp://example.com/a.m3u8", wantErr: true},
		{name: "relative", url: "/a.m3u8", wantErr: true},
		{name: "no host", url: "https:///a.m3u8", wantErr: true},
		{name: "garbage", url: "://invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateStreamURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"social_network", "social_network"},
		{"The Social/Network", "The_Social_Network"},
		{"../../etc/passwd", "etc_passwd"},
		{"фильм", "фильм"},
		{"", "asset"},
		{"///", "asset"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeFilename(tt.in))
		})
	}
}

func TestEnsureAbsPath(t *testing.T) {
	assert.Equal(t, "", EnsureAbsPath(""))

	abs := filepath.Join(string(filepath.Separator), "tmp", "x")
	assert.Equal(t, abs, EnsureAbsPath(abs))

	got := EnsureAbsPath("relative/dir")
	assert.True(t, filepath.IsAbs(got), "expected absolute path, got %s", got)
}

func TestConvertBytesToHumanReadable(t *testing.T) {
	assert.Equal(t, "512 B", ConvertBytesToHumanReadable(512))
	assert.Equal(t, "1.50 KB", ConvertBytesToHumanReadable(1536))
	assert.Equal(t, "2.00 MB", ConvertBytesToHumanReadable(2*1024*1024))
}

func TestDebug_WritesThroughSetOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, zerolog.DebugLevel)
	defer SetOutput(&bytes.Buffer{}, zerolog.Disabled)

	Debug("hello %s", "world")
	assert.Contains(t, buf.String(), "hello world")

	buf.Reset()
	SetLevel("warn")
	Debug("suppressed")
	assert.Empty(t, buf.String())
}

func TestCleanupLogs_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	ConfigureDebug(dir)
	defer SetOutput(&bytes.Buffer{}, zerolog.Disabled)

	for _, name := range []string{"debug-20200101-000000.log", "debug-20210101-000000.log", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	CleanupLogs(1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "notes.txt")
	assert.NotContains(t, names, "debug-20200101-000000.log")
	assert.NotContains(t, names, "debug-20210101-000000.log")
	assert.Len(t, names, 2)
}
