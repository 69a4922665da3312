package hls

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestParsePlaylist_Media(t *testing.T) {
	src := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:9.009,
segment_0000.ts
#EXTINF:10.0,title
/abs/segment_0001.ts

#EXTINF:3.5,
https://cdn.example.com/segment_0002.ts
#EXT-X-ENDLIST
`
	p, err := ParsePlaylist(strings.NewReader(src), mustURL(t, "https://video.example.com/45505/480/index.m3u8"))
	require.NoError(t, err)

	assert.False(t, p.Master)
	assert.True(t, p.Ended)
	assert.False(t, p.Encrypted())
	require.Len(t, p.Segments, 3)

	assert.Equal(t, "https://video.example.com/45505/480/segment_0000.ts", p.Segments[0].URI)
	assert.Equal(t, "https://video.example.com/abs/segment_0001.ts", p.Segments[1].URI)
	assert.Equal(t, "https://cdn.example.com/segment_0002.ts", p.Segments[2].URI)

	assert.Equal(t, 9009*time.Millisecond, p.Segments[0].Duration)
	assert.Equal(t, 9009*time.Millisecond, p.Segments[1].Start)
	assert.Equal(t, 19009*time.Millisecond, p.Segments[2].Start)
	assert.Equal(t, 22509*time.Millisecond, p.TotalDuration())
}

func TestParsePlaylist_Master(t *testing.T) {
	src := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720
hi/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=150000,RESOLUTION=416x234
lo/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=640000,RESOLUTION=640x360
mid/index.m3u8
`
	p, err := ParsePlaylist(strings.NewReader(src), mustURL(t, "https://e.com/master.m3u8"))
	require.NoError(t, err)

	assert.True(t, p.Master)
	require.Len(t, p.Variants, 3)
	assert.Equal(t, int64(1280000), p.Variants[0].Bandwidth)
	assert.Equal(t, "1280x720", p.Variants[0].Resolution)
	assert.Equal(t, "https://e.com/lo/index.m3u8", p.Variants[1].URI)
	assert.Empty(t, p.Segments)
}

func TestPickVariant(t *testing.T) {
	p := &Playlist{Variants: []Variant{
		{URI: "hi", Bandwidth: 1280000},
		{URI: "lo", Bandwidth: 150000},
		{URI: "mid", Bandwidth: 640000},
		{URI: "low-mid", Bandwidth: 300000},
	}}

	v, ok := p.PickVariant(265000)
	require.True(t, ok)
	assert.Equal(t, "low-mid", v.URI)

	v, _ = p.PickVariant(700000)
	assert.Equal(t, "hi", v.URI)

	// Nothing reaches the minimum: best available
	v, _ = p.PickVariant(5000000)
	assert.Equal(t, "hi", v.URI)

	_, ok = (&Playlist{}).PickVariant(1)
	assert.False(t, ok)
}

func TestParsePlaylist_Key(t *testing.T) {
	src := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://k/1\",IV=0x1\n#EXTINF:4,\na.ts\n"
	p, err := ParsePlaylist(strings.NewReader(src), nil)
	require.NoError(t, err)
	assert.Equal(t, "AES-128", p.KeyMethod)
	assert.True(t, p.Encrypted())

	plain := "#EXTM3U\n#EXT-X-KEY:METHOD=NONE\n#EXTINF:4,\na.ts\n"
	p, err = ParsePlaylist(strings.NewReader(plain), nil)
	require.NoError(t, err)
	assert.False(t, p.Encrypted())
}

func TestParsePlaylist_KeyRotationToNoneStaysEncrypted(t *testing.T) {
	src := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"https://k/1\"\n#EXTINF:4,\na.ts\n" +
		"#EXT-X-KEY:METHOD=NONE\n#EXTINF:4,\nb.ts\n"
	p, err := ParsePlaylist(strings.NewReader(src), nil)
	require.NoError(t, err)
	assert.True(t, p.Encrypted())
	assert.Equal(t, "AES-128", p.KeyMethod)

	late := "#EXTM3U\n#EXTINF:4,\na.ts\n#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"k\"\n#EXTINF:4,\nb.ts\n"
	p, err = ParsePlaylist(strings.NewReader(late), nil)
	require.NoError(t, err)
	assert.True(t, p.Encrypted())
}

func TestParsePlaylist_InitSectionAndByteRanges(t *testing.T) {
	src := `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-MAP:URI="init.mp4",BYTERANGE="720@0"
#EXTINF:4,
#EXT-X-BYTERANGE:1000@720
main.mp4
#EXTINF:4,
#EXT-X-BYTERANGE:500
main.mp4
#EXTINF:4,
tail.m4s
#EXT-X-ENDLIST
`
	p, err := ParsePlaylist(strings.NewReader(src), mustURL(t, "https://e.com/v/index.m3u8"))
	require.NoError(t, err)

	require.NotNil(t, p.Init)
	assert.Equal(t, "https://e.com/v/init.mp4", p.Init.URI)
	assert.Equal(t, &ByteRange{Offset: 0, Length: 720}, p.Init.Range)
	assert.False(t, p.MultipleInits)

	require.Len(t, p.Segments, 3)
	assert.Equal(t, &ByteRange{Offset: 720, Length: 1000}, p.Segments[0].Range)
	// No offset: continues after the previous range of the same resource
	assert.Equal(t, &ByteRange{Offset: 1720, Length: 500}, p.Segments[1].Range)
	assert.Nil(t, p.Segments[2].Range)
}

func TestParsePlaylist_ChangingInitSection(t *testing.T) {
	same := "#EXTM3U\n#EXT-X-MAP:URI=\"i.mp4\"\n#EXTINF:4,\na.m4s\n#EXT-X-MAP:URI=\"i.mp4\"\n#EXTINF:4,\nb.m4s\n"
	p, err := ParsePlaylist(strings.NewReader(same), nil)
	require.NoError(t, err)
	assert.False(t, p.MultipleInits)

	changed := "#EXTM3U\n#EXT-X-MAP:URI=\"i.mp4\"\n#EXTINF:4,\na.m4s\n#EXT-X-MAP:URI=\"j.mp4\"\n#EXTINF:4,\nb.m4s\n"
	p, err = ParsePlaylist(strings.NewReader(changed), nil)
	require.NoError(t, err)
	assert.True(t, p.MultipleInits)
	assert.Equal(t, "i.mp4", p.Init.URI)
}

func TestParsePlaylist_Invalid(t *testing.T) {
	_, err := ParsePlaylist(strings.NewReader(""), nil)
	assert.ErrorIs(t, err, ErrNotPlaylist)

	_, err = ParsePlaylist(strings.NewReader("<html></html>"), nil)
	assert.ErrorIs(t, err, ErrNotPlaylist)

	_, err = ParsePlaylist(strings.NewReader("#EXTM3U\n#EXTINF:abc,\na.ts\n"), nil)
	assert.Error(t, err)

	_, err = ParsePlaylist(strings.NewReader("#EXTM3U\n#EXT-X-BYTERANGE:x@1\n#EXTINF:4,\na.ts\n"), nil)
	assert.Error(t, err)

	_, err = ParsePlaylist(strings.NewReader("#EXTM3U\n#EXT-X-MAP:BYTERANGE=\"1@0\"\n"), nil)
	assert.Error(t, err)
}

func TestParseAttributes(t *testing.T) {
	attrs := parseAttributes(`BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720`)
	assert.Equal(t, map[string]string{
		"BANDWIDTH":  "1280000",
		"CODECS":     "avc1.4d401f,mp4a.40.2",
		"RESOLUTION": "1280x720",
	}, attrs)
}
