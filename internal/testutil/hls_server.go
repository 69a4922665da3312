// Package testutil provides testing utilities for hlsget.
package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// HLSServer is a configurable HLS origin for engine tests. It serves
//
//	/master.m3u8          master playlist listing Variants
//	/v/<bw>/index.m3u8    media playlist of one variant
//	/index.m3u8           media playlist (no master)
//	/seg/<i>.ts           segment i
//	/init.mp4             fMP4 initialization section (WithFragmentedMP4)
//	/all.ts               every segment in one resource (WithByteRanges)
type HLSServer struct {
	Server *httptest.Server

	// Configuration
	Segments         int           // number of media segments
	SegmentDuration  float64       // EXTINF seconds per segment
	SegmentSize      int           // bytes per segment
	Variants         []int64       // BANDWIDTH values for the master playlist
	ContentType      string        // Content-Type of playlists
	Encrypted        bool          // add EXT-X-KEY METHOD=AES-128
	FragmentedMP4    bool          // EXT-X-MAP init section plus moof fragments instead of TS packets
	ByteRanges       bool          // segments are EXT-X-BYTERANGE slices of /all.ts
	Latency          time.Duration // artificial latency per segment request
	FailSegment      int           // segment index answering 503 (-1 = none)
	FailCount        int           // how many times FailSegment fails before succeeding
	RetryAfter       string        // Retry-After value sent with failures
	PermanentFailure bool          // FailSegment always answers 404

	// Tracking
	RequestCount    atomic.Int64
	SegmentRequests atomic.Int64
	FailedRequests  atomic.Int64

	mu       sync.Mutex
	failures map[int]int
	hits     map[string]int
	gate     chan struct{}
}

// HLSServerOption configures an HLSServer.
type HLSServerOption func(*HLSServer)

// WithSegments sets the segment count.
func WithSegments(n int) HLSServerOption {
	return func(s *HLSServer) { s.Segments = n }
}

// WithSegmentDuration sets the EXTINF duration in seconds.
func WithSegmentDuration(sec float64) HLSServerOption {
	return func(s *HLSServer) { s.SegmentDuration = sec }
}

// WithSegmentSize sets the size of each segment in bytes.
func WithSegmentSize(n int) HLSServerOption {
	return func(s *HLSServer) { s.SegmentSize = n }
}

// WithVariants sets the master playlist bandwidths.
func WithVariants(bandwidths ...int64) HLSServerOption {
	return func(s *HLSServer) { s.Variants = bandwidths }
}

// WithPlaylistContentType overrides the playlist Content-Type.
func WithPlaylistContentType(ct string) HLSServerOption {
	return func(s *HLSServer) { s.ContentType = ct }
}

// WithEncryption marks the media playlist as AES-128 encrypted.
func WithEncryption() HLSServerOption {
	return func(s *HLSServer) { s.Encrypted = true }
}

// WithFragmentedMP4 serves an fMP4 stream: an init section referenced by
// EXT-X-MAP and segments that are bare moof fragments.
func WithFragmentedMP4() HLSServerOption {
	return func(s *HLSServer) { s.FragmentedMP4 = true }
}

// WithByteRanges lists the segments as byte ranges of one resource.
func WithByteRanges() HLSServerOption {
	return func(s *HLSServer) { s.ByteRanges = true }
}

// WithLatency adds latency per segment request.
func WithLatency(d time.Duration) HLSServerOption {
	return func(s *HLSServer) { s.Latency = d }
}

// WithFailingSegment makes segment i fail count times with 503 and retryAfter.
func WithFailingSegment(i, count int, retryAfter string) HLSServerOption {
	return func(s *HLSServer) {
		s.FailSegment = i
		s.FailCount = count
		s.RetryAfter = retryAfter
	}
}

// WithMissingSegment makes segment i answer 404 forever.
func WithMissingSegment(i int) HLSServerOption {
	return func(s *HLSServer) {
		s.FailSegment = i
		s.PermanentFailure = true
	}
}

// WithGate holds every segment request until Release is called.
func WithGate() HLSServerOption {
	return func(s *HLSServer) { s.gate = make(chan struct{}) }
}

// NewHLSServer starts an HLS origin and closes it when the test ends.
func NewHLSServer(t *testing.T, opts ...HLSServerOption) *HLSServer {
	t.Helper()
	s := &HLSServer{
		Segments:        4,
		SegmentDuration: 4,
		SegmentSize:     4 * 188,
		ContentType:     "application/vnd.apple.mpegurl",
		FailSegment:     -1,
		failures:        make(map[int]int),
		hits:            make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = NewHTTPServerT(t, http.HandlerFunc(s.handleRequest))
	t.Cleanup(s.Close)
	return s
}

// URL returns the server's base URL.
func (s *HLSServer) URL() string {
	return s.Server.URL
}

// MediaURL returns the URL of the media playlist.
func (s *HLSServer) MediaURL() string {
	return s.Server.URL + "/index.m3u8"
}

// MasterURL returns the URL of the master playlist.
func (s *HLSServer) MasterURL() string {
	return s.Server.URL + "/master.m3u8"
}

// Hits returns how many requests were made for path.
func (s *HLSServer) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Release unblocks gated segment requests.
func (s *HLSServer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Close releases gated requests and shuts the server down.
func (s *HLSServer) Close() {
	s.Release()
	if s.Server != nil {
		s.Server.Close()
	}
}

// InitData returns the fMP4 initialization section (ftyp and an empty moov).
func (s *HLSServer) InitData() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
		0x00, 0x00, 0x00, 0x08, 'm', 'o', 'o', 'v',
	}
}

// SegmentData returns the bytes served for segment i.
func (s *HLSServer) SegmentData(i int) []byte {
	data := make([]byte, s.SegmentSize)
	if s.FragmentedMP4 {
		header := []byte{0x00, 0x00, 0x00, 0x10, 'm', 'o', 'o', 'f', 0x00, 0x00, 0x00, 0x08, 'm', 'f', 'h', 'd'}
		copy(data, header)
		for j := len(header); j < len(data); j++ {
			data[j] = byte(i)
		}
		return data
	}
	// MPEG-TS: 188 byte packets starting with the sync byte
	for j := range data {
		if j%188 == 0 {
			data[j] = 0x47
		} else {
			data[j] = byte(i)
		}
	}
	return data
}

// AllSegments returns every segment joined, as served at /all.ts.
func (s *HLSServer) AllSegments() []byte {
	var b bytes.Buffer
	for i := 0; i < s.Segments; i++ {
		b.Write(s.SegmentData(i))
	}
	return b.Bytes()
}

// MediaPlaylist renders the media playlist.
func (s *HLSServer) MediaPlaylist(segmentPrefix string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(s.SegmentDuration+0.999))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	if s.Encrypted {
		b.WriteString("#EXT-X-KEY:METHOD=AES-128,URI=\"https://keys.example.com/k1\"\n")
	}
	if s.FragmentedMP4 {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"%sinit.mp4\"\n", segmentPrefix)
	}
	for i := 0; i < s.Segments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", s.SegmentDuration)
		if s.ByteRanges {
			if i == 0 {
				fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d@0\n", s.SegmentSize)
			} else {
				fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d\n", s.SegmentSize)
			}
			fmt.Fprintf(&b, "%sall.ts\n", segmentPrefix)
			continue
		}
		fmt.Fprintf(&b, "%sseg/%d.ts\n", segmentPrefix, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// MasterPlaylist renders the master playlist.
func (s *HLSServer) MasterPlaylist() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, bw := range s.Variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=640x360\nv/%d/index.m3u8\n", bw, bw)
	}
	return b.String()
}

func (s *HLSServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	s.RequestCount.Add(1)
	path := r.URL.Path
	s.mu.Lock()
	s.hits[path]++
	s.mu.Unlock()

	switch {
	case path == "/master.m3u8":
		s.writePlaylist(w, s.MasterPlaylist())
	case path == "/index.m3u8":
		s.writePlaylist(w, s.MediaPlaylist(""))
	case strings.HasPrefix(path, "/v/") && strings.HasSuffix(path, "/index.m3u8"):
		// Variant playlists reference segments at the server root
		s.writePlaylist(w, s.MediaPlaylist("/"))
	case path == "/init.mp4" && s.FragmentedMP4:
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "init.mp4", time.Time{}, bytes.NewReader(s.InitData()))
	case path == "/all.ts" && s.ByteRanges:
		s.SegmentRequests.Add(1)
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeContent(w, r, "all.ts", time.Time{}, bytes.NewReader(s.AllSegments()))
	case strings.HasPrefix(path, "/seg/"):
		s.serveSegment(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/seg/"), ".ts"))
	default:
		http.NotFound(w, r)
	}
}

func (s *HLSServer) writePlaylist(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", s.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write([]byte(body))
}

func (s *HLSServer) serveSegment(w http.ResponseWriter, r *http.Request, idx string) {
	s.SegmentRequests.Add(1)
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 || i >= s.Segments {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-r.Context().Done():
			return
		}
	}

	if i == s.FailSegment {
		if s.PermanentFailure {
			s.FailedRequests.Add(1)
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		n := s.failures[i]
		s.failures[i] = n + 1
		s.mu.Unlock()
		if n < s.FailCount {
			s.FailedRequests.Add(1)
			if s.RetryAfter != "" {
				w.Header().Set("Retry-After", s.RetryAfter)
			}
			http.Error(w, "Simulated failure", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeContent(w, r, idx+".ts", time.Time{}, bytes.NewReader(s.SegmentData(i)))
}
