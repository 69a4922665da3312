package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"

	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// ErrEncrypted is returned for playlists whose segments need a key.
var ErrEncrypted = errors.New("encrypted streams are not supported")

// ErrNoSegments is returned for media playlists without segments.
var ErrNoSegments = errors.New("playlist has no segments")

// ErrUnsupportedPlaylist is returned for layouts that cannot be joined into
// one playable file, such as an initialization section that changes mid-stream.
var ErrUnsupportedPlaylist = errors.New("unsupported playlist layout")

// initFile holds the EXT-X-MAP section inside the work dir
const initFile = "init_section"

var playlistTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true,
	"application/x-mpegurl":         true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
	"text/plain":                    true,
	"application/octet-stream":      true,
}

// statusError is an unexpected HTTP status, with the server's Retry-After hint
type statusError struct {
	code       int
	retryAfter time.Time
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code == http.StatusRequestTimeout || e.code >= 500
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	if errors.Is(err, ErrNotPlaylist) || errors.Is(err, ErrEncrypted) || errors.Is(err, ErrNoSegments) ||
		errors.Is(err, ErrUnsupportedPlaylist) {
		return false
	}
	// Transport errors (resets, timeouts) are worth another attempt
	return true
}

// retryDelay honours Retry-After when the server sent one, otherwise backs
// off exponentially from base.
func retryDelay(err error, attempt int, base time.Duration) time.Duration {
	var se *statusError
	if errors.As(err, &se) && !se.retryAfter.IsZero() {
		d := time.Until(se.retryAfter)
		if d < 0 {
			return 0
		}
		if d > types.MaxRetryAfter {
			return types.MaxRetryAfter
		}
		return d
	}
	d := base << (attempt - 1)
	if d <= 0 || d > types.MaxRetryAfter {
		return types.MaxRetryAfter
	}
	return d
}

// withRetry runs op up to retries+1 times.
func withRetry(ctx context.Context, retries int, base time.Duration, what string, op func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(err, attempt, base)
			utils.Debug("Retrying %s in %v (attempt %d): %v", what, delay, attempt+1, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = op(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) {
			return err
		}
	}
	return err
}

// get requests rawurl, or only br of it when br is set.
func (e *Engine) get(ctx context.Context, rawurl string, br *ByteRange) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if br != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", br.Offset, br.Offset+br.Length-1))
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	ok := resp.StatusCode == http.StatusOK || (br != nil && resp.StatusCode == http.StatusPartialContent)
	if !ok {
		se := &statusError{code: resp.StatusCode, retryAfter: httpheader.RetryAfter(resp.Header)}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		_ = resp.Body.Close()
		return nil, se
	}
	return resp, nil
}

// fetchPlaylist downloads and parses one playlist
func (e *Engine) fetchPlaylist(ctx context.Context, rawurl string) (*Playlist, error) {
	base, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}

	var p *Playlist
	err = withRetry(ctx, e.runtime.GetMaxTaskRetries(), e.runtime.GetRetryBaseDelay(), "playlist", func() error {
		resp, err := e.get(ctx, rawurl, nil)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if mtype, _ := httpheader.ContentType(resp.Header); mtype != "" && !playlistTypes[mtype] {
			utils.Debug("HLS engine: unexpected playlist Content-Type %q for %s", mtype, rawurl)
		}

		parsed, err := ParsePlaylist(io.LimitReader(resp.Body, 8*types.MB), base)
		if err != nil {
			return err
		}
		p = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	return p, nil
}

// resolveMedia fetches rawurl and, for a master playlist, the variant that
// best matches the minimum bitrate.
func (e *Engine) resolveMedia(ctx context.Context, rawurl string) (*Playlist, error) {
	p, err := e.fetchPlaylist(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	if p.Master {
		v, ok := p.PickVariant(e.runtime.GetMinBitrate())
		if !ok {
			return nil, ErrNoSegments
		}
		utils.Debug("HLS engine: picked variant %d bps (%s)", v.Bandwidth, v.URI)
		if p, err = e.fetchPlaylist(ctx, v.URI); err != nil {
			return nil, err
		}
		if p.Master {
			return nil, fmt.Errorf("variant %s is a master playlist", v.URI)
		}
	}
	if p.Encrypted() {
		return nil, fmt.Errorf("%w (METHOD=%s)", ErrEncrypted, p.KeyMethod)
	}
	if p.MultipleInits {
		return nil, fmt.Errorf("%w: initialization section changes mid-stream", ErrUnsupportedPlaylist)
	}
	if len(p.Segments) == 0 {
		return nil, ErrNoSegments
	}
	if !p.Ended {
		utils.Debug("HLS engine: playlist %s has no ENDLIST, downloading the listed segments only", rawurl)
	}
	return p, nil
}

func segmentFile(i int) string {
	return fmt.Sprintf("segment_%05d.ts", i)
}

// fetchSegment downloads one segment into dir unless it is already there.
func (e *Engine) fetchSegment(ctx context.Context, seg Segment, dir string, i int) error {
	return e.fetchResource(ctx, seg.URI, seg.Range, filepath.Join(dir, segmentFile(i)))
}

// fetchInit downloads the initialization section into dir unless it is
// already there, and returns its path.
func (e *Engine) fetchInit(ctx context.Context, init *InitSection, dir string) (string, error) {
	dest := filepath.Join(dir, initFile)
	if err := e.fetchResource(ctx, init.URI, init.Range, dest); err != nil {
		return "", fmt.Errorf("initialization section: %w", err)
	}
	return dest, nil
}

// fetchResource writes rawurl (or br of it) to dest via a .part file.
func (e *Engine) fetchResource(ctx context.Context, rawurl string, br *ByteRange, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	return withRetry(ctx, e.runtime.GetMaxTaskRetries(), e.runtime.GetRetryBaseDelay(), filepath.Base(dest), func() error {
		resp, err := e.get(ctx, rawurl, br)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		var body io.Reader = resp.Body
		if br != nil {
			if resp.StatusCode == http.StatusOK {
				// Server ignored Range: skip to the sub-range ourselves
				if _, err := io.CopyN(io.Discard, body, br.Offset); err != nil {
					return err
				}
			}
			body = io.LimitReader(body, br.Length)
		}

		part := dest + types.IncompleteSuffix
		out, err := os.Create(part)
		if err != nil {
			return err
		}
		n, err := io.Copy(out, body)
		if err == nil && br != nil && n != br.Length {
			err = fmt.Errorf("byte range %d@%d: got %d bytes: %w", br.Length, br.Offset, n, io.ErrUnexpectedEOF)
		}
		if err != nil {
			_ = out.Close()
			_ = os.Remove(part)
			return err
		}
		if err := out.Close(); err != nil {
			_ = os.Remove(part)
			return err
		}
		return os.Rename(part, dest)
	})
}

// sniffExtension guesses the container from the initialization section or
// the first segment, e.g. ".mp4" for fMP4.
func sniffExtension(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return types.DefaultArtifactExt
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return types.DefaultArtifactExt
	}
	return "." + kind.Extension
}

// concatenate joins the segment files of dir into dest, preceded by the
// initialization section at initPath when there is one.
func concatenate(dir, initPath string, count int, dest string) error {
	part := dest + types.IncompleteSuffix
	out, err := os.Create(part)
	if err != nil {
		return err
	}

	files := make([]string, 0, count+1)
	if initPath != "" {
		files = append(files, initPath)
	}
	for i := 0; i < count; i++ {
		files = append(files, filepath.Join(dir, segmentFile(i)))
	}
	for _, f := range files {
		if err := appendFile(out, f); err != nil {
			_ = out.Close()
			_ = os.Remove(part)
			return err
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

func appendFile(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	_, err = io.Copy(w, in)
	return err
}
