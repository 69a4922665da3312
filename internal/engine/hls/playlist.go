// Package hls is the concrete download engine: it fetches HLS playlists,
// downloads their segments into a work directory and concatenates them into
// one artifact under the storage root.
package hls

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotPlaylist is returned for content without the #EXTM3U header.
var ErrNotPlaylist = errors.New("not an HLS playlist")

// Variant is one EXT-X-STREAM-INF entry of a master playlist
type Variant struct {
	URI        string
	Bandwidth  int64
	Resolution string
}

// ByteRange selects part of a resource. Length 0 means the whole resource.
type ByteRange struct {
	Offset int64
	Length int64
}

// Segment is one media segment with its position in the timeline
type Segment struct {
	URI      string
	Range    *ByteRange // EXT-X-BYTERANGE, nil for the whole resource
	Start    time.Duration
	Duration time.Duration
}

// InitSection is the EXT-X-MAP media initialization section, e.g. the
// ftyp/moov boxes of an fMP4 stream.
type InitSection struct {
	URI   string
	Range *ByteRange
}

// Playlist is either a master playlist (Variants) or a media playlist (Segments).
type Playlist struct {
	Master   bool
	Variants []Variant

	Segments      []Segment
	Init          *InitSection
	MultipleInits bool   // EXT-X-MAP changes mid-stream
	KeyMethod     string // first EXT-X-KEY METHOD other than NONE
	Ended         bool
}

// Encrypted reports whether any segment needs a decryption key.
func (p *Playlist) Encrypted() bool {
	return p.KeyMethod != ""
}

// TotalDuration returns the sum of segment durations.
func (p *Playlist) TotalDuration() time.Duration {
	var d time.Duration
	for _, s := range p.Segments {
		d += s.Duration
	}
	return d
}

// ParsePlaylist reads a playlist, resolving URIs against base.
func ParsePlaylist(r io.Reader, base *url.URL) (*Playlist, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	p := &Playlist{}
	first := true
	var pendingDuration time.Duration
	var pendingVariant *Variant
	var pendingRange *ByteRange
	pendingHasOffset := false
	rangeEnd := make(map[string]int64) // end of the previous sub-range per URI
	var offset time.Duration

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			if line != "#EXTM3U" {
				return nil, ErrNotPlaylist
			}
			first = false
			continue
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			tag, value, _ := strings.Cut(line, ":")
			switch tag {
			case "#EXTINF":
				secs, _, _ := strings.Cut(value, ",")
				f, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
				if err != nil || f < 0 {
					return nil, fmt.Errorf("invalid EXTINF %q", value)
				}
				pendingDuration = time.Duration(math.Round(f * float64(time.Second)))
			case "#EXT-X-STREAM-INF":
				p.Master = true
				attrs := parseAttributes(value)
				v := &Variant{Resolution: attrs["RESOLUTION"]}
				if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
					v.Bandwidth = bw
				}
				pendingVariant = v
			case "#EXT-X-KEY":
				if m := strings.ToUpper(parseAttributes(value)["METHOD"]); m != "" && m != "NONE" && p.KeyMethod == "" {
					p.KeyMethod = m
				}
			case "#EXT-X-BYTERANGE":
				br, hasOffset, err := parseByteRange(value)
				if err != nil {
					return nil, err
				}
				pendingRange, pendingHasOffset = br, hasOffset
			case "#EXT-X-MAP":
				attrs := parseAttributes(value)
				if attrs["URI"] == "" {
					return nil, fmt.Errorf("EXT-X-MAP without URI: %q", value)
				}
				uri, err := resolve(base, attrs["URI"])
				if err != nil {
					return nil, err
				}
				init := &InitSection{URI: uri}
				if raw, ok := attrs["BYTERANGE"]; ok {
					if init.Range, _, err = parseByteRange(raw); err != nil {
						return nil, err
					}
				}
				if p.Init != nil && !sameInit(p.Init, init) {
					p.MultipleInits = true
				}
				if p.Init == nil {
					p.Init = init
				}
			case "#EXT-X-ENDLIST":
				p.Ended = true
			}
			continue
		}

		// URI line
		uri, err := resolve(base, line)
		if err != nil {
			return nil, err
		}
		if pendingVariant != nil {
			pendingVariant.URI = uri
			p.Variants = append(p.Variants, *pendingVariant)
			pendingVariant = nil
			continue
		}
		seg := Segment{URI: uri, Start: offset, Duration: pendingDuration}
		if pendingRange != nil {
			if !pendingHasOffset {
				pendingRange.Offset = rangeEnd[uri]
			}
			rangeEnd[uri] = pendingRange.Offset + pendingRange.Length
			seg.Range = pendingRange
			pendingRange = nil
		}
		p.Segments = append(p.Segments, seg)
		offset += pendingDuration
		pendingDuration = 0
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, ErrNotPlaylist
	}
	return p, nil
}

// PickVariant returns the lowest-bandwidth variant at or above minBandwidth, or the
// highest one when none reaches it.
func (p *Playlist) PickVariant(minBandwidth int64) (Variant, bool) {
	if len(p.Variants) == 0 {
		return Variant{}, false
	}
	var best, highest *Variant
	for i := range p.Variants {
		v := &p.Variants[i]
		if highest == nil || v.Bandwidth > highest.Bandwidth {
			highest = v
		}
		if v.Bandwidth >= minBandwidth && (best == nil || v.Bandwidth < best.Bandwidth) {
			best = v
		}
	}
	if best == nil {
		best = highest
	}
	return *best, true
}

// parseByteRange reads "<length>[@<offset>]".
func parseByteRange(s string) (*ByteRange, bool, error) {
	lengthStr, offsetStr, hasOffset := strings.Cut(strings.TrimSpace(s), "@")
	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil || length <= 0 {
		return nil, false, fmt.Errorf("invalid byte range %q", s)
	}
	br := &ByteRange{Length: length}
	if hasOffset {
		if br.Offset, err = strconv.ParseInt(offsetStr, 10, 64); err != nil || br.Offset < 0 {
			return nil, false, fmt.Errorf("invalid byte range %q", s)
		}
	}
	return br, hasOffset, nil
}

func sameInit(a, b *InitSection) bool {
	if a.URI != b.URI || (a.Range == nil) != (b.Range == nil) {
		return false
	}
	return a.Range == nil || *a.Range == *b.Range
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid playlist uri %q: %w", ref, err)
	}
	if base == nil {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}

// parseAttributes splits an attribute list like BANDWIDTH=1,CODECS="a,b".
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.TrimSpace(key)

		var value string
		if strings.HasPrefix(rest, "\"") {
			end := strings.Index(rest[1:], "\"")
			if end < 0 {
				value, rest = rest[1:], ""
			} else {
				value, rest = rest[1:end+1], rest[end+2:]
			}
			rest = strings.TrimPrefix(rest, ",")
		} else {
			value, rest, _ = strings.Cut(rest, ",")
		}
		attrs[key] = value
		s = rest
	}
	return attrs
}
