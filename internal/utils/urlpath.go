package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"
)

// ValidateStreamURL checks that raw is an absolute http(s) URL.
func ValidateStreamURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return parsed, nil
}

// SafeFilename turns an asset name into something usable as a file name.
// Example: "The Social/Network" -> "The_Social_Network"
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "asset"
	}
	return out
}

// EnsureAbsPath returns an absolute form of p, or p unchanged on error
func EnsureAbsPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// ConvertBytesToHumanReadable formats a byte count, e.g. 1536 -> "1.50 KB"
func ConvertBytesToHumanReadable(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
