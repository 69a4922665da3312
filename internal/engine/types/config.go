package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
)

const (
	// IncompleteSuffix is appended to segment files while they are being written
	IncompleteSuffix = ".part"

	// DefaultArtifactExt is used when the first segment cannot be sniffed
	DefaultArtifactExt = ".ts"

	// MediaDirName is the directory under the storage root holding finished artifacts
	MediaDirName = "media"

	// WorkDirName is the directory under the storage root holding in-flight segments
	WorkDirName = "work"
)

// DefaultMinBitrate mirrors the minimum media bitrate requested for offline copies (bits/s).
const DefaultMinBitrate = 265_000

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	RequestTimeout               = 60 * time.Second
)

// Channel buffer sizes
const (
	EventChannelBuffer = 100
	TaskQueueBuffer    = 100
)

const (
	MaxTaskRetries        = 3
	RetryBaseDelay        = 200 * time.Millisecond
	MaxRetryAfter         = 30 * time.Second
	DefaultMaxDownloads   = 3
	DefaultSegmentWorkers = 4
)

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	MaxSegmentConnections  int
	UserAgent              string
	ProxyURL               string
	MinBitrate             int64
	MaxTaskRetries         int
	RetryBaseDelay         time.Duration
	RequestTimeout         time.Duration
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return "hlsget/1.0 (+https://github.com/surge-downloader/hlsget)"
	}
	return r.UserAgent
}

// GetMaxConcurrentDownloads returns configured value or default
func (r *RuntimeConfig) GetMaxConcurrentDownloads() int {
	if r == nil || r.MaxConcurrentDownloads <= 0 {
		return DefaultMaxDownloads
	}
	return r.MaxConcurrentDownloads
}

// GetMaxSegmentConnections returns configured value or default
func (r *RuntimeConfig) GetMaxSegmentConnections() int {
	if r == nil || r.MaxSegmentConnections <= 0 {
		return DefaultSegmentWorkers
	}
	return r.MaxSegmentConnections
}

// GetMinBitrate returns configured value or default
func (r *RuntimeConfig) GetMinBitrate() int64 {
	if r == nil || r.MinBitrate <= 0 {
		return DefaultMinBitrate
	}
	return r.MinBitrate
}

// GetMaxTaskRetries returns configured value or default
func (r *RuntimeConfig) GetMaxTaskRetries() int {
	if r == nil || r.MaxTaskRetries <= 0 {
		return MaxTaskRetries
	}
	return r.MaxTaskRetries
}

// GetRetryBaseDelay returns configured value or default
func (r *RuntimeConfig) GetRetryBaseDelay() time.Duration {
	if r == nil || r.RetryBaseDelay <= 0 {
		return RetryBaseDelay
	}
	return r.RetryBaseDelay
}

// GetRequestTimeout returns configured value or default
func (r *RuntimeConfig) GetRequestTimeout() time.Duration {
	if r == nil || r.RequestTimeout <= 0 {
		return RequestTimeout
	}
	return r.RequestTimeout
}
