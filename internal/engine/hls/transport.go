package hls

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/surge-downloader/hlsget/internal/engine/types"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// headerTransport sets fixed headers on every request
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// newClient builds the HTTP client shared by all tasks of an engine.
func newClient(runtime *types.RuntimeConfig, headers map[string]string) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   types.DialTimeout,
		KeepAlive: types.KeepAliveDuration,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          types.DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   runtime.GetMaxSegmentConnections() * 2,
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		Proxy:                 http.ProxyFromEnvironment,
	}

	if runtime != nil && runtime.ProxyURL != "" {
		if err := applyProxy(transport, runtime.ProxyURL); err != nil {
			return nil, err
		}
	}

	all := map[string]string{"User-Agent": runtime.GetUserAgent()}
	for k, v := range headers {
		all[k] = v
	}

	return &http.Client{
		Timeout:   runtime.GetRequestTimeout(),
		Transport: &headerTransport{headers: all, base: transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			// Keep auth and cookie headers across CDN redirects
			if len(via) > 0 {
				for key, vals := range via[0].Header {
					if _, set := req.Header[key]; !set {
						req.Header[key] = vals
					}
				}
			}
			return nil
		},
	}, nil
}

func applyProxy(transport *http.Transport, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy url %q: %w", raw, err)
	}

	if !strings.HasPrefix(parsed.Scheme, "socks5") {
		utils.Debug("HLS engine: using HTTP proxy %s", parsed.Redacted())
		transport.Proxy = http.ProxyURL(parsed)
		return nil
	}

	var auth *proxy.Auth
	if parsed.User != nil {
		pass, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	utils.Debug("HLS engine: using SOCKS5 proxy %s", parsed.Host)

	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return nil
}
