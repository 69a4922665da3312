package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func listenIPv4() (net.Listener, error) {
	return net.Listen("tcp4", "127.0.0.1:0")
}

func startOn(ln net.Listener, handler http.Handler) *httptest.Server {
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	return srv
}

// NewHTTPServer starts an httptest server bound to IPv4, falling back to the
// default listener when tcp4 is unavailable.
func NewHTTPServer(handler http.Handler) *httptest.Server {
	ln, err := listenIPv4()
	if err != nil {
		return httptest.NewServer(handler)
	}
	return startOn(ln, handler)
}

// NewHTTPServerT starts an httptest server bound to IPv4 and skips the test if binding fails.
func NewHTTPServerT(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	ln, err := listenIPv4()
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	return startOn(ln, handler)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
