package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/engine/types"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes back onto the service sentinels so
// callers can use errors.Is on remote errors too.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrUnknownAsset
	case http.StatusConflict:
		return download.ErrNotActive
	case http.StatusServiceUnavailable:
		return download.ErrEngineUnavailable
	case http.StatusBadRequest:
		if strings.Contains(e.Message, ErrInvalidName.Error()) {
			return ErrInvalidName
		}
		return ErrInvalidURL
	}
	return nil
}

// RemoteService implements Service against a running daemon.
type RemoteService struct {
	BaseURL string
	Token   string
	Client  *http.Client
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRemoteService creates a client for the daemon at baseURL.
func NewRemoteService(baseURL string, token string) *RemoteService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *RemoteService) doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(s.ctx, method, s.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}
	return resp, nil
}

func (s *RemoteService) decode(method, path string, body any, out any) error {
	resp, err := s.doRequest(method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks that the daemon is reachable.
func (s *RemoteService) Health() error {
	return s.decode(http.MethodGet, "/health", nil, nil)
}

func (s *RemoteService) Add(rawurl, name string) (*types.AssetStatus, error) {
	var st types.AssetStatus
	if err := s.decode(http.MethodPost, "/download", AddRequest{URL: rawurl, Name: name}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RemoteService) Cancel(name string) error {
	return s.decode(http.MethodPost, "/cancel?name="+url.QueryEscape(name), nil, nil)
}

func (s *RemoteService) Delete(name string) error {
	return s.decode(http.MethodPost, "/delete?name="+url.QueryEscape(name), nil, nil)
}

func (s *RemoteService) Status(name string) (*types.AssetStatus, error) {
	var st types.AssetStatus
	if err := s.decode(http.MethodGet, "/status?name="+url.QueryEscape(name), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RemoteService) List() ([]types.AssetStatus, error) {
	var statuses []types.AssetStatus
	if err := s.decode(http.MethodGet, "/list", nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Shutdown aborts in-flight requests. The daemon keeps running.
func (s *RemoteService) Shutdown() error {
	s.cancel()
	return nil
}
