package core

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/surge-downloader/hlsget/internal/download"
	"github.com/surge-downloader/hlsget/internal/utils"
)

// AddRequest is the body of POST /download.
type AddRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// NewHandler serves svc over the daemon's JSON API:
//
//	GET  /health
//	POST /download        {"url": ..., "name": ...}
//	POST /cancel?name=
//	POST /delete?name=
//	GET  /status?name=
//	GET  /list
//
// Every endpoint but /health requires "Authorization: Bearer <token>" when
// token is non-empty.
func NewHandler(svc Service, token string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req AddRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		st, err := svc.Add(strings.TrimSpace(req.URL), strings.TrimSpace(req.Name))
		if err != nil {
			writeError(w, err)
			return
		}
		utils.Debug("API: queued %s", req.Name)
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r, http.MethodPost)
		if !ok {
			return
		}
		if err := svc.Cancel(name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "name": name})
	})

	mux.HandleFunc("/delete", func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r, http.MethodPost, http.MethodDelete)
		if !ok {
			return
		}
		if err := svc.Delete(name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r, http.MethodGet)
		if !ok {
			return
		}
		st, err := svc.Status(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		statuses, err := svc.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	return authMiddleware(token, mux)
}

func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.URL.Path != "/health" {
			got, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func nameParam(w http.ResponseWriter, r *http.Request, methods ...string) (string, bool) {
	allowed := false
	for _, m := range methods {
		if r.Method == m {
			allowed = true
			break
		}
	}
	if !allowed {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing name parameter", http.StatusBadRequest)
		return "", false
	}
	return name, true
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, download.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, download.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debug("API: failed to encode response: %v", err)
	}
}
