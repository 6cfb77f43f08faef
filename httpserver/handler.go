package httpserver

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/spf13/afero"
)

// RequestRecorder receives per-request measurements. *metrics.MetricsServer
// implements it.
type RequestRecorder interface {
	ObserveRequest(op string, code int, d time.Duration)
	AddBytes(direction string, n int64)
}

// Handler serves the REST object store contract over an afero filesystem:
//
//	PUT <prefix>/<path>        store the request body as a file
//	GET <prefix>/<path>        return the file contents
//	GET <prefix>/<path>?list   list a directory, or the file itself
type Handler struct {
	fs       afero.Fs
	prefix   string
	token    string
	log      *slog.Logger
	recorder RequestRecorder
}

// NewHandler creates a gateway handler. An empty prefix defaults to
// interfaces.DefaultRESTPrefix.
func NewHandler(fs afero.Fs, prefix string, log *slog.Logger) *Handler {
	if prefix == "" {
		prefix = interfaces.DefaultRESTPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		fs:     fs,
		prefix: "/" + strings.Trim(prefix, "/"),
		log:    log,
	}
}

// WithAuthToken requires every request to carry the token as basic auth
// credentials "token:<token>".
func (h *Handler) WithAuthToken(token string) *Handler {
	h.token = token
	return h
}

// WithRecorder sets the metrics recorder.
func (h *Handler) WithRecorder(recorder RequestRecorder) *Handler {
	h.recorder = recorder
	return h
}

// Prefix returns the endpoint prefix the handler is mounted under.
func (h *Handler) Prefix() string {
	return h.prefix
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get(h.prefix, h.HandleGet)
		r.Get(h.prefix+"/*", h.HandleGet)
		r.Put(h.prefix+"/*", h.HandlePut)
	})
}

// HandlePut stores the request body at the requested path, creating parent
// directories.
//
// URL format: PUT <prefix>/<path>
// Response: 201 with an empty JSON object
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := mediumPath(chi.URLParam(r, "*"))
	if target == "/" {
		h.writeError(w, "put", start, http.StatusBadRequest, interfaces.ErrorCodeInvalidParameterValue, "cannot write the root directory")
		return
	}

	if info, err := h.fs.Stat(target); err == nil && info.IsDir() {
		h.writeError(w, "put", start, http.StatusBadRequest, interfaces.ErrorCodeInvalidParameterValue,
			fmt.Sprintf("%s is a directory", target))
		return
	}

	if err := h.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		h.log.Error("Failed to create artifact directory", slog.String("path", target), "err", err)
		h.writeError(w, "put", start, http.StatusInternalServerError, "", err.Error())
		return
	}

	f, err := h.fs.Create(target)
	if err != nil {
		h.log.Error("Failed to create artifact", slog.String("path", target), "err", err)
		h.writeError(w, "put", start, http.StatusInternalServerError, "", err.Error())
		return
	}
	n, err := io.Copy(f, r.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		h.log.Error("Failed to write artifact", slog.String("path", target), "err", err)
		h.writeError(w, "put", start, http.StatusInternalServerError, "", err.Error())
		return
	}

	if h.recorder != nil {
		h.recorder.AddBytes("in", n)
	}
	h.log.Debug("Stored artifact", slog.String("path", target), slog.Int64("size", n))
	h.writeJSON(w, "put", start, http.StatusCreated, struct{}{})
}

// HandleGet returns a file, or a listing when the "list" query parameter is
// present.
//
// URL format: GET <prefix>/<path>[?list]
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	target := mediumPath(chi.URLParam(r, "*"))

	if r.URL.Query().Has(interfaces.ListQueryParam) {
		h.handleList(w, start, target)
		return
	}

	info, err := h.fs.Stat(target)
	if err != nil {
		h.writeStatError(w, "get", start, target, err)
		return
	}
	if info.IsDir() {
		h.writeError(w, "get", start, http.StatusBadRequest, interfaces.ErrorCodeInvalidParameterValue,
			fmt.Sprintf("%s is a directory", target))
		return
	}

	f, err := h.fs.Open(target)
	if err != nil {
		h.writeStatError(w, "get", start, target, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(info.Size()))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, f)
	if err != nil {
		h.log.Warn("Failed to stream artifact", slog.String("path", target), "err", err)
	}
	if h.recorder != nil {
		h.recorder.AddBytes("out", n)
		h.recorder.ObserveRequest("get", http.StatusOK, time.Since(start))
	}
}

func (h *Handler) handleList(w http.ResponseWriter, start time.Time, target string) {
	info, err := h.fs.Stat(target)
	if err != nil {
		h.writeStatError(w, "list", start, target, err)
		return
	}

	resp := interfaces.RESTListResponse{Files: []interfaces.RESTFileEntry{}}
	if !info.IsDir() {
		resp.Files = append(resp.Files, interfaces.RESTFileEntry{Path: target, FileSize: info.Size()})
		h.writeJSON(w, "list", start, http.StatusOK, resp)
		return
	}

	entries, err := afero.ReadDir(h.fs, target)
	if err != nil {
		h.log.Error("Failed to list artifacts", slog.String("path", target), "err", err)
		h.writeError(w, "list", start, http.StatusInternalServerError, "", err.Error())
		return
	}
	for _, entry := range entries {
		e := interfaces.RESTFileEntry{Path: path.Join(target, entry.Name()), IsDir: entry.IsDir()}
		if !entry.IsDir() {
			e.FileSize = entry.Size()
		}
		resp.Files = append(resp.Files, e)
	}
	h.writeJSON(w, "list", start, http.StatusOK, resp)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "token" || subtle.ConstantTimeCompare([]byte(pass), []byte(h.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="artifacts"`)
			h.writeError(w, "auth", time.Now(), http.StatusUnauthorized, "UNAUTHENTICATED", "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeStatError(w http.ResponseWriter, op string, start time.Time, target string, err error) {
	if errors.Is(err, os.ErrNotExist) {
		h.writeError(w, op, start, http.StatusNotFound, interfaces.ErrorCodeResourceDoesNotExist,
			fmt.Sprintf("no file or directory exists at path %s", target))
		return
	}
	h.log.Error("Failed to stat artifact", slog.String("path", target), "err", err)
	h.writeError(w, op, start, http.StatusInternalServerError, "", err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, op string, start time.Time, code int, errorCode, message string) {
	h.writeJSON(w, op, start, code, interfaces.RESTListResponse{ErrorCode: errorCode, Message: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, op string, start time.Time, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("Failed to encode response", "err", err)
	}
	if h.recorder != nil {
		h.recorder.ObserveRequest(op, code, time.Since(start))
	}
}

// mediumPath turns the wildcard part of a request path into a rooted medium
// path.
func mediumPath(wildcard string) string {
	return path.Clean("/" + wildcard)
}

// TokenAuthorization renders the Authorization header value the gateway
// accepts for token.
func TokenAuthorization(token string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("token:"+token))
}
