package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupGateway creates a gateway over an in-memory filesystem.
func setupGateway(t *testing.T, token string) (afero.Fs, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := afero.NewMemMapFs()

	handler := NewHandler(fs, "/dbfs", logger).WithAuthToken(token)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return fs, ts
}

func doRequest(t *testing.T, method, url, body, auth string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeListing(t *testing.T, data []byte) interfaces.RESTListResponse {
	t.Helper()
	var listing interfaces.RESTListResponse
	require.NoError(t, json.Unmarshal(data, &listing))
	return listing
}

func TestHandlePut_StoresFile(t *testing.T) {
	fs, ts := setupGateway(t, "")

	resp, _ := doRequest(t, http.MethodPut, ts.URL+"/dbfs/runs/1/out/model.pkl", "0123456789", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	data, err := afero.ReadFile(fs, "/runs/1/out/model.pkl")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	// Overwrite
	resp, _ = doRequest(t, http.MethodPut, ts.URL+"/dbfs/runs/1/out/model.pkl", "new", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data, err = afero.ReadFile(fs, "/runs/1/out/model.pkl")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestHandlePut_OntoDirectory(t *testing.T) {
	fs, ts := setupGateway(t, "")
	require.NoError(t, fs.MkdirAll("/runs/1", 0o755))

	resp, data := doRequest(t, http.MethodPut, ts.URL+"/dbfs/runs/1", "x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, interfaces.ErrorCodeInvalidParameterValue, decodeListing(t, data).ErrorCode)
}

func TestHandleGet(t *testing.T) {
	fs, ts := setupGateway(t, "")
	require.NoError(t, afero.WriteFile(fs, "/runs/1/a.txt", []byte("hello"), 0o644))

	tests := []struct {
		name       string
		path       string
		statusCode int
		body       string
		errorCode  string
	}{
		{name: "file", path: "/dbfs/runs/1/a.txt", statusCode: http.StatusOK, body: "hello"},
		{name: "missing", path: "/dbfs/runs/1/missing", statusCode: http.StatusNotFound, errorCode: interfaces.ErrorCodeResourceDoesNotExist},
		{name: "directory", path: "/dbfs/runs/1", statusCode: http.StatusBadRequest, errorCode: interfaces.ErrorCodeInvalidParameterValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, data := doRequest(t, http.MethodGet, ts.URL+tt.path, "", "")
			assert.Equal(t, tt.statusCode, resp.StatusCode)
			if tt.errorCode != "" {
				assert.Equal(t, tt.errorCode, decodeListing(t, data).ErrorCode)
				return
			}
			assert.Equal(t, tt.body, string(data))
			assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
		})
	}
}

func TestHandleList(t *testing.T) {
	fs, ts := setupGateway(t, "")
	require.NoError(t, afero.WriteFile(fs, "/runs/1/a.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/runs/1/sub/b.txt", []byte("bb"), 0o644))

	t.Run("directory", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, ts.URL+"/dbfs/runs/1?list", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.ElementsMatch(t, []interfaces.RESTFileEntry{
			{Path: "/runs/1/a.txt", FileSize: 5},
			{Path: "/runs/1/sub", IsDir: true},
		}, decodeListing(t, data).Files)
	})

	t.Run("file lists itself", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, ts.URL+"/dbfs/runs/1/sub/b.txt?list", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []interfaces.RESTFileEntry{{Path: "/runs/1/sub/b.txt", FileSize: 2}}, decodeListing(t, data).Files)
	})

	t.Run("missing", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, ts.URL+"/dbfs/runs/2?list", "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, interfaces.ErrorCodeResourceDoesNotExist, decodeListing(t, data).ErrorCode)
	})

	t.Run("root", func(t *testing.T) {
		resp, data := doRequest(t, http.MethodGet, ts.URL+"/dbfs?list", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []interfaces.RESTFileEntry{{Path: "/runs", IsDir: true}}, decodeListing(t, data).Files)
	})
}

func TestAuthentication(t *testing.T) {
	fs, ts := setupGateway(t, "s3cr3t")
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("x"), 0o644))

	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/dbfs/a.txt", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/dbfs/a.txt", "", TokenAuthorization("wrong"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data := doRequest(t, http.MethodGet, ts.URL+"/dbfs/a.txt", "", TokenAuthorization("s3cr3t"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "x", string(data))
}

type recordedRequest struct {
	op   string
	code int
}

type fakeRecorder struct {
	requests []recordedRequest
	bytes    map[string]int64
}

func (r *fakeRecorder) ObserveRequest(op string, code int, d time.Duration) {
	r.requests = append(r.requests, recordedRequest{op, code})
}

func (r *fakeRecorder) AddBytes(direction string, n int64) {
	r.bytes[direction] += n
}

func TestHandler_RecordsMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &fakeRecorder{bytes: map[string]int64{}}
	handler := NewHandler(afero.NewMemMapFs(), "", logger).WithRecorder(recorder)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPut, "/dbfs/a.txt", strings.NewReader("abc")),
		httptest.NewRequest(http.MethodGet, "/dbfs/a.txt", nil),
		httptest.NewRequest(http.MethodGet, "/dbfs/missing?list", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, []recordedRequest{
		{"put", http.StatusCreated},
		{"get", http.StatusOK},
		{"list", http.StatusNotFound},
	}, recorder.requests)
	assert.Equal(t, int64(3), recorder.bytes["in"])
	assert.Equal(t, int64(3), recorder.bytes["out"])
}

func TestServer_HealthAndDrain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        logger,
	}, NewHandler(afero.NewMemMapFs(), "", logger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/livez", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, data := doRequest(t, http.MethodGet, ts.URL+"/drain", "", "")
	assert.JSONEq(t, `{"status":"draining"}`, string(data))

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, data = doRequest(t, http.MethodGet, ts.URL+"/drain", "", "")
	assert.JSONEq(t, `{"status":"already draining"}`, string(data))

	_, data = doRequest(t, http.MethodGet, ts.URL+"/undrain", "", "")
	assert.JSONEq(t, `{"status":"ready"}`, string(data))

	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ReadinessRequiresStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	missing := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir()+"/missing")
	srv, err := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0", Log: logger}, NewHandler(missing, "", logger))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"storage unavailable"}`, rec.Body.String())
}

func TestServer_ShutdownMarksNotReady(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(afero.NewMemMapFs(), "", logger))
	require.NoError(t, err)

	srv.Shutdown()
	assert.False(t, srv.isReady.Load())
}
