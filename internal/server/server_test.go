package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/clipqueue/internal/errors"
	"github.com/3leaps/clipqueue/internal/server/handlers"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(apperrors.RequestIDHeader))
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
}

func TestServer_Port(t *testing.T) {
	for _, port := range []int{8500, 9000, 0} {
		srv := New("127.0.0.1", port)
		assert.Equal(t, port, srv.Port())
	}
	assert.Equal(t, "127.0.0.1:8500", New("127.0.0.1", 8500).Addr())
	assert.Equal(t, "[::1]:8500", New("::1", 8500).Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/version", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	q := jobqueue.New()
	tasks, err := handlers.NewTaskHandler(q, handlers.TaskConfig{UploadDir: t.TempDir(), OutputDir: t.TempDir()}, nil)
	require.NoError(t, err)
	srv := New("127.0.0.1", 0, WithTasks(tasks))

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/tasks", http.StatusOK},
		{"GET", "/tasks/missing", http.StatusNotFound},
		{"GET", "/download/missing.mp4", http.StatusNotFound},
		{"POST", "/upload", http.StatusBadRequest},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(ep.method, ep.path, nil))
			assert.Equal(t, ep.want, rec.Code)
		})
	}
}

func TestServer_TaskRoutesNeedTasks(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("action", "reverse"))
	fw, err := mw.CreateFormFile("files[]", "clip.mp4")
	require.NoError(t, err)
	_, err = fw.Write([]byte("video"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_SubmitLimit(t *testing.T) {
	q := jobqueue.New()
	tasks, err := handlers.NewTaskHandler(q, handlers.TaskConfig{UploadDir: t.TempDir(), OutputDir: t.TempDir()}, nil)
	require.NoError(t, err)
	srv := New("127.0.0.1", 0, WithTasks(tasks), WithSubmitLimit(0.001, 2))

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, uploadRequest(t))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "RATE_LIMITED", decodeError(t, rec).Error.Code)
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Len(t, q.List(), 2)

	// Status routes are not throttled.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
