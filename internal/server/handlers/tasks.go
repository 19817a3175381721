package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/clipqueue/internal/errors"
	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
	"github.com/3leaps/clipqueue/pkg/match"
)

// Multipart field names accepted by Upload.
const (
	FieldFiles  = "files[]"
	FieldAction = "action"
)

// DefaultMaxUploadBytes caps an upload request body.
const DefaultMaxUploadBytes int64 = 2 << 30

// multipartMemory is held in memory per request before spilling to disk.
const multipartMemory = 32 << 20

// TaskConfig configures TaskHandler.
type TaskConfig struct {
	UploadDir      string
	OutputDir      string
	MaxUploadBytes int64
	Extensions     *match.ExtensionMatcher
}

// TaskHandler serves uploads, job status and artifact downloads.
type TaskHandler struct {
	queue  *jobqueue.Queue
	cfg    TaskConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewTaskHandler creates a handler submitting to q. A nil Extensions
// matcher allows the default container list.
func NewTaskHandler(q *jobqueue.Queue, cfg TaskConfig, logger *zap.Logger) (*TaskHandler, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Extensions == nil {
		ext, err := match.NewExtensionMatcher(match.DefaultExtensions)
		if err != nil {
			return nil, err
		}
		cfg.Extensions = ext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{queue: q, cfg: cfg, logger: logger, now: time.Now}, nil
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Message string   `json:"message"`
	TaskIDs []string `json:"task_ids"`

	// Rejected lists files skipped by the extension allow-list.
	Rejected []string `json:"rejected,omitempty"`
}

// Upload stores each allowed file as "{unix}_{name}" in the upload dir and
// submits one job per file.
func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewPayloadTooLarge(fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)))
			return
		}
		respondWithError(w, r, apperrors.NewBadRequest("No file part"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[FieldFiles]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		respondWithError(w, r, apperrors.NewBadRequest("No file part"))
		return
	}

	op, err := job.ParseOperation(r.FormValue(FieldAction))
	if err != nil {
		respondWithError(w, r, apperrors.NewBadRequest(err.Error()).
			WithDetails(map[string]any{"field": FieldAction}))
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "prepare upload dir"))
		return
	}

	resp := UploadResponse{Message: "Files uploaded successfully", TaskIDs: []string{}}
	for _, fh := range files {
		if !h.cfg.Extensions.Allowed(fh.Filename) {
			resp.Rejected = append(resp.Rejected, fh.Filename)
			continue
		}
		name := SecureFilename(fh.Filename)
		dest, err := h.store(fh, name)
		if err != nil {
			h.logger.Error("Failed to store upload", zap.String("filename", name), zap.Error(err))
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "store upload"))
			return
		}
		id, err := h.queue.Submit(name, op, dest)
		if err != nil {
			_ = os.Remove(dest)
			if errors.Is(err, jobqueue.ErrClosed) {
				respondWithError(w, r, apperrors.NewServiceUnavailable("queue is shutting down"))
				return
			}
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "submit job"))
			return
		}
		h.logger.Info("Job submitted",
			zap.String("job_id", id),
			zap.String("filename", name),
			zap.String("operation", string(op)))
		resp.TaskIDs = append(resp.TaskIDs, id)
	}

	if len(resp.TaskIDs) == 0 {
		resp.Message = "No files with an allowed extension"
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// store copies the upload to "{unix}_{name}". A same-second collision adds
// a counter instead of overwriting another job's input.
func (h *TaskHandler) store(fh *multipart.FileHeader, name string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = src.Close() }()

	stamp := h.now().Unix()
	var dst *os.File
	var dest string
	for n := 0; ; n++ {
		stored := fmt.Sprintf("%d_%s", stamp, name)
		if n > 0 {
			stored = fmt.Sprintf("%d_%d_%s", stamp, n, name)
		}
		dest = filepath.Join(h.cfg.UploadDir, stored)
		dst, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || n > 100 {
			return "", err
		}
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dest)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// List returns every job as an array in submission order.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, h.queue.List())
}

// Get returns one job.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.queue.Get(id)
	if err != nil {
		if jobqueue.IsNotFound(err) {
			respondWithError(w, r, apperrors.NewNotFound("task not found").
				WithDetails(map[string]any{"id": id}))
			return
		}
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, j)
}

// Download serves a finished artifact from the output dir as an attachment.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." || name == "." {
		respondWithError(w, r, apperrors.NewBadRequest("invalid filename"))
		return
	}

	f, err := os.Open(filepath.Join(h.cfg.OutputDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondWithError(w, r, apperrors.NewNotFound("file not found"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "open artifact"))
		return
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		respondWithError(w, r, apperrors.NewNotFound("file not found"))
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, st.ModTime(), f)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SecureFilename reduces an uploaded name to a safe base name: path parts
// are dropped, whitespace becomes "_", other characters outside
// [A-Za-z0-9_.-] are removed, and leading dots or underscores are trimmed.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
