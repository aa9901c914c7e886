// Package httpapi serves the analyst over HTTP: clients upload their files
// and questions.txt to POST /api/ and receive the formatted final answer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/response"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	defaultMaxUpload = 50 << 20
	// multipart parts beyond this are spooled to disk.
	formMemory      = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Runner executes one conversation over a prepared sandbox.
type Runner interface {
	Run(ctx context.Context, sb *sandbox.Sandbox) (analyst.Result, error)
}

type Options struct {
	Runner Runner
	// WorkDir holds per-request sandboxes; empty uses the OS temp dir.
	WorkDir        string
	KeepSandboxes  bool
	MaxUploadBytes int64
	// CORSOrigins lists allowed origins; empty allows any.
	CORSOrigins    []string
	RateLimiter    *RateLimiter
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("httpapi: runner is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger}, nil
}

// Handler returns the routed handler wrapped in recovery, logging and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/", s.rateLimit(s.handleQuery))
	return s.recoverer(s.requestLog(s.cors(mux)))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if s.opts.RateLimiter != nil {
		s.opts.RateLimiter.Stop()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"})
		case errors.Is(err, http.ErrNotMultipart):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No files uploaded"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		}
		return
	}
	defer r.MultipartForm.RemoveAll()
	if len(r.MultipartForm.File) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No files uploaded"})
		return
	}

	sb, err := sandbox.NewTempIn(s.opts.WorkDir, "request-*")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if s.opts.KeepSandboxes {
		s.logger.Info("keeping request sandbox", "uploads", sb.UploadsDir(), "outputs", sb.OutputsDir())
	} else {
		defer func() {
			if err := sb.Close(); err != nil {
				s.logger.Warn("remove request sandbox", "error", err)
			}
		}()
	}

	saved, err := saveUploads(sb, r.MultipartForm.File)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("files uploaded", "files", saved)

	ctx := r.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	res, err := s.opts.Runner.Run(ctx, sb)
	if err != nil {
		s.logger.Error("conversation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("conversation finished",
		"run_id", res.RunID,
		"reason", res.Reason,
		"iterations", res.Iterations,
	)
	writeJSON(w, http.StatusOK, response.FromResult(res, sb))
}

// saveUploads stores the first file of every form field in the uploads
// area, named after the sanitised field name.
func saveUploads(sb *sandbox.Sandbox, files map[string][]*multipart.FileHeader) ([]string, error) {
	fields := make([]string, 0, len(files))
	for field := range files {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var saved []string
	for _, field := range fields {
		headers := files[field]
		if len(headers) == 0 {
			continue
		}
		name, err := sandbox.SafeFileName(field)
		if err != nil {
			if name, err = sandbox.SafeFileName(headers[0].Filename); err != nil {
				return saved, fmt.Errorf("upload field %q has no usable file name", field)
			}
		}
		if err := saveUpload(sb, name, headers[0]); err != nil {
			return saved, err
		}
		saved = append(saved, name)
	}
	return saved, nil
}

func saveUpload(sb *sandbox.Sandbox, name string, header *multipart.FileHeader) error {
	path, err := sb.Resolve(sandbox.Uploads, name)
	if err != nil {
		return err
	}
	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", name, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("save upload %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("save upload %s: %w", name, err)
	}
	return dst.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
