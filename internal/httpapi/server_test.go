package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/response"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

type runnerFunc func(ctx context.Context, sb *sandbox.Sandbox) (analyst.Result, error)

func (f runnerFunc) Run(ctx context.Context, sb *sandbox.Sandbox) (analyst.Result, error) {
	return f(ctx, sb)
}

func newServer(t *testing.T, run runnerFunc, mutate ...func(*Options)) *Server {
	t.Helper()
	opts := Options{Runner: run, WorkDir: t.TempDir()}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, content := range files {
		fw, err := mw.CreateFormFile(field, field)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, h http.Handler, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ctype := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/api/", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{}, nil
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestQueryRunsConversationAndAttachesFiles(t *testing.T) {
	var sawQuestions string
	var root string
	s := newServer(t, func(_ context.Context, sb *sandbox.Sandbox) (analyst.Result, error) {
		data, err := os.ReadFile(filepath.Join(sb.UploadsDir(), "questions.txt"))
		if err != nil {
			return analyst.Result{}, err
		}
		sawQuestions = string(data)
		root = filepath.Dir(sb.UploadsDir())
		if err := os.WriteFile(filepath.Join(sb.OutputsDir(), "plot.png"), []byte("png"), 0o644); err != nil {
			return analyst.Result{}, err
		}
		return analyst.Result{
			RunID:      "run-1",
			Answer:     "Final Answer: 42\nFiles to be returned: [plot.png, missing.csv]",
			Reason:     analyst.ReasonFinalAnswer,
			State:      analyst.StateTerminatedOK,
			Iterations: 2,
		}, nil
	})

	rec := post(t, s.Handler(), map[string]string{"questions.txt": "What is 6*7?", "data.csv": "a,b\n1,2\n"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if sawQuestions != "What is 6*7?" {
		t.Fatalf("questions not saved, got %q", sawQuestions)
	}
	var resp response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != response.StatusComplete || resp.FinalAnswer != "42" || resp.RunID != "run-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Files) != 2 {
		t.Fatalf("files: %+v", resp.Files)
	}
	if resp.Files[0].ContentBase64 != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Fatalf("plot.png not attached: %+v", resp.Files[0])
	}
	if resp.Files[1].Error != "File not found" {
		t.Fatalf("missing file should report an error: %+v", resp.Files[1])
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("request sandbox should be removed, stat err = %v", err)
	}
}

func TestQueryWithoutFiles(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		t.Fatalf("runner must not be called")
		return analyst.Result{}, nil
	})
	rec := post(t, s.Handler(), nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No files uploaded") {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No files uploaded") {
		t.Fatalf("non-multipart: %d %s", rec.Code, rec.Body.String())
	}
}

func TestQueryFailedRunReportsErrorStatus(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{
			Answer: analyst.BudgetExhaustedAnswer,
			Reason: analyst.ReasonBudgetExhausted,
			State:  analyst.StateTerminatedError,
		}, nil
	})
	rec := post(t, s.Handler(), map[string]string{"questions.txt": "q"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != response.StatusError || resp.FinalAnswer != analyst.BudgetExhaustedAnswer {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestQueryRunnerErrorAndPanic(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{}, errors.New("boom")
	})
	rec := post(t, s.Handler(), map[string]string{"questions.txt": "q"})
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), `"error":"boom"`) {
		t.Fatalf("error: %d %s", rec.Code, rec.Body.String())
	}

	s = newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		panic("kaboom")
	})
	rec = post(t, s.Handler(), map[string]string{"questions.txt": "q"})
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "kaboom") {
		t.Fatalf("panic: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUploadNamesAreSanitised(t *testing.T) {
	var names []string
	s := newServer(t, func(_ context.Context, sb *sandbox.Sandbox) (analyst.Result, error) {
		entries, err := os.ReadDir(sb.UploadsDir())
		if err != nil {
			return analyst.Result{}, err
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return analyst.Result{Answer: "Final Answer: ok", State: analyst.StateTerminatedOK}, nil
	})
	rec := post(t, s.Handler(), map[string]string{"../../etc/my data.csv": "x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(names) != 1 || names[0] != "etc_my_data.csv" {
		t.Fatalf("names = %v", names)
	}
}

func TestUploadTooLarge(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		t.Fatalf("runner must not be called")
		return analyst.Result{}, nil
	}, func(o *Options) { o.MaxUploadBytes = 256 })
	rec := post(t, s.Handler(), map[string]string{"questions.txt": strings.Repeat("x", 4096)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{Answer: "Final Answer: ok", State: analyst.StateTerminatedOK}, nil
	}, func(o *Options) { o.RateLimiter = rl })
	h := s.Handler()
	if rec := post(t, h, map[string]string{"questions.txt": "q"}); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := post(t, h, map[string]string{"questions.txt": "q"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiterDisabledAndCleanup(t *testing.T) {
	if !NewRateLimiter(0, 0).Allow("k") {
		t.Fatalf("disabled limiter must allow")
	}
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()
	rl.Allow("a")
	rl.cleanup(time.Now().Add(time.Minute))
	if _, ok := rl.limiters.Load("a"); ok {
		t.Fatalf("stale entry should be removed")
	}
}

func TestCORS(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{}, nil
	}, func(o *Options) { o.CORSOrigins = []string{"https://ui.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/", nil)
	req.Header.Set("Origin", "https://ui.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://ui.example" {
		t.Fatalf("preflight: %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://other.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed")
	}
}

func TestListenAndServeShutsDown(t *testing.T) {
	s := newServer(t, func(context.Context, *sandbox.Sandbox) (analyst.Result, error) {
		return analyst.Result{}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
