package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	base := t.TempDir()
	sb, err := New(filepath.Join(base, "up"), filepath.Join(base, "out"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func TestParseArea(t *testing.T) {
	cases := map[string]Area{
		"":             Outputs,
		"uploads":      Uploads,
		"/tmp/uploads": Uploads,
		"OUTPUTS":      Outputs,
		"/tmp/outputs": Outputs,
	}
	for in, want := range cases {
		got, err := ParseArea(in, Outputs)
		if err != nil || got != want {
			t.Fatalf("ParseArea(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseArea("/etc", Uploads); !errors.Is(err, ErrUnknownDirectory) {
		t.Fatalf("expected ErrUnknownDirectory, got %v", err)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	sb := newTestSandbox(t)
	for _, name := range []string{"../x", "../../etc/passwd", "/etc/passwd", "a/../../b"} {
		if _, err := sb.Resolve(Uploads, name); !errors.Is(err, ErrPathOutsideSandbox) {
			t.Fatalf("Resolve(%q): expected ErrPathOutsideSandbox, got %v", name, err)
		}
	}
	if _, err := sb.Resolve(Uploads, ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := sb.Resolve(Uploads, "."); err == nil {
		t.Fatalf("expected error for the root itself")
	}
}

func TestResolveAcceptsPlainAndPrefixedNames(t *testing.T) {
	sb := newTestSandbox(t)
	want := filepath.Join(sb.UploadsDir(), "data.csv")
	for _, name := range []string{"data.csv", "/tmp/uploads/data.csv", "uploads/data.csv"} {
		got, err := sb.Resolve(Uploads, name)
		if err != nil || got != want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
	area, err := ParseArea("/tmp/outputs", Uploads)
	if err != nil || area != Outputs {
		t.Fatalf("ParseArea = %q, %v", area, err)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test skipped on Windows")
	}
	sb := newTestSandbox(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(sb.UploadsDir(), "out")); err != nil {
		t.Skipf("symlink not allowed: %v", err)
	}
	if _, err := sb.Resolve(Uploads, "out/escape.txt"); !errors.Is(err, ErrPathOutsideSandbox) {
		t.Fatalf("expected symlink escape to be rejected, got %v", err)
	}
}

func TestNewTempCleansUp(t *testing.T) {
	sb, err := NewTemp("duo-test-*")
	if err != nil {
		t.Fatalf("NewTemp: %v", err)
	}
	for _, dir := range []string{sb.UploadsDir(), sb.OutputsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist", dir)
		}
	}
	base := filepath.Dir(sb.UploadsDir())
	if err := sb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(base); !os.IsNotExist(err) {
		t.Fatalf("expected %s removed, got %v", base, err)
	}
}

func TestSafeFileName(t *testing.T) {
	cases := map[string]string{
		"questions.txt":         "questions.txt",
		"My cool movie.mov":     "My_cool_movie.mov",
		"../../etc/passwd":      "etc_passwd",
		"dir/sub/data.csv":      "dir_sub_data.csv",
		`C:\fakepath\image.png`: "C_fakepath_image.png",
		"café.csv":              "cafe.csv",
	}
	for in, want := range cases {
		got, err := SafeFileName(in)
		if err != nil || got != want {
			t.Fatalf("SafeFileName(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "..", "/", ".", "...", "€"} {
		if _, err := SafeFileName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
