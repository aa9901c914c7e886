// Package sandbox confines tool file access to an uploads root and an outputs root.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Area names one of the two sandbox roots.
type Area string

const (
	Uploads Area = "uploads"
	Outputs Area = "outputs"
)

var (
	// ErrPathOutsideSandbox is returned for absolute paths, traversal and symlink escapes.
	ErrPathOutsideSandbox = errors.New("path resolves outside the sandbox")
	// ErrUnknownDirectory is returned for a directory argument that names neither root.
	ErrUnknownDirectory = errors.New("unknown directory")
)

// directoryAliases maps the spellings models use for the two roots.
var directoryAliases = map[string]Area{
	"uploads":       Uploads,
	"/tmp/uploads":  Uploads,
	"tmp/uploads":   Uploads,
	"/tmp/uploads/": Uploads,
	"outputs":       Outputs,
	"/tmp/outputs":  Outputs,
	"tmp/outputs":   Outputs,
	"/tmp/outputs/": Outputs,
}

// Sandbox holds the absolute uploads and outputs roots for one run.
type Sandbox struct {
	uploads string
	outputs string
	cleanup func() error
}

// New resolves both roots to absolute paths and creates them when missing.
func New(uploadsDir, outputsDir string) (*Sandbox, error) {
	if strings.TrimSpace(uploadsDir) == "" || strings.TrimSpace(outputsDir) == "" {
		return nil, errors.New("sandbox requires uploads and outputs directories")
	}
	up, err := prepareRoot(uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("uploads root: %w", err)
	}
	out, err := prepareRoot(outputsDir)
	if err != nil {
		return nil, fmt.Errorf("outputs root: %w", err)
	}
	return &Sandbox{uploads: up, outputs: out}, nil
}

// NewTemp creates a sandbox under a fresh temporary directory. Close removes it.
func NewTemp(pattern string) (*Sandbox, error) {
	return NewTempIn("", pattern)
}

// NewTempIn is NewTemp rooted in dir; an empty dir uses the OS temp directory.
func NewTempIn(dir, pattern string) (*Sandbox, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox: %w", err)
		}
	}
	base, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	sb, err := New(filepath.Join(base, string(Uploads)), filepath.Join(base, string(Outputs)))
	if err != nil {
		_ = os.RemoveAll(base)
		return nil, err
	}
	sb.cleanup = func() error { return os.RemoveAll(base) }
	return sb, nil
}

// Close removes a temporary sandbox. It is a no-op for sandboxes built with New.
func (s *Sandbox) Close() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}

func prepareRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// UploadsDir returns the absolute uploads root.
func (s *Sandbox) UploadsDir() string { return s.uploads }

// OutputsDir returns the absolute outputs root.
func (s *Sandbox) OutputsDir() string { return s.outputs }

// Root returns the absolute directory for an area.
func (s *Sandbox) Root(area Area) string {
	if area == Outputs {
		return s.outputs
	}
	return s.uploads
}

// ParseArea maps a directory argument to an area. An empty value selects def.
func ParseArea(directory string, def Area) (Area, error) {
	d := strings.ToLower(strings.TrimSpace(directory))
	if d == "" {
		return def, nil
	}
	if area, ok := directoryAliases[d]; ok {
		return area, nil
	}
	return "", fmt.Errorf("%w %q: use %q or %q", ErrUnknownDirectory, directory, Uploads, Outputs)
}

// Resolve validates name as a plain file name under area and returns its
// absolute path. The file need not exist.
func (s *Sandbox) Resolve(area Area, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("file name is empty")
	}
	name = stripAreaPrefix(name)
	return validateRelPath(s.Root(area), name)
}

// stripAreaPrefix drops a leading "/tmp/uploads/" style prefix that models
// often include despite being told to use plain names.
func stripAreaPrefix(name string) string {
	slashed := filepath.ToSlash(name)
	for _, prefix := range []string{"/tmp/uploads/", "/tmp/outputs/", "uploads/", "outputs/"} {
		if strings.HasPrefix(slashed, prefix) {
			return strings.TrimPrefix(slashed, prefix)
		}
	}
	return name
}

// validateRelPath joins rel onto root and rejects absolute inputs, parent
// traversal and symlink escapes.
func validateRelPath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute paths are not allowed", ErrPathOutsideSandbox)
	}
	candidate := filepath.Join(root, filepath.Clean(rel))

	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	} else if resolvedParent, err := filepath.EvalSymlinks(filepath.Dir(candidate)); err == nil {
		candidate = filepath.Join(resolvedParent, filepath.Base(candidate))
	}

	r, err := filepath.Rel(root, candidate)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideSandbox, rel)
	}
	if r == "." {
		return "", fmt.Errorf("%q names a directory, not a file", rel)
	}
	return candidate, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SafeFileName reduces a client- or model-supplied name to ASCII letters,
// digits, '_', '.' and '-'. Separators become underscores and leading or
// trailing dots and underscores are dropped, so the result always names a
// file directly inside a root.
func SafeFileName(name string) (string, error) {
	clean := norm.NFKD.String(strings.TrimSpace(name))
	clean = strings.NewReplacer("/", " ", "\\", " ").Replace(clean)
	clean = strings.Join(strings.Fields(clean), "_")
	clean = unsafeNameChars.ReplaceAllString(clean, "")
	clean = strings.Trim(clean, "._")
	if clean == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return clean, nil
}
