package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	DefaultCodeTimeout = 15 * time.Second
	MaxCodeTimeout     = 30 * time.Second
	defaultMaxOutput   = 256 << 10

	forbiddenCodeMessage = "[Error] Code contains forbidden operations."
	timedOutMessage      = "[Error] Code execution timed out."
	noOutputMessage      = "[No output from code.]"
)

// ErrForbiddenCode is returned by CheckCode for scripts using denied operations.
var ErrForbiddenCode = errors.New("code contains forbidden operations")

var forbiddenSnippets = []string{
	"import os", "import sys", "import subprocess", "open(", "eval(", "exec(",
	"socket", "threading", "multiprocessing",
}

// CodeOptions configures script execution.
type CodeOptions struct {
	// Python is the interpreter path; empty searches PATH for python3 then python.
	Python         string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxOutputBytes int
}

func (o CodeOptions) withDefaults() CodeOptions {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultCodeTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = MaxCodeTimeout
	}
	if o.DefaultTimeout > o.MaxTimeout {
		o.DefaultTimeout = o.MaxTimeout
	}
	if o.MaxOutputBytes <= 0 {
		o.MaxOutputBytes = defaultMaxOutput
	}
	return o
}

// Timeout clamps a requested number of seconds into (0, MaxTimeout].
func (o CodeOptions) Timeout(seconds int) time.Duration {
	o = o.withDefaults()
	if seconds <= 0 {
		return o.DefaultTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > o.MaxTimeout {
		return o.MaxTimeout
	}
	return d
}

// CheckCode rejects scripts containing any denied snippet.
func CheckCode(code string) error {
	for _, s := range forbiddenSnippets {
		if strings.Contains(code, s) {
			return fmt.Errorf("%w: %q", ErrForbiddenCode, s)
		}
	}
	return nil
}

var escapeReplacer = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\'`, `'`)

// unescapeCode turns literal "\n" sequences into real newlines. Models often
// double-escape multi-line scripts.
func unescapeCode(code string) string {
	if !strings.Contains(code, `\n`) {
		return code
	}
	return escapeReplacer.Replace(code)
}

// CodeArgs is the execute_code input.
type CodeArgs struct {
	Code       string `json:"code" jsonschema_description:"Complete Python source. Use print() to produce output."`
	TimeoutSec int    `json:"timeout_sec,omitempty" jsonschema_description:"Timeout in seconds. Defaults to 15, capped at 30."`
}

// ExecuteCode runs Python scripts in isolated mode with outputs as the working directory.
func ExecuteCode(sb *sandbox.Sandbox, opts CodeOptions) analyst.Tool {
	opts = opts.withDefaults()
	return &Definition[CodeArgs]{
		Name:        "execute_code",
		Description: "Runs a Python script in an isolated subprocess with outputs as the working directory and returns its printed output.",
		Run: func(ctx context.Context, in CodeArgs) (analyst.ToolResponse, error) {
			if err := CheckCode(in.Code); err != nil {
				return failf(forbiddenCodeMessage)
			}
			return runPython(ctx, sb.OutputsDir(), opts, unescapeCode(in.Code), opts.Timeout(in.TimeoutSec))
		},
	}
}

func pythonPath(configured string) (string, error) {
	if configured != "" {
		return exec.LookPath(configured)
	}
	if p, err := exec.LookPath("python3"); err == nil {
		return p, nil
	}
	return exec.LookPath("python")
}

func runPython(ctx context.Context, workDir string, opts CodeOptions, code string, timeout time.Duration) (analyst.ToolResponse, error) {
	python, err := pythonPath(opts.Python)
	if err != nil {
		return failf("[Error] Python interpreter not available: %v", err)
	}

	script, err := os.CreateTemp(workDir, ".exec-*.py")
	if err != nil {
		return failf("[Error] Could not stage script: %v", err)
	}
	defer os.Remove(script.Name())
	if _, err := script.WriteString(code); err != nil {
		script.Close()
		return failf("[Error] Could not stage script: %v", err)
	}
	script.Close()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, "-I", script.Name())
	cmd.Dir = workDir
	cmd.Env = scrubbedEnv(workDir)
	stdout := &cappedBuffer{limit: opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	configureProcess(cmd)

	err = cmd.Run()
	if ctx.Err() != nil {
		return analyst.ToolResponse{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failf(timedOutMessage)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return failf("[Error] Runtime error:\n%v", err)
		}
		return failf("[Error] Runtime error:\n%s", strings.TrimSpace(stderr.String()))
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return reply(noOutputMessage)
	}
	return reply(out)
}

func scrubbedEnv(workDir string) []string {
	env := []string{
		"HOME=" + workDir,
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"MPLBACKEND=Agg",
		"LANG=C.UTF-8",
	}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}

// cappedBuffer keeps the first limit bytes and silently drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}
