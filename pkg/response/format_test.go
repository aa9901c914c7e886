package response

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

func newSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	return sb
}

func TestPrepareExtractsFilesAndAnswer(t *testing.T) {
	sb := newSandbox(t)
	if err := os.WriteFile(filepath.Join(sb.OutputsDir(), "result.csv"), []byte("a,b\n1,2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := Prepare("Final Answer: 42\nFiles to be returned: [result.csv]", sb)
	if resp.FinalAnswer != "42" {
		t.Fatalf("unexpected answer %q", resp.FinalAnswer)
	}
	if resp.Status != StatusComplete {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	want := []File{{Filename: "result.csv", ContentBase64: base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n"))}}
	if !reflect.DeepEqual(resp.Files, want) {
		t.Fatalf("unexpected files %+v", resp.Files)
	}
}

func TestPrepareReportsMissingAndEscapingFiles(t *testing.T) {
	sb := newSandbox(t)
	resp := Prepare(`Final Answer: done\nfiles to be returned : ["gone.png", '../secret.txt', none]`, sb)
	if resp.FinalAnswer != "done" {
		t.Fatalf("unexpected answer %q", resp.FinalAnswer)
	}
	want := []File{
		{Filename: "gone.png", Error: "File not found"},
		{Filename: "../secret.txt", Error: "File not found"},
	}
	if !reflect.DeepEqual(resp.Files, want) {
		t.Fatalf("unexpected files %+v", resp.Files)
	}
}

func TestPrepareStripsBoldMarker(t *testing.T) {
	for _, text := range []string{"**Final Answer:** 42", "Final Answer**:** 42"} {
		if got := Prepare(text, nil).FinalAnswer; got != "42" {
			t.Fatalf("Prepare(%q).FinalAnswer = %q, want %q", text, got, "42")
		}
	}
}

func TestPrepareEmptyAnswer(t *testing.T) {
	resp := Prepare("  ", nil)
	if resp.FinalAnswer != "" || len(resp.Files) != 0 || resp.Status != StatusComplete {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestParseFileList(t *testing.T) {
	got := ParseFileList(` "a.csv" , 'b.png',, None `)
	if !reflect.DeepEqual(got, []string{"a.csv", "b.png"}) {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestFromResult(t *testing.T) {
	ok := analyst.Result{RunID: "r1", Answer: "Final Answer: yes", Reason: analyst.ReasonFinalAnswer, State: analyst.StateTerminatedOK, Iterations: 2}
	resp := FromResult(ok, newSandbox(t))
	if resp.Status != StatusComplete || resp.FinalAnswer != "yes" || resp.RunID != "r1" || resp.Iterations != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}

	failed := analyst.Result{Answer: analyst.BudgetExhaustedAnswer, Reason: analyst.ReasonBudgetExhausted, State: analyst.StateTerminatedError}
	resp = FromResult(failed, nil)
	if resp.Status != StatusError || resp.FinalAnswer != analyst.BudgetExhaustedAnswer || resp.Reason != string(analyst.ReasonBudgetExhausted) {
		t.Fatalf("unexpected response %+v", resp)
	}
}
