// Package response turns a conversation result into the JSON document
// returned to API clients, attaching any output files the planner named.
package response

import (
	"encoding/base64"
	"os"
	"regexp"
	"strings"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	StatusComplete = "complete"
	StatusError    = "error"
)

var filesPattern = regexp.MustCompile(`(?i)Files to be returned\s*:\s*\[([^\]]*)\]`)

// File is one returned output file, or the reason it could not be attached.
type File struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Response is the body of a successful POST /api/ call.
type Response struct {
	FinalAnswer string `json:"final_answer"`
	Files       []File `json:"files"`
	Status      string `json:"status"`
	RunID       string `json:"run_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
}

// Prepare cleans planner output and encodes the files listed in its
// "Files to be returned: [...]" line from the outputs root of sb.
func Prepare(answer string, sb *sandbox.Sandbox) Response {
	resp := Response{Files: []File{}, Status: StatusComplete}
	if strings.TrimSpace(answer) == "" {
		return resp
	}
	cleaned := strings.TrimSpace(analyst.CleanAnswer(answer))

	var names []string
	if m := filesPattern.FindStringSubmatch(cleaned); m != nil {
		names = ParseFileList(m[1])
		cleaned = strings.TrimSpace(filesPattern.ReplaceAllString(cleaned, ""))
	}
	resp.FinalAnswer = analyst.AnswerBody(cleaned)

	for _, name := range names {
		resp.Files = append(resp.Files, attach(sb, name))
	}
	return resp
}

// FromResult formats a finished run. Failed runs carry their error text as
// the answer and status "error".
func FromResult(res analyst.Result, sb *sandbox.Sandbox) Response {
	var resp Response
	if res.OK() {
		resp = Prepare(res.Answer, sb)
	} else {
		resp = Response{FinalAnswer: res.Answer, Files: []File{}, Status: StatusError}
	}
	resp.RunID = res.RunID
	resp.Reason = string(res.Reason)
	resp.Iterations = res.Iterations
	return resp
}

// ParseFileList splits the bracketed list body into file names. Quotes are
// stripped and a lone "none" means no files.
func ParseFileList(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		name := strings.Trim(strings.TrimSpace(part), `"'`)
		name = strings.TrimSpace(name)
		if name == "" || strings.EqualFold(name, "none") {
			continue
		}
		out = append(out, name)
	}
	return out
}

func attach(sb *sandbox.Sandbox, name string) File {
	missing := File{Filename: name, Error: "File not found"}
	if sb == nil {
		return missing
	}
	path, err := sb.Resolve(sandbox.Outputs, name)
	if err != nil {
		return missing
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return missing
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return missing
	}
	return File{Filename: name, ContentBase64: base64.StdEncoding.EncodeToString(data)}
}
