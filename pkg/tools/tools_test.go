package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/course"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

type fakeDescriber struct {
	mime   string
	width  int
	height int
}

func (f *fakeDescriber) DescribeImage(_ context.Context, data []byte, mimeType, _ string) (string, error) {
	f.mime = mimeType
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.width, f.height = cfg.Width, cfg.Height
	}
	return "a bar chart", nil
}

func newSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"))
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	return sb
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newDispatcher(t *testing.T, env Env) *analyst.Dispatcher {
	t.Helper()
	specs, err := analyst.BuiltinToolSpecs()
	if err != nil {
		t.Fatalf("BuiltinToolSpecs: %v", err)
	}
	catalog := analyst.NewCatalog()
	for _, spec := range specs {
		if err := catalog.Describe(spec); err != nil {
			t.Fatalf("Describe: %v", err)
		}
	}
	built, err := Builtins(env)
	if err != nil {
		t.Fatalf("Builtins: %v", err)
	}
	for _, tool := range built {
		if err := catalog.Register(tool); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	d, err := analyst.NewDispatcher(analyst.DispatcherOptions{Catalog: catalog})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func call(name string, args map[string]any) analyst.ToolCall {
	return analyst.ToolCall{ID: "call_1", Name: name, Arguments: args}
}

func invoke(t *testing.T, tool analyst.Tool, args map[string]any) analyst.ToolResponse {
	t.Helper()
	resp, err := tool.Invoke(context.Background(), analyst.ToolRequest{CallID: "c", Arguments: args})
	if err != nil {
		t.Fatalf("Invoke %s: %v", tool.Spec().Name, err)
	}
	return resp
}

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := pythonPath(""); err != nil {
		t.Skip("python interpreter not available")
	}
}

func TestReadCSVThroughDispatcher(t *testing.T) {
	sb := newSandbox(t)
	writeFile(t, sb.UploadsDir(), "data.csv", "city,population\nOslo,709000\nBergen,291000\nTromso,77000\n")
	d := newDispatcher(t, Env{Sandbox: sb})

	res := d.Dispatch(context.Background(), call("read_csv_file", map[string]any{"file_name": "data.csv", "directory": "uploads"}))
	if res.IsError {
		t.Fatalf("unexpected error result: %q", res.Content)
	}
	prefix := analyst.DefaultResultPrefixes["read_csv_file"]
	if !strings.HasPrefix(res.Content, prefix) {
		t.Fatalf("missing relay prefix: %q", res.Content)
	}
	want := "city,population\nOslo,709000\nBergen,291000\nTromso,77000"
	if !strings.HasSuffix(res.Content, want) {
		t.Fatalf("expected verbatim rows, got %q", res.Content)
	}
}

func TestReadCSVPreviewStopsAfterTenRows(t *testing.T) {
	sb := newSandbox(t)
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 25; i++ {
		b.WriteString("row\n")
	}
	writeFile(t, sb.UploadsDir(), "long.csv", b.String())
	resp := invoke(t, ReadCSVFile(sb), map[string]any{"file_name": "long.csv"})
	if got := strings.Count(resp.Content, "\nrow"); got != 10 {
		t.Fatalf("expected 10 data rows, got %d", got)
	}
}

func TestReadTextFile(t *testing.T) {
	sb := newSandbox(t)
	long := strings.Repeat("word ", 2000)
	writeFile(t, sb.UploadsDir(), "questions.txt", long)
	writeFile(t, sb.UploadsDir(), "notes.md", long)
	writeFile(t, sb.OutputsDir(), "short.txt", "hello")
	writeFile(t, sb.UploadsDir(), "page.html", "<html></html>")
	tool := ReadTextFile(sb)

	if resp := invoke(t, tool, map[string]any{"file_name": "questions.txt", "directory": "uploads"}); resp.Content != long {
		t.Fatalf("questions.txt must be returned in full")
	}
	resp := invoke(t, tool, map[string]any{"file_name": "notes.md", "directory": "uploads"})
	if !strings.Contains(resp.Content, "File too long for direct reading") || len(resp.Content) > textMaxChars+400 {
		t.Fatalf("expected truncation warning, got %d bytes", len(resp.Content))
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "short.txt", "directory": "/tmp/outputs"}); resp.Content != "hello" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "page.html", "directory": "uploads"}); !resp.IsError || !strings.Contains(resp.Content, "'.html'") {
		t.Fatalf("expected blocked extension error, got %+v", resp)
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "data.bin", "directory": "uploads"}); !resp.IsError || !strings.Contains(resp.Content, "Unsupported file type") {
		t.Fatalf("expected unsupported type error, got %+v", resp)
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "missing.txt", "directory": "uploads"}); resp.Content != "Error: File 'missing.txt' not found in 'uploads/'." {
		t.Fatalf("unexpected not-found message %q", resp.Content)
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "../../etc/passwd.txt", "directory": "uploads"}); !resp.IsError {
		t.Fatalf("expected traversal to be rejected")
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "short.txt", "directory": "home"}); !resp.IsError {
		t.Fatalf("expected unknown directory to be rejected")
	}
}

func TestReadPDFMissing(t *testing.T) {
	sb := newSandbox(t)
	resp := invoke(t, ReadPDFFile(sb), map[string]any{"file_name": "report.pdf", "directory": "uploads"})
	if resp.Content != "Error: File 'report.pdf' not found in 'uploads/'." {
		t.Fatalf("unexpected response %q", resp.Content)
	}
}

func TestConvertToBase64(t *testing.T) {
	sb := newSandbox(t)
	writeFile(t, sb.OutputsDir(), "chart.PNG", "pngbytes")
	resp := invoke(t, ConvertToBase64(sb), map[string]any{"file_name": "chart.PNG"})
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("pngbytes"))
	if resp.Content != want {
		t.Fatalf("unexpected data url %q", resp.Content)
	}
}

func TestSaveToCSV(t *testing.T) {
	sb := newSandbox(t)
	resp := invoke(t, SaveToCSV(sb), map[string]any{
		"result": map[string]any{"data": []any{"Avatar 2009  2.9", "Titanic 1997 2.2"}},
	})
	if resp.IsError {
		t.Fatalf("unexpected error %q", resp.Content)
	}
	data, err := os.ReadFile(filepath.Join(sb.OutputsDir(), "output.csv"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Avatar,2009,2.9\nTitanic,1997,2.2\n" {
		t.Fatalf("unexpected csv %q", data)
	}
	if resp := invoke(t, SaveToCSV(sb), map[string]any{"result": map[string]any{}}); !resp.IsError {
		t.Fatalf("expected missing data error")
	}
}

func TestSaveToJSON(t *testing.T) {
	sb := newSandbox(t)
	tool := SaveToJSON(sb)
	if resp := invoke(t, tool, map[string]any{"json_string": `{"a":1}`, "file_name": "a.txt"}); !resp.IsError {
		t.Fatalf("expected extension error")
	}
	if resp := invoke(t, tool, map[string]any{"json_string": `{"a":`, "file_name": "a.json"}); !strings.HasPrefix(resp.Content, "Error: Invalid JSON string") {
		t.Fatalf("expected invalid json error, got %q", resp.Content)
	}
	resp := invoke(t, tool, map[string]any{"json_string": `{"a":[1,2]}`, "file_name": "a.json"})
	if resp.Content != "File saved successfully as a.json in outputs/" {
		t.Fatalf("unexpected message %q", resp.Content)
	}
	data, _ := os.ReadFile(filepath.Join(sb.OutputsDir(), "a.json"))
	if string(data) != "{\n  \"a\": [\n    1,\n    2\n  ]\n}\n" {
		t.Fatalf("unexpected file %q", data)
	}
}

func TestExecuteCodeForbidden(t *testing.T) {
	sb := newSandbox(t)
	d := newDispatcher(t, Env{Sandbox: sb, Code: CodeOptions{Python: "definitely-not-python"}})
	res := d.Dispatch(context.Background(), call("execute_code", map[string]any{"code": "import os\nprint(os.listdir('/'))"}))
	if res.Content != "[Error] Code contains forbidden operations." {
		t.Fatalf("unexpected result %q", res.Content)
	}
}

func TestExecuteCodePrints(t *testing.T) {
	requirePython(t)
	sb := newSandbox(t)
	d := newDispatcher(t, Env{Sandbox: sb})
	res := d.Dispatch(context.Background(), call("execute_code", map[string]any{"code": "print(2+3)"}))
	if res.Content != "5" {
		t.Fatalf("expected 5, got %q", res.Content)
	}
	entries, _ := os.ReadDir(sb.OutputsDir())
	if len(entries) != 0 {
		t.Fatalf("staged script was not removed: %v", entries)
	}
}

func TestExecuteCodeOutcomes(t *testing.T) {
	requirePython(t)
	sb := newSandbox(t)
	tool := ExecuteCode(sb, CodeOptions{})

	if resp := invoke(t, tool, map[string]any{"code": "x = 1"}); resp.Content != "[No output from code.]" {
		t.Fatalf("unexpected empty output %q", resp.Content)
	}
	resp := invoke(t, tool, map[string]any{"code": "raise ValueError('boom')"})
	if !strings.HasPrefix(resp.Content, "[Error] Runtime error:\n") || !strings.Contains(resp.Content, "ValueError: boom") {
		t.Fatalf("unexpected runtime error %q", resp.Content)
	}
	resp = invoke(t, tool, map[string]any{"code": "while True:\n    pass", "timeout_sec": 1})
	if resp.Content != "[Error] Code execution timed out." {
		t.Fatalf("unexpected timeout output %q", resp.Content)
	}
	resp = invoke(t, tool, map[string]any{"code": `a = 3\nprint(a * 2)`})
	if resp.Content != "6" {
		t.Fatalf("expected escaped newlines to be unescaped, got %q", resp.Content)
	}
	resp = invoke(t, tool, map[string]any{"code": "from pathlib import Path\nPath('out.txt').write_text('hi')\nprint(Path('out.txt').resolve().parent.name)"})
	if resp.Content != filepath.Base(sb.OutputsDir()) {
		t.Fatalf("expected outputs as working directory, got %q", resp.Content)
	}
}

func TestCodeOptionsTimeout(t *testing.T) {
	var o CodeOptions
	if got := o.Timeout(0); got != DefaultCodeTimeout {
		t.Fatalf("expected default timeout, got %v", got)
	}
	if got := o.Timeout(120); got != MaxCodeTimeout {
		t.Fatalf("expected cap, got %v", got)
	}
	if got := o.Timeout(5).Seconds(); got != 5 {
		t.Fatalf("expected 5s, got %v", got)
	}
}

func TestUnescapeCode(t *testing.T) {
	if got := unescapeCode(`print("a")\nprint('b\tc')`); got != "print(\"a\")\nprint('b\tc')" {
		t.Fatalf("unexpected unescape %q", got)
	}
	if got := unescapeCode("print('\\t')"); got != "print('\\t')" {
		t.Fatalf("code without escaped newlines must be untouched, got %q", got)
	}
}

const samplePage = `<!DOCTYPE html><html><head><title>t</title><style>p{}</style></head>
<body><div id="main" class="content wide"><table class="wikitable"><tr><td>Avatar</td><td>2009</td></tr><tr><td>Titanic</td><td>1997</td></tr></table></div><script>var x;</script><!-- note --></body></html>`

func TestDOMOutline(t *testing.T) {
	got := DOMOutline(samplePage, 12)
	for _, want := range []string{"html", "  head", "    title", "  body", "    div#main.content.wide", "      table.wikitable"} {
		if !strings.Contains(got, want+"\n") {
			t.Fatalf("outline missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "script") || strings.Contains(got, "style") {
		t.Fatalf("outline must skip script and style:\n%s", got)
	}
	if shallow := DOMOutline(samplePage, 1); strings.Contains(shallow, "title") {
		t.Fatalf("depth limit ignored:\n%s", shallow)
	}
	if DOMOutline("plain text", 3) != noHTMLContent {
		t.Fatalf("expected no content marker")
	}
}

func TestGetRelevantData(t *testing.T) {
	sb := newSandbox(t)
	writeFile(t, sb.OutputsDir(), "page.html", samplePage)
	tool := GetRelevantData(sb)

	resp := invoke(t, tool, map[string]any{"file_name": "page.html", "js_selector": "table.wikitable tr"})
	var out extractResult
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Data) != 2 || out.Data[0] != "Avatar 2009" {
		t.Fatalf("unexpected data %+v", out.Data)
	}

	resp = invoke(t, tool, map[string]any{"file_name": "page.html", "js_selector": "ul.missing li"})
	out = extractResult{}
	_ = json.Unmarshal([]byte(resp.Content), &out)
	if !strings.HasPrefix(out.Message, "No matching content found") || !strings.Contains(out.DOMStructure, "table.wikitable") {
		t.Fatalf("unexpected guidance %+v", out)
	}

	if resp := invoke(t, tool, map[string]any{"file_name": "page.html", "js_selector": "tr[["}); !resp.IsError {
		t.Fatalf("expected invalid selector error, got %q", resp.Content)
	}
	if resp := invoke(t, tool, map[string]any{"file_name": "nope.html"}); !resp.IsError {
		t.Fatalf("expected not found error")
	}
}

func TestGetRelevantDataSavesLargeExtracts(t *testing.T) {
	sb := newSandbox(t)
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < 400; i++ {
		b.WriteString("<p>one two three four five</p>")
	}
	b.WriteString("</body></html>")
	writeFile(t, sb.OutputsDir(), "big.html", b.String())

	resp := invoke(t, GetRelevantData(sb), map[string]any{"file_name": "big.html", "js_selector": "p"})
	var out extractResult
	_ = json.Unmarshal([]byte(resp.Content), &out)
	if out.FilePath != extractOutputFile || !strings.Contains(out.Message, "~2000 words") {
		t.Fatalf("unexpected result %+v", out)
	}
	if _, err := os.Stat(filepath.Join(sb.OutputsDir(), extractOutputFile)); err != nil {
		t.Fatalf("extract file not written: %v", err)
	}
}

func TestScrapeWebpage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	sb := newSandbox(t)
	d := newDispatcher(t, Env{Sandbox: sb, Fetcher: NewHTTPFetcher(srv.Client())})

	res := d.Dispatch(context.Background(), call("scrape_webpage", map[string]any{"url": srv.URL + "/films", "output_file": "films"}))
	if res.IsError {
		t.Fatalf("unexpected error %q", res.Content)
	}
	if !strings.Contains(res.Content, `"html_file":"films.html"`) || !strings.Contains(res.Content, `"dom_file":"films_dom.txt"`) {
		t.Fatalf("unexpected result %q", res.Content)
	}
	dom, err := os.ReadFile(filepath.Join(sb.OutputsDir(), "films_dom.txt"))
	if err != nil || !strings.Contains(string(dom), "div#main.content.wide") {
		t.Fatalf("dom outline not written: %v %q", err, dom)
	}

	res = d.Dispatch(context.Background(), call("scrape_webpage", map[string]any{"url": srv.URL + "/gone"}))
	if !res.IsError || !strings.HasPrefix(res.Content, "Error scraping page: Failed to load page:") {
		t.Fatalf("unexpected failure result %q", res.Content)
	}
	res = d.Dispatch(context.Background(), call("scrape_webpage", map[string]any{"url": "file:///etc/passwd"}))
	if !res.IsError {
		t.Fatalf("expected non-http url to be rejected")
	}
}

func TestFallbackFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()
	f := FallbackFetcher{
		Primary:   NewHTTPFetcher(&http.Client{Transport: failingTransport{}}),
		Secondary: NewHTTPFetcher(srv.Client()),
	}
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil || body != "<p>ok</p>" {
		t.Fatalf("expected fallback body, got %q %v", body, err)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, os.ErrDeadlineExceeded
}

func TestReadImageFile(t *testing.T) {
	sb := newSandbox(t)
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3000, 200))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	writeFile(t, sb.UploadsDir(), "wide.png", buf.String())

	desc := &fakeDescriber{}
	d := newDispatcher(t, Env{Sandbox: sb, Describer: desc})
	res := d.Dispatch(context.Background(), call("read_image_file", map[string]any{"file_name": "wide.png"}))
	if res.Content != analyst.DefaultResultPrefixes["read_image_file"]+"a bar chart" {
		t.Fatalf("unexpected result %q", res.Content)
	}
	if desc.mime != "image/png" || desc.width != imageMaxSide {
		t.Fatalf("expected downscaled png, got %s %dx%d", desc.mime, desc.width, desc.height)
	}

	small := base64.StdEncoding.EncodeToString(encodePNG(t, 10, 10))
	res = d.Dispatch(context.Background(), call("read_image_file", map[string]any{"b64_string": "data:image/png;base64," + small}))
	if res.IsError || desc.width != 10 {
		t.Fatalf("unexpected inline result %q (%d)", res.Content, desc.width)
	}
	res = d.Dispatch(context.Background(), call("read_image_file", map[string]any{}))
	if res.Content != "Error: Provide either 'file_name' or 'b64_string'." {
		t.Fatalf("unexpected missing-input result %q", res.Content)
	}
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestReferenceCourseContent(t *testing.T) {
	ctx := context.Background()
	store := course.NewMemoryStore()
	emb := course.DummyEmbedder{Dim: 32}
	if _, err := course.Ingest(ctx, emb, store, "week2", "Use pandas read_html to load tables from a page.", 0); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	r, err := course.NewRetriever(emb, store)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	resp := invoke(t, ReferenceCourseContent(r), map[string]any{"query": "load html tables"})
	if resp.Content != "- [week2#1] Use pandas read_html to load tables from a page. ..." {
		t.Fatalf("unexpected tips %q", resp.Content)
	}
	if resp := invoke(t, ReferenceCourseContent(r), map[string]any{"query": " "}); !strings.HasPrefix(resp.Content, "Error retrieving course tips:") {
		t.Fatalf("unexpected error format %q", resp.Content)
	}
}

func TestBuiltinsLeaveOptionalToolsUnbound(t *testing.T) {
	if _, err := Builtins(Env{}); err == nil {
		t.Fatalf("expected error without sandbox")
	}
	sb := newSandbox(t)
	d := newDispatcher(t, Env{Sandbox: sb})
	res := d.Dispatch(context.Background(), call("reference_course_content", map[string]any{"query": "x"}))
	if res.Content != "Tool 'reference_course_content' not implemented." {
		t.Fatalf("unexpected result %q", res.Content)
	}
	built, _ := Builtins(Env{Sandbox: sb, Describer: &fakeDescriber{}, Course: &course.Retriever{}})
	if len(built) != 11 {
		t.Fatalf("expected 11 tools, got %d", len(built))
	}
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[CodeArgs]()
	if schema["type"] != "object" {
		t.Fatalf("unexpected schema %v", schema)
	}
	req, _ := schema["required"].([]any)
	if len(req) != 1 || req[0] != "code" {
		t.Fatalf("expected only code to be required, got %v", schema["required"])
	}
	props, _ := schema["properties"].(map[string]any)
	timeout, _ := props["timeout_sec"].(map[string]any)
	if timeout["type"] != "integer" {
		t.Fatalf("expected integer timeout, got %v", timeout)
	}
	if err := analyst.ValidateArguments(schema, map[string]any{"timeout_sec": 3.0}); err == nil {
		t.Fatalf("expected missing code to fail validation")
	}
}

func TestSpecsMatchEmbeddedDescriptors(t *testing.T) {
	embedded, err := analyst.BuiltinToolSpecs()
	if err != nil {
		t.Fatalf("builtin specs: %v", err)
	}
	names := map[string]bool{}
	for _, spec := range embedded {
		names[spec.Name] = true
	}
	reflected := Specs()
	if len(reflected) != len(embedded) {
		t.Fatalf("reflected %d specs, embedded %d", len(reflected), len(embedded))
	}
	for _, spec := range reflected {
		if !names[spec.Name] {
			t.Fatalf("%s has no embedded descriptor", spec.Name)
		}
		if spec.InputSchema["type"] != "object" {
			t.Fatalf("%s: schema %v", spec.Name, spec.InputSchema)
		}
	}
}

func TestPythonLookupHonoursConfig(t *testing.T) {
	if _, err := pythonPath("definitely-not-python"); err == nil {
		t.Fatalf("expected lookup failure")
	}
	if _, err := exec.LookPath("python3"); err == nil {
		if p, err := pythonPath(""); err != nil || p == "" {
			t.Fatalf("expected python3 to be found")
		}
	}
}
