package analyst

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestCatalogRegisterAndLookup(t *testing.T) {
	cat := NewCatalog(echoTool())
	if err := cat.Register(echoTool()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, _, ok := cat.Lookup("ECHO "); !ok {
		t.Fatalf("lookup should be case and space insensitive")
	}
	if cat.Implemented("other") {
		t.Fatalf("unexpected tool")
	}
	if err := cat.Register(nil); err == nil {
		t.Fatalf("expected error for nil tool")
	}
}

func TestCatalogDescribedSpecWins(t *testing.T) {
	cat := NewCatalog()
	if err := cat.Describe(ToolSpec{Name: "echo", Description: "From file."}); err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if cat.Implemented("echo") {
		t.Fatalf("described tool must not be implemented yet")
	}
	if err := cat.Register(echoTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, spec, ok := cat.Lookup("echo")
	if !ok || spec.Description != "From file." {
		t.Fatalf("expected described spec to be kept, got %+v", spec)
	}
	if len(cat.Specs()) != 1 {
		t.Fatalf("expected one spec, got %d", len(cat.Specs()))
	}
}

func TestCatalogSummary(t *testing.T) {
	cat := NewCatalog(echoTool(), panicTool())
	want := "1. `echo`: Echo text back.\n2. `explode`: Always panics."
	if got := cat.Summary(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuiltinToolSpecs(t *testing.T) {
	specs, err := BuiltinToolSpecs()
	if err != nil {
		t.Fatalf("BuiltinToolSpecs: %v", err)
	}
	names := map[string]bool{}
	for _, s := range specs {
		names[s.Name] = true
		if strings.TrimSpace(s.Description) == "" {
			t.Fatalf("tool %s has no description", s.Name)
		}
		if s.InputSchema["type"] != "object" {
			t.Fatalf("tool %s parameters should be an object schema", s.Name)
		}
	}
	for _, want := range []string{
		"read_text_file", "read_csv_file", "read_pdf_file", "read_image_file",
		"convert_to_base64", "save_to_csv", "save_to_json", "scrape_webpage",
		"get_relevant_data", "execute_code", "reference_course_content",
	} {
		if !names[want] {
			t.Fatalf("missing builtin tool %s", want)
		}
	}
}

func TestLoadToolSpecs(t *testing.T) {
	fsys := fstest.MapFS{
		"b.json":      {Data: []byte(`{"type":"function","function":{"name":"beta","description":"B","parameters":{"type":"object"}}}`)},
		"a.json":      {Data: []byte(`{"type":"function","function":{"name":"alpha","description":"A","parameters":{"type":"object"}}}`)},
		"skip.json":   {Data: []byte(`{"type":"retrieval"}`)},
		"notes.txt":   {Data: []byte(`ignored`)},
		"nested/c.js": {Data: []byte(`ignored`)},
	}
	specs, err := LoadToolSpecs(fsys)
	if err != nil {
		t.Fatalf("LoadToolSpecs: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "alpha" || specs[1].Name != "beta" {
		t.Fatalf("unexpected specs %+v", specs)
	}

	dup := fstest.MapFS{
		"a.json": {Data: []byte(`{"type":"function","function":{"name":"x"}}`)},
		"b.json": {Data: []byte(`{"type":"function","function":{"name":"X"}}`)},
	}
	if _, err := LoadToolSpecs(dup); err == nil {
		t.Fatalf("expected duplicate tool error")
	}

	bad := fstest.MapFS{"a.json": {Data: []byte(`{`)}}
	if _, err := LoadToolSpecs(bad); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDocumentForRoundTripsSpec(t *testing.T) {
	spec := ToolSpec{Name: "n", Description: "d", InputSchema: map[string]any{"type": "object"}}
	doc := DocumentFor(spec)
	if doc.Type != "function" || doc.Spec().Name != "n" {
		t.Fatalf("unexpected document %+v", doc)
	}
}
