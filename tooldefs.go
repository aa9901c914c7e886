package analyst

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

//go:embed tooldefs/*.json
var builtinToolDefs embed.FS

// ToolDocument is the on-disk shape of a tool schema file, identical to the
// function entry of an OpenAI-compatible tools list.
type ToolDocument struct {
	Type     string           `json:"type"`
	Function ToolDocumentBody `json:"function"`
}

// ToolDocumentBody is the "function" member of a ToolDocument.
type ToolDocumentBody struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Spec converts the document into a ToolSpec.
func (d ToolDocument) Spec() ToolSpec {
	return ToolSpec{
		Name:        d.Function.Name,
		Description: d.Function.Description,
		InputSchema: d.Function.Parameters,
	}
}

// DocumentFor renders spec in the on-disk tool document shape.
func DocumentFor(spec ToolSpec) ToolDocument {
	return ToolDocument{
		Type: "function",
		Function: ToolDocumentBody{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.InputSchema,
		},
	}
}

// BuiltinToolSpecs returns the tool documents shipped with the binary.
func BuiltinToolSpecs() ([]ToolSpec, error) {
	sub, err := fs.Sub(builtinToolDefs, "tooldefs")
	if err != nil {
		return nil, err
	}
	return LoadToolSpecs(sub)
}

// LoadToolSpecsDir loads every *.json tool document in dir.
func LoadToolSpecsDir(dir string) ([]ToolSpec, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("tool schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("tool schema dir %q is not a directory", dir)
	}
	return LoadToolSpecs(os.DirFS(dir))
}

// LoadToolSpecs reads every top-level *.json document in fsys, sorted by file name.
// Documents whose type is not "function" are skipped.
func LoadToolSpecs(fsys fs.FS) ([]ToolSpec, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read tool schemas: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	specs := make([]ToolSpec, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read tool schema %s: %w", name, err)
		}
		var doc ToolDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode tool schema %s: %w", name, err)
		}
		if doc.Type != "function" {
			continue
		}
		if strings.TrimSpace(doc.Function.Name) == "" {
			return nil, fmt.Errorf("tool schema %s: function name is empty", name)
		}
		key := catalogKey(doc.Function.Name)
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("tool schema %s: duplicate tool %q (also in %s)", name, doc.Function.Name, prev)
		}
		seen[key] = name
		specs = append(specs, doc.Spec())
	}
	return specs, nil
}
