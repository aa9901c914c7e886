package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	textMaxChars     = 8000
	textMaxWords     = 1200
	textMaxFileBytes = 5 * 1024 * 1024
	pdfMaxChars      = 8000
	csvPreviewRows   = 10
)

var (
	textAllowedExt = []string{".txt", ".csv", ".log", ".md"}
	textBlockedExt = []string{".html", ".htm", ".xml", ".json", ".js", ".css"}
)

// FileArgs addresses one file in the sandbox.
type FileArgs struct {
	FileName  string `json:"file_name" jsonschema_description:"Plain file name."`
	Directory string `json:"directory,omitempty" jsonschema:"enum=uploads,enum=outputs" jsonschema_description:"Directory holding the file."`
}

func locate(sb *sandbox.Sandbox, args FileArgs, def sandbox.Area) (string, sandbox.Area, error) {
	area, err := sandbox.ParseArea(args.Directory, def)
	if err != nil {
		return "", "", err
	}
	path, err := sb.Resolve(area, args.FileName)
	if err != nil {
		return "", "", err
	}
	return path, area, nil
}

func notFound(name string, area sandbox.Area) (analyst.ToolResponse, error) {
	return failf("Error: File '%s' not found in '%s/'.", name, area)
}

// ReadTextFile returns the contents of small plain-text files.
func ReadTextFile(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[FileArgs]{
		Name:        "read_text_file",
		Description: "Reads a plain text file (.txt, .csv, .log, .md) from the uploads or outputs directory and returns its contents. Long files are truncated.",
		Run: func(_ context.Context, in FileArgs) (analyst.ToolResponse, error) {
			return readText(sb, in)
		},
	}
}

func readText(sb *sandbox.Sandbox, in FileArgs) (analyst.ToolResponse, error) {
	ext := strings.ToLower(filepath.Ext(in.FileName))
	if slices.Contains(textBlockedExt, ext) {
		return failf("Error: Reading files with '%s' extension is not supported due to potential token overload. Please use more specific extraction tools.", ext)
	}
	if !slices.Contains(textAllowedExt, ext) {
		return failf("Error: Unsupported file type '%s'. Allowed types: %s", ext, strings.Join(textAllowedExt, ", "))
	}
	path, area, err := locate(sb, in, sandbox.Uploads)
	if err != nil {
		return failf("Error: %v", err)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(in.FileName, area)
	}
	if err != nil {
		return failf("Error: Could not read file '%s': %v", in.FileName, err)
	}
	if info.Size() > textMaxFileBytes {
		return failf("Error: File '%s' exceeds maximum allowed size of %d MB.", in.FileName, textMaxFileBytes/(1024*1024))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return failf("Error: Could not read file '%s': %v", in.FileName, err)
	}
	content := strings.ToValidUTF8(string(data), "\uFFFD")

	if area == sandbox.Uploads && filepath.Base(path) == analyst.QuestionsFile {
		return reply(content)
	}
	if len(strings.Fields(content)) > textMaxWords || utf8.RuneCountInString(content) > textMaxChars {
		return reply("⚠️ File too long for direct reading. Only partial content shown below.\n" +
			"Please use a more specific extraction tool (e.g., get_relevant_data) " +
			"or write code via `execute_code` to process large files.\n\n" +
			truncateRunes(content, textMaxChars))
	}
	return reply(content)
}

// ReadCSVFile previews the header and first rows of a CSV file.
func ReadCSVFile(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[FileArgs]{
		Name:        "read_csv_file",
		Description: "Returns the header and first 10 rows of a CSV file.",
		Run: func(_ context.Context, in FileArgs) (analyst.ToolResponse, error) {
			path, area, err := locate(sb, in, sandbox.Uploads)
			if err != nil {
				return failf("Error: %v", err)
			}
			preview, err := previewCSV(path, csvPreviewRows)
			if errors.Is(err, fs.ErrNotExist) {
				return notFound(in.FileName, area)
			}
			if err != nil {
				return failf("Error: Failed to read CSV file: %v", err)
			}
			return reply(fmt.Sprintf("First %d rows of %s in %s:\n\n%s", csvPreviewRows, in.FileName, area, preview))
		},
	}
}

func previewCSV(path string, rows int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i := 0; i <= rows; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// PDFArgs requires the directory, unlike the other readers.
type PDFArgs struct {
	FileName  string `json:"file_name" jsonschema_description:"Plain PDF file name."`
	Directory string `json:"directory" jsonschema:"enum=uploads,enum=outputs" jsonschema_description:"Directory holding the file."`
}

// ReadPDFFile extracts the plain text of every page.
func ReadPDFFile(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[PDFArgs]{
		Name:        "read_pdf_file",
		Description: "Extracts the text of a PDF file page by page. Output is capped at 8000 characters.",
		Run: func(_ context.Context, in PDFArgs) (analyst.ToolResponse, error) {
			path, area, err := locate(sb, FileArgs(in), sandbox.Uploads)
			if err != nil {
				return failf("Error: %v", err)
			}
			text, err := pdfText(path)
			if errors.Is(err, fs.ErrNotExist) {
				return notFound(in.FileName, area)
			}
			if err != nil {
				return failf("Error: Could not read file '%s': %v", in.FileName, err)
			}
			if utf8.RuneCountInString(text) > pdfMaxChars {
				return reply(truncateRunes(text, pdfMaxChars) +
					"\n\n[Output truncated: file too long for direct reading. Please use a more specific extraction tool or write custom code with `execute_code`.]")
			}
			if strings.TrimSpace(text) == "" {
				return reply("[No readable text found in the PDF.]")
			}
			return reply(text)
		},
	}
}

func pdfText(path string) (text string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			// image-only pages have no text layer
			continue
		}
		sb.WriteString(txt)
		if !strings.HasSuffix(txt, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// ConvertToBase64 encodes an image as a data URL.
func ConvertToBase64(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[FileArgs]{
		Name:        "convert_to_base64",
		Description: "Converts an image file to a base64 data URL.",
		Run: func(_ context.Context, in FileArgs) (analyst.ToolResponse, error) {
			path, area, err := locate(sb, in, sandbox.Outputs)
			if err != nil {
				return failf("Error: %v", err)
			}
			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return notFound(in.FileName, area)
			}
			if err != nil {
				return failf("Error: Could not convert file '%s' to base64: %v", in.FileName, err)
			}
			ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
			return reply("data:image/" + ext + ";base64," + base64.StdEncoding.EncodeToString(data))
		},
	}
}

// SaveCSVArgs holds rows extracted by get_relevant_data.
type SaveCSVArgs struct {
	Result   SaveCSVRows `json:"result" jsonschema_description:"Object with a 'data' key holding a list of row strings."`
	FileName string      `json:"file_name,omitempty" jsonschema_description:"Output CSV file name. Defaults to output.csv."`
}

type SaveCSVRows struct {
	Data []string `json:"data"`
}

// SaveToCSV writes whitespace-split rows to a CSV file in outputs.
func SaveToCSV(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[SaveCSVArgs]{
		Name:        "save_to_csv",
		Description: "Saves rows extracted by get_relevant_data to a CSV file in outputs. Each row string is split on whitespace.",
		Run: func(_ context.Context, in SaveCSVArgs) (analyst.ToolResponse, error) {
			if in.Result.Data == nil {
				return failf("Error: No 'data' key found in input. Nothing was saved.")
			}
			name := in.FileName
			if strings.TrimSpace(name) == "" {
				name = "output.csv"
			}
			path, err := sb.Resolve(sandbox.Outputs, name)
			if err != nil {
				return failf("Error: %v", err)
			}
			var buf bytes.Buffer
			w := csv.NewWriter(&buf)
			for _, row := range in.Result.Data {
				if err := w.Write(strings.Fields(row)); err != nil {
					return failf("Error: %v", err)
				}
			}
			w.Flush()
			if err := writeOutput(path, buf.Bytes()); err != nil {
				return failf("Error: %v", err)
			}
			return reply("Data successfully saved to outputs/" + filepath.Base(path))
		},
	}
}

// SaveJSONArgs carries a raw JSON document.
type SaveJSONArgs struct {
	JSONString string `json:"json_string" jsonschema_description:"The JSON document to save."`
	FileName   string `json:"file_name" jsonschema_description:"Output file name ending in .json."`
}

// SaveToJSON validates and pretty prints a JSON document into outputs.
func SaveToJSON(sb *sandbox.Sandbox) analyst.Tool {
	return &Definition[SaveJSONArgs]{
		Name:        "save_to_json",
		Description: "Validates a JSON string and saves it pretty-printed to a .json file in outputs.",
		Run: func(_ context.Context, in SaveJSONArgs) (analyst.ToolResponse, error) {
			if !strings.HasSuffix(in.FileName, ".json") {
				return failf("Error: File name must end with '.json'.")
			}
			path, err := sb.Resolve(sandbox.Outputs, in.FileName)
			if err != nil {
				return failf("Error: %v", err)
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, []byte(in.JSONString), "", "  "); err != nil {
				return failf("Error: Invalid JSON string: %v", err)
			}
			pretty.WriteByte('\n')
			if err := writeOutput(path, pretty.Bytes()); err != nil {
				return failf("Error saving JSON file: %v", err)
			}
			return reply(fmt.Sprintf("File saved successfully as %s in outputs/", filepath.Base(path)))
		},
	}
}

func writeOutput(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
