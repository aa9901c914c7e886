package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/sandbox"
)

const (
	imageMaxSide = 1568
	imagePrompt  = "Describe the content of this image in detail, focusing on any text, objects, or relevant features that could help answer questions about it."
)

// ImageArgs names an image file or carries it inline.
type ImageArgs struct {
	FileName  string `json:"file_name,omitempty" jsonschema_description:"Plain image file name."`
	B64String string `json:"b64_string,omitempty" jsonschema_description:"Base64 image data, optionally as a data:image/... URL."`
	Directory string `json:"directory,omitempty" jsonschema:"enum=uploads,enum=outputs" jsonschema_description:"Directory holding the file. Defaults to uploads."`
}

// ReadImageFile asks a vision model to describe an image.
func ReadImageFile(sb *sandbox.Sandbox, describer ImageDescriber) analyst.Tool {
	return &Definition[ImageArgs]{
		Name:        "read_image_file",
		Description: "Describes the content of an image (text, objects, charts). Pass either a file name or a base64 string.",
		Run: func(ctx context.Context, in ImageArgs) (analyst.ToolResponse, error) {
			var data []byte
			switch {
			case strings.TrimSpace(in.FileName) != "":
				path, area, err := locate(sb, FileArgs{FileName: in.FileName, Directory: in.Directory}, sandbox.Uploads)
				if err != nil {
					return failf("Error: %v", err)
				}
				data, err = os.ReadFile(path)
				if errors.Is(err, fs.ErrNotExist) {
					return notFound(in.FileName, area)
				}
				if err != nil {
					return failf("Error processing image: %v", err)
				}
			case strings.TrimSpace(in.B64String) != "":
				var err error
				data, err = decodeDataURL(in.B64String)
				if err != nil {
					return failf("Error processing image: %v", err)
				}
			default:
				return failf("Error: Provide either 'file_name' or 'b64_string'.")
			}

			data, mime := prepareImage(data)
			text, err := describer.DescribeImage(ctx, data, mime, imagePrompt)
			if err != nil {
				return failf("Error processing image: %v", err)
			}
			return reply(text)
		},
	}
}

func decodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// prepareImage downsizes large images before upload. Formats imaging cannot
// decode are passed through untouched.
func prepareImage(data []byte) ([]byte, string) {
	mime := http.DetectContentType(data)
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, mime
	}
	b := img.Bounds()
	if b.Dx() <= imageMaxSide && b.Dy() <= imageMaxSide {
		return data, mime
	}
	img = imaging.Fit(img, imageMaxSide, imageMaxSide, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return data, mime
	}
	return buf.Bytes(), "image/png"
}
