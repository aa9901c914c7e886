//go:build !fastembed

package course

import (
	"context"
	"errors"
)

// FastEmbedOptions configure the local ONNX embedder.
type FastEmbedOptions struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// ErrFastEmbedUnavailable is returned when the binary was built without the fastembed tag.
var ErrFastEmbedUnavailable = errors.New("fastembed support not compiled in; rebuild with -tags fastembed")

// FastEmbedder is unavailable in this build.
type FastEmbedder struct{}

func NewFastEmbedder(FastEmbedOptions) (*FastEmbedder, error) {
	return nil, ErrFastEmbedUnavailable
}

func (e *FastEmbedder) Close() error { return nil }

func (e *FastEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

func (e *FastEmbedder) EmbedPassages(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedUnavailable
}

// FastEmbedAvailable reports whether the binary was built with fastembed.
const FastEmbedAvailable = false
