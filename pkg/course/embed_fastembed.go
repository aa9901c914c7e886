//go:build fastembed

package course

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedOptions configure the local ONNX embedder.
type FastEmbedOptions struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// FastEmbedder runs a local embedding model through fastembed.
type FastEmbedder struct {
	m  *fastembed.FlagEmbedding
	bs int
}

// NewFastEmbedder loads the model, downloading it into CacheDir on first use.
func NewFastEmbedder(opt FastEmbedOptions) (*FastEmbedder, error) {
	init := &fastembed.InitOptions{
		Model:     fastembed.EmbeddingModel(opt.Model),
		CacheDir:  opt.CacheDir,
		MaxLength: opt.MaxLength,
	}
	if opt.Model == "" {
		init.Model = fastembed.BGESmallENV15
	}
	if init.CacheDir == "" {
		init.CacheDir = ".fastembed"
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, fmt.Errorf("load fastembed model: %w", err)
	}
	bs := opt.BatchSize
	if bs <= 0 {
		bs = 64
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &FastEmbedder{m: m, bs: bs}, nil
}

// Close releases the ONNX session.
func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

func (e *FastEmbedder) Embed(_ context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}

// EmbedPassages adds the "passage: " prefix the BGE models expect.
func (e *FastEmbedder) EmbedPassages(_ context.Context, docs []string) ([][]float32, error) {
	inputs := make([]string, len(docs))
	for i, d := range docs {
		if strings.HasPrefix(d, "passage:") {
			inputs[i] = d
		} else {
			inputs[i] = "passage: " + d
		}
	}
	out, err := e.m.PassageEmbed(inputs, e.bs)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	return out, nil
}

// FastEmbedAvailable reports whether the binary was built with fastembed.
const FastEmbedAvailable = true
