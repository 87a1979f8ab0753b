//go:build onnx

package main

import (
	"fmt"

	"github.com/gatherkit/gather-go/config"
	"github.com/gatherkit/gather-go/index"
	"github.com/gatherkit/gather-go/index/embedder/onnx"
)

func newOnnxEmbedder(cfg config.OnnxConfig) (index.Embedder, func(), error) {
	emb, err := onnx.New(onnx.Config{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		LibraryPath:   cfg.LibraryPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build onnx embedder: %w", err)
	}
	return emb, func() { _ = emb.Close() }, nil
}
