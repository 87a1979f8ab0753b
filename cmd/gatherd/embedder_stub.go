//go:build !onnx

package main

import (
	"errors"

	"github.com/gatherkit/gather-go/config"
	"github.com/gatherkit/gather-go/index"
)

func newOnnxEmbedder(config.OnnxConfig) (index.Embedder, func(), error) {
	return nil, nil, errors.New("onnx embedder requires building with the onnx tag")
}
