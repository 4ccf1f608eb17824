//go:build !onnx

package embedding

import (
	"fmt"

	"github.com/rcliao/memory-service/internal/config"
)

func newONNXEmbedder(cfg config.ONNXConfig, dims int) (Embedder, error) {
	return nil, fmt.Errorf("onnx provider not compiled in: rebuild with -tags onnx")
}
