//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rcliao/memory-service/internal/config"
)

const onnxMaxLen = 128

var ortInit sync.Once
var ortInitErr error

// ONNXEmbedder runs a BERT-style sentence model through ONNX Runtime with mean
// pooling over attended tokens.
type ONNXEmbedder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPiece
	dims      int
	name      string
}

func newONNXEmbedder(cfg config.ONNXConfig, dims int) (Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("embedding.onnx.model_path is required")
	}
	if dims <= 0 {
		dims = DefaultHashDims
	}
	tokPath := cfg.TokenizerPath
	if tokPath == "" {
		tokPath = filepath.Join(filepath.Dir(cfg.ModelPath), "tokenizer.json")
	}

	ortInit.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", ortInitErr)
	}

	tok, err := loadWordPiece(tokPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXEmbedder{
		session:   session,
		tokenizer: tok,
		dims:      dims,
		name:      "onnx/" + strings.TrimSuffix(filepath.Base(cfg.ModelPath), ".onnx"),
	}, nil
}

func (e *ONNXEmbedder) Encode(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := e.embed(t)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *ONNXEmbedder) Dims() int { return e.dims }

func (e *ONNXEmbedder) Name() string { return e.name }

// Close releases the session.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

func (e *ONNXEmbedder) embed(text string) (Vector, error) {
	ids := e.tokenizer.encode(text, onnxMaxLen)
	inputIDs := make([]int64, onnxMaxLen)
	mask := make([]int64, onnxMaxLen)
	typeIDs := make([]int64, onnxMaxLen)
	for i, id := range ids {
		inputIDs[i] = id
		mask[i] = 1
	}

	shape := ort.NewShape(1, onnxMaxLen)
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsT, maskT, typeT}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	data := t.GetData()
	s := t.GetShape()

	vec := make(Vector, e.dims)
	switch len(s) {
	case 2:
		if int(s[1]) != e.dims {
			return nil, fmt.Errorf("pooled width %d, want %d", s[1], e.dims)
		}
		copy(vec, data[:e.dims])
	case 3:
		if int(s[2]) != e.dims {
			return nil, fmt.Errorf("hidden size %d, want %d", s[2], e.dims)
		}
		var attended float32
		for i := 0; i < int(s[1]); i++ {
			if mask[i] == 0 {
				continue
			}
			attended++
			off := i * e.dims
			for j := 0; j < e.dims; j++ {
				vec[j] += data[off+j]
			}
		}
		for j := range vec {
			vec[j] /= attended
		}
	default:
		return nil, fmt.Errorf("unexpected output shape %v", s)
	}
	return Normalize(vec), nil
}

// wordPiece is a minimal BERT WordPiece tokenizer over tokenizer.json's vocab.
type wordPiece struct {
	vocab map[string]int
	cls   int64
	sep   int64
	unk   int64
}

func loadWordPiece(path string) (*wordPiece, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	id := func(tok string, def int64) int64 {
		if v, ok := doc.Model.Vocab[tok]; ok {
			return int64(v)
		}
		return def
	}
	return &wordPiece{
		vocab: doc.Model.Vocab,
		cls:   id("[CLS]", 101),
		sep:   id("[SEP]", 102),
		unk:   id("[UNK]", 100),
	}, nil
}

// encode returns [CLS] tokens... [SEP], truncated to maxLen.
func (w *wordPiece) encode(text string, maxLen int) []int64 {
	ids := []int64{w.cls}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if word == "" {
			continue
		}
		for _, piece := range w.pieces(word) {
			if len(ids) >= maxLen-1 {
				return append(ids, w.sep)
			}
			ids = append(ids, piece)
		}
	}
	return append(ids, w.sep)
}

func (w *wordPiece) pieces(word string) []int64 {
	if id, ok := w.vocab[word]; ok {
		return []int64{int64(id)}
	}
	var out []int64
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := w.vocab[sub]; ok {
				out = append(out, int64(id))
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			return []int64{w.unk}
		}
	}
	return out
}
