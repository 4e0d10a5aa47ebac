package reranker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/daulet/tokenizers"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"dev.ragsuite.platform/internal/domain"
)

// InitRuntime loads the onnxruntime shared library once per process.
// Must run before any model is loaded.
func InitRuntime() error {
	if ort.IsInitialized() {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the onnxruntime environment.
func ShutdownRuntime() {
	if ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}

// ResolveDevice turns the configured preference into the runtime device.
// "auto" probes for a usable CUDA execution provider and falls back to
// cpu. Requires an initialized runtime.
func ResolveDevice(configured string) string {
	candidate := strings.ToLower(strings.TrimSpace(configured))
	if candidate == "" {
		candidate = "auto"
	}
	if candidate != "auto" {
		return candidate
	}
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return "cpu"
	}
	_ = cudaOpts.Destroy()
	return "cuda"
}

// encoderOptions sizes one scoring runtime.
type encoderOptions struct {
	Device    string
	MaxLength int
	BatchSize int
	UseFP16   bool
}

// crossEncoder scores (query, document) pairs with an ONNX sequence
// classification model and its HuggingFace tokenizer. One logit per
// pair comes back from the "logits" output.
type crossEncoder struct {
	spec      ModelSpec
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizers.Tokenizer
	maxLength int
	batchSize int
	logger    *logrus.Logger
}

func newCrossEncoder(spec ModelSpec, opts encoderOptions, logger *logrus.Logger) (scorer, error) {
	if logger == nil {
		logger = logrus.New()
	}

	modelPath := spec.ModelPath
	if opts.UseFP16 && opts.Device == "cuda" {
		if alt := fp16Variant(modelPath); alt != "" {
			modelPath = alt
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	tok, err := tokenizers.FromFile(spec.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()

	if opts.Device == "cuda" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			tok.Close()
			return nil, fmt.Errorf("cuda execution provider unavailable: %w", err)
		}
		err = sessionOpts.AppendExecutionProviderCUDA(cudaOpts)
		_ = cudaOpts.Destroy()
		if err != nil {
			tok.Close()
			return nil, fmt.Errorf("failed to enable cuda execution provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		sessionOpts,
	)
	if err != nil {
		tok.Close()
		return nil, fmt.Errorf("failed to load ONNX model: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"model":  spec.ID,
		"path":   modelPath,
		"device": opts.Device,
	}).Debug("Cross-encoder session created")

	return &crossEncoder{
		spec:      spec,
		session:   session,
		tokenizer: tok,
		maxLength: opts.MaxLength,
		batchSize: opts.BatchSize,
		logger:    logger,
	}, nil
}

// fp16Variant returns the _fp16 sibling of path when one exists. FP16
// weights are a separate export in the ONNX world, so the flag selects
// a file instead of converting in place.
func fp16Variant(path string) string {
	ext := filepath.Ext(path)
	candidate := strings.TrimSuffix(path, ext) + "_fp16" + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// Score runs the model over every (query, document) pair and returns
// one relevance logit per document, in input order.
func (e *crossEncoder) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, 0, len(documents))
	for start := 0; start < len(documents); start += e.batchSize {
		if ctx.Err() != nil {
			return nil, domain.Cancelledf("Rerank interrupted by user request.")
		}
		end := min(start+e.batchSize, len(documents))
		batch, err := e.scoreBatch(query, documents[start:end])
		if err != nil {
			return nil, err
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func (e *crossEncoder) scoreBatch(query string, documents []string) ([]float64, error) {
	n := len(documents)
	sequences := make([][]int64, n)
	maxLen := 0
	for i, document := range documents {
		seq := e.encodePair(query, document)
		sequences[i] = seq
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
	}

	flatIDs := make([]int64, n*maxLen)
	flatMask := make([]int64, n*maxLen)
	for i, seq := range sequences {
		row := flatIDs[i*maxLen : (i+1)*maxLen]
		mask := flatMask[i*maxLen : (i+1)*maxLen]
		copy(row, seq)
		for j := len(seq); j < maxLen; j++ {
			row[j] = e.spec.PadToken
		}
		for j := range seq {
			mask[j] = 1
		}
	}

	shape := ort.NewShape(int64(n), int64(maxLen))
	idTensor, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idTensor, maskTensor}, outputs); err != nil {
		return nil, domain.Externalf("Cross-encoder inference failed: %v", err)
	}
	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
		return nil, domain.Externalf("Cross-encoder returned malformed score payload")
	}
	defer logits.Destroy()

	data := logits.GetData()
	if len(data) != n {
		return nil, domain.Externalf("Cross-encoder returned unexpected score count. expected=%d got=%d", n, len(data))
	}

	scores := make([]float64, n)
	for i, logit := range data {
		scores[i] = float64(logit)
	}
	return scores, nil
}

// encodePair assembles the XLM-RoBERTa pair layout
// <s> query </s></s> document </s>, tail-truncated to maxLength.
func (e *crossEncoder) encodePair(query, document string) []int64 {
	queryEnc := e.tokenizer.EncodeWithOptions(query, false)
	docEnc := e.tokenizer.EncodeWithOptions(document, false)

	seq := make([]int64, 0, len(queryEnc.IDs)+len(docEnc.IDs)+4)
	seq = append(seq, e.spec.BOSToken)
	for _, id := range queryEnc.IDs {
		seq = append(seq, int64(id))
	}
	seq = append(seq, e.spec.EOSToken, e.spec.EOSToken)
	for _, id := range docEnc.IDs {
		seq = append(seq, int64(id))
	}
	seq = append(seq, e.spec.EOSToken)

	if len(seq) > e.maxLength {
		seq = seq[:e.maxLength]
		seq[e.maxLength-1] = e.spec.EOSToken
	}
	return seq
}

// Destroy releases the ONNX session and the tokenizer handle.
func (e *crossEncoder) Destroy() error {
	var firstErr error
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			firstErr = err
		}
		e.session = nil
	}
	if e.tokenizer != nil {
		if err := e.tokenizer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.tokenizer = nil
	}
	return firstErr
}
