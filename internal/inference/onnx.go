package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/synnergy/hostnode/internal/errs"
)

const (
	embedDim        = 384
	maxEmbedTexts   = 96
	maxEmbedChars   = 8192
)

// OnnxFallback is the CPU embedding/OCR/image-description tier spec §4.4.3
// names, used whenever the VLM sidecar is unconfigured or fails. Only
// EmbedBatch runs an ONNX model; OCR and Describe run none and return empty
// text. Every response it produces carries provider="host" and this
// fallback's own model name, never the VLM's.
type OnnxFallback struct {
	embedModelPath string
	ocrModelName   string
	describeModel  string

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

func NewOnnxFallback(embedModelPath string) *OnnxFallback {
	return &OnnxFallback{
		embedModelPath: embedModelPath,
		ocrModelName:   "paddleocr",
		describeModel:  "florence-2",
	}
}

var ortInitOnce sync.Once
var ortInitErr error

func ensureOrtEnvironment(sharedLibPath string) error {
	ortInitOnce.Do(func() {
		if sharedLibPath != "" {
			ort.SetSharedLibraryPath(sharedLibPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

func (o *OnnxFallback) ensureSession(sharedLibPath string) (*ort.DynamicAdvancedSession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return o.session, nil
	}
	if err := ensureOrtEnvironment(sharedLibPath); err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "initialize onnxruntime environment")
	}
	sess, err := ort.NewDynamicAdvancedSession(o.embedModelPath, []string{"input_ids"}, []string{"embeddings"}, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternalError, err, "load onnx embedding model")
	}
	o.session = sess
	return sess, nil
}

// EmbedBatch produces 384-dim embeddings for up to 96 texts, each up to
// 8192 chars (spec §4.4.3 invariants).
func (o *OnnxFallback) EmbedBatch(texts []string, sharedLibPath string) ([]EmbedResult, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.KindEmptyTexts, "embed_batch requires at least one text")
	}
	if len(texts) > maxEmbedTexts {
		return nil, errs.New(errs.KindTooManyTexts, fmt.Sprintf("embed_batch accepts at most %d texts, got %d", maxEmbedTexts, len(texts)))
	}
	for _, t := range texts {
		if len(t) > maxEmbedChars {
			return nil, errs.New(errs.KindTextTooLong, fmt.Sprintf("text exceeds %d characters", maxEmbedChars))
		}
	}

	sess, err := o.ensureSession(sharedLibPath)
	if err != nil {
		return nil, err
	}

	results := make([]EmbedResult, len(texts))
	for i, t := range texts {
		ids := tokenizeToIDs(t)
		inputShape := ort.NewShape(1, int64(len(ids)))
		inputTensor, err := ort.NewTensor(inputShape, ids)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternalError, err, "build onnx input tensor")
		}
		outputShape := ort.NewShape(1, embedDim)
		outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
		if err != nil {
			inputTensor.Destroy()
			return nil, errs.Wrap(errs.KindInternalError, err, "allocate onnx output tensor")
		}
		runErr := sess.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor})
		vec := append([]float32(nil), outputTensor.GetData()...)
		inputTensor.Destroy()
		outputTensor.Destroy()
		if runErr != nil {
			return nil, errs.Wrap(errs.KindInternalError, runErr, "run onnx embedding model")
		}
		results[i] = EmbedResult{Vector: vec}
	}
	return results, nil
}

// OCR returns a VisionResult with empty Text, model "paddleocr" and
// provider "host". No OCR model is run, and it never returns an error.
func (o *OnnxFallback) OCR(imageBytes []byte, format string) (VisionResult, error) {
	return VisionResult{
		Text:     "",
		Model:    o.ocrModelName,
		Provider: "host",
	}, nil
}

// Describe returns a VisionResult with empty Text, model "florence-2" and
// provider "host". No image-description model is run, and it never returns
// an error.
func (o *OnnxFallback) Describe(imageBytes []byte, format, detail string) (VisionResult, error) {
	return VisionResult{
		Text:     "",
		Model:    o.describeModel,
		Provider: "host",
	}, nil
}

func (o *OnnxFallback) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
}

// tokenizeToIDs maps each rune of text to its code point modulo 30000 (a
// single 0 id for empty text); no model-specific vocabulary is loaded (spec
// §1 excludes "model file distribution and GGUF/ONNX file layout").
func tokenizeToIDs(text string) []int64 {
	ids := make([]int64, 0, whitespaceTokenCount(text))
	for _, r := range text {
		ids = append(ids, int64(r)%30000)
	}
	if len(ids) == 0 {
		ids = append(ids, 0)
	}
	return ids
}
