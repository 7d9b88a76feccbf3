package embedder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv is the process-wide ONNX Runtime environment. The runtime can only
// be initialized once, so a failed init is sticky.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// onnxSession wraps a DynamicAdvancedSession for BERT-style sentence
// encoders that emit per-token hidden states.
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	hasTypeIDs bool
	embedDim   int64
}

func newONNXSession(modelPath, libPath string, threads int) (*onnxSession, error) {
	// Checked before the runtime is initialized, since a failed init cannot
	// be retried.
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: read model info: %w", err)
	}

	inputNames, hasTypeIDs, err := validateInputs(inputs)
	if err != nil {
		return nil, err
	}

	out, err := pickOutput(outputs)
	if err != nil {
		return nil, err
	}
	if out.Dimensions[2] <= 0 {
		return nil, fmt.Errorf("onnx: output %q has dynamic hidden size %v", out.Name, out.Dimensions)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: create session options: %w", err)
	}
	defer opts.Destroy()
	if threads <= 0 {
		threads = 4
	}
	opts.SetIntraOpNumThreads(threads)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &onnxSession{
		session:    session,
		inputNames: inputNames,
		hasTypeIDs: hasTypeIDs,
		embedDim:   out.Dimensions[2],
	}, nil
}

// validateInputs requires input_ids and attention_mask. token_type_ids is
// optional since distilled encoders often drop it.
func validateInputs(inputs []ort.InputOutputInfo) ([]string, bool, error) {
	nameSet := make(map[string]bool, len(inputs))
	for _, inp := range inputs {
		nameSet[inp.Name] = true
	}
	names := []string{"input_ids", "attention_mask"}
	for _, name := range names {
		if !nameSet[name] {
			return nil, false, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	if nameSet["token_type_ids"] {
		return append(names, "token_type_ids"), true, nil
	}
	return names, false, nil
}

// pickOutput prefers last_hidden_state and falls back to the first 3D output.
func pickOutput(outputs []ort.InputOutputInfo) (ort.InputOutputInfo, error) {
	var fallback *ort.InputOutputInfo
	for i := range outputs {
		o := outputs[i]
		if len(o.Dimensions) != 3 {
			continue
		}
		if o.Name == "last_hidden_state" {
			return o, nil
		}
		if fallback == nil {
			fallback = &outputs[i]
		}
	}
	if fallback == nil {
		return ort.InputOutputInfo{}, fmt.Errorf("onnx: model has no [batch, seq, dim] output")
	}
	return *fallback, nil
}

// infer runs one forward pass over a padded batch and returns the flat
// [batch * seq * dim] hidden states.
func (s *onnxSession) infer(b *tokenBatch) ([]float32, error) {
	shape := ort.NewShape(b.batchSize, b.seqLen)

	tIDs, err := ort.NewTensor(shape, b.inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer tIDs.Destroy()

	tMask, err := ort.NewTensor(shape, b.attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer tMask.Destroy()

	in := []ort.Value{tIDs, tMask}
	if s.hasTypeIDs {
		tTypes, err := ort.NewTensor(shape, b.tokenTypeIDs)
		if err != nil {
			return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
		}
		defer tTypes.Destroy()
		in = append(in, tTypes)
	}

	tOut, err := ort.NewEmptyTensor[float32](ort.NewShape(b.batchSize, b.seqLen, s.embedDim))
	if err != nil {
		return nil, fmt.Errorf("onnx: output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.session.Run(in, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	src := tOut.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

func (s *onnxSession) close() error {
	return s.session.Destroy()
}
