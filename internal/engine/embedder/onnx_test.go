package embedder

import (
	"context"
	"os"
	"testing"
)

const (
	testModelPath     = "../../../models/model.onnx"
	testTokenizerPath = "../../../models/tokenizer.json"
)

func skipIfNoModel(t *testing.T) {
	t.Helper()
	for _, p := range []string{testModelPath, testTokenizerPath} {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			t.Skip("model files not found; run 'make download-model' first")
		}
	}
}

func TestONNXEmbedEndToEnd(t *testing.T) {
	skipIfNoModel(t)

	emb, err := NewONNX(ONNXConfig{ModelPath: testModelPath, TokenizerPath: testTokenizerPath})
	if err != nil {
		t.Fatalf("NewONNX: %v", err)
	}
	defer emb.Close()

	ctx := context.Background()
	vecs, err := emb.EmbedBatch(ctx, []string{"red leather jacket", "floral summer dress", ""})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != emb.Dim() {
			t.Errorf("vector %d: dim %d, want %d", i, len(v), emb.Dim())
		}
	}
	if Cosine(vecs[0], vecs[1]) > 0.999 {
		t.Error("distinct texts produced identical embeddings")
	}

	single, err := emb.Embed(ctx, "red leather jacket")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if c := Cosine(single, vecs[0]); c < 0.999 {
		t.Errorf("single vs batched cosine = %v, want ~1", c)
	}
}

func TestONNXEmbedBatchEmpty(t *testing.T) {
	skipIfNoModel(t)

	emb, err := NewONNX(ONNXConfig{ModelPath: testModelPath, TokenizerPath: testTokenizerPath})
	if err != nil {
		t.Fatalf("NewONNX: %v", err)
	}
	defer emb.Close()

	vecs, err := emb.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty batch, got %v", vecs)
	}
}
