package embedder

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

// writeSafetensors writes a single-tensor safetensors file.
func writeSafetensors(t *testing.T, name, dtype string, shape []int, values []float32) string {
	t.Helper()
	header := map[string]tensorMeta{
		name: {Dtype: dtype, Shape: shape, DataOffsets: [2]int{0, len(values) * 4}},
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8, 8+len(hdr)+len(values)*4)
	binary.LittleEndian.PutUint64(buf, uint64(len(hdr)))
	buf = append(buf, hdr...)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProjection(t *testing.T) {
	// 2x3 matrix: rows [1 0 0] and [0 1 1].
	path := writeSafetensors(t, denseTensor, "F32", []int{2, 3}, []float32{1, 0, 0, 0, 1, 1})

	proj, err := loadProjection(path, denseTensor)
	if err != nil {
		t.Fatalf("loadProjection: %v", err)
	}
	if proj.inDim != 3 || proj.outDim != 2 {
		t.Fatalf("dims = %dx%d, want 2x3", proj.outDim, proj.inDim)
	}

	out := proj.apply([]float32{2, 3, 4})
	if !closeEnough(out[0], 2) || !closeEnough(out[1], 7) {
		t.Errorf("apply = %v, want [2 7]", out)
	}
}

func TestLoadProjectionErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   func(t *testing.T) string
		tensor string
		want   string
	}{
		{
			name:   "missing file",
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			tensor: denseTensor,
			want:   "no such file",
		},
		{
			name: "wrong tensor",
			path: func(t *testing.T) string {
				return writeSafetensors(t, "other.weight", "F32", []int{1, 1}, []float32{1})
			},
			tensor: denseTensor,
			want:   "not found",
		},
		{
			name: "wrong dtype",
			path: func(t *testing.T) string {
				return writeSafetensors(t, denseTensor, "F16", []int{1, 1}, []float32{1})
			},
			tensor: denseTensor,
			want:   "dtype",
		},
		{
			name: "shape mismatch",
			path: func(t *testing.T) string {
				return writeSafetensors(t, denseTensor, "F32", []int{2, 2}, []float32{1, 2})
			},
			tensor: denseTensor,
			want:   "doesn't match",
		},
		{
			name: "truncated",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "short")
				os.WriteFile(p, []byte{1, 2, 3}, 0o644)
				return p
			},
			tensor: denseTensor,
			want:   "too small",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadProjection(tt.path(t), tt.tensor)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}
