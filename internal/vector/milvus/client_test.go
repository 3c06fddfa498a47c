package milvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocIDExpr(t *testing.T) {
	tests := []struct {
		name  string
		docID string
		want  string
	}{
		{"uuid", "0b7c9f8e-3c51-4a57-9a55-1a8f4c1e2d3b", `doc_id == "0b7c9f8e-3c51-4a57-9a55-1a8f4c1e2d3b"`},
		{"quote escaped", `a"b`, `doc_id == "a\"b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, docIDExpr(tt.docID))
		})
	}
}

func TestVectorIDsExpr(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{"single", []string{"vec_d1_0"}, `vector_id in ["vec_d1_0"]`},
		{"several", []string{"vec_d1_0", "vec_d1_1", "vec_d1_2"}, `vector_id in ["vec_d1_0", "vec_d1_1", "vec_d1_2"]`},
		{"quote escaped", []string{`x"y`}, `vector_id in ["x\"y"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vectorIDsExpr(tt.ids))
		})
	}
}
