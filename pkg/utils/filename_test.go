package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "handbook.pdf", "handbook.pdf"},
		{"utf8 kept", "学生手册.pdf", "学生手册.pdf"},
		{"latin1 bytes", "caf\xe9.pdf", "café.pdf"},
		{"strips directories", "../../etc/passwd.pdf", "passwd.pdf"},
		{"windows path", `C:\docs\guide.pdf`, "guide.pdf"},
		{"nfc", "cafe\u0301.pdf", "café.pdf"},
		{"mojibake repaired", mojibake, "学生手册.pdf"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFileName(tt.in))
		})
	}
}

const mojibake = "\u00e5\u00ad\u00a6\u00e7\u0094\u009f\u00e6\u0089\u008b\u00e5\u0086\u008c.pdf"

func TestRecoverUTF8(t *testing.T) {
	assert.Equal(t, "学生手册.pdf", RecoverUTF8(mojibake))
	assert.Equal(t, "plain.pdf", RecoverUTF8("plain.pdf"))
	assert.Equal(t, "学生手册.pdf", RecoverUTF8("学生手册.pdf"))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("a"), HashString("a"))
	assert.NotEqual(t, HashString("a"), HashString("b"))
	assert.Len(t, HashString("x"), 64)
}
