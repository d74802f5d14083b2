package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := Default()

	tests := []struct {
		name string
		text string
		want Code
	}{
		{"english", "Organizations must retain the audit logs for five years.", English},
		{"indonesian", "Organisasi harus menyimpan log audit dan bukti untuk lima tahun.", Indonesian},
		{"no markers defaults to primary", "12345 xyz", Indonesian},
		{"empty defaults to primary", "", Indonesian},
		{"tie resolves to primary", "dan the", Indonesian},
		{"substring does not count", "theory sandbox", Indonesian},
		{"hyphenated marker", "undang-undang undang-undang regulation", Indonesian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.text))
		})
	}
}

func TestInstruction(t *testing.T) {
	assert.Equal(t, "Answer in English.", Instruction(English))
	assert.Equal(t, "Jawab dalam Bahasa Indonesia.", Instruction(Indonesian))
}
