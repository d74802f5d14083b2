package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptAnalyzer(t *testing.T) {
	a := NewPromptAnalyzer(nil)

	tests := []struct {
		name     string
		text     string
		override string
		domain   string
		hits     []string
	}{
		{
			name:   "legal",
			text:   "Apa sanksi pidana menurut undang-undang dan peraturan ini?",
			domain: "Legal",
			hits:   []string{"undang-undang", "peraturan", "pidana"},
		},
		{
			name:   "education beats public policy on count",
			text:   "Kebijakan bantuan pendidikan untuk siswa sekolah",
			domain: "Education Policy",
			hits:   []string{"sekolah", "pendidikan", "bantuan pendidikan", "siswa", "kebijakan"},
		},
		{
			name:   "no keywords",
			text:   "How long must audit logs be kept?",
			domain: DefaultDomain,
			hits:   []string{},
		},
		{
			name:     "override wins",
			text:     "peraturan pidana",
			override: "  Compliance ",
			domain:   "Compliance",
			hits:     []string{"peraturan", "pidana"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.text, tt.override)
			assert.Equal(t, tt.domain, got.DetectedDomain)
			assert.Equal(t, tt.hits, got.KeywordHits)
		})
	}
}
