package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAskParamsValidate(t *testing.T) {
	tests := []struct {
		name  string
		query string
		tag   string
	}{
		{"empty", "", "required"},
		{"ascii whitespace", " \t\r\n", "notblank"},
		{"unicode whitespace", "\u00a0\u2003\u3000", "notblank"},
		{"question", "  what is RAG?  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&AskParams{Query: tt.query})
			if tt.tag == "" {
				assert.Empty(t, errs)
				return
			}
			assert.Equal(t, map[string]string{"Query": "failed on '" + tt.tag + "' tag"}, errs)
		})
	}
}

func TestDownloadParamsValidate(t *testing.T) {
	assert.Contains(t, Validate(&DownloadParams{}), "Path")
	assert.Empty(t, Validate(&DownloadParams{Path: "/srv/a.pdf"}))
}
