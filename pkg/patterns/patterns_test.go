package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLibrary(t *testing.T) {
	library, err := Default()
	require.NoError(t, err)

	en := library.Language("en")
	require.NotNil(t, en)
	assert.NotEmpty(t, en.Ordinals)
	assert.NotEmpty(t, en.Temporal)
	assert.NotEmpty(t, en.Conjunctions)
	assert.NotEmpty(t, en.IntentKeywords)

	// Every embedded language must carry valid anchors and indexes; parse
	// enforces this, so loading is enough.
	assert.Contains(t, library.Languages(), "en")
	assert.Contains(t, library.Languages(), "es")
}

func TestLanguageFallback(t *testing.T) {
	library, err := Default()
	require.NoError(t, err)

	assert.Same(t, library.Language("en"), library.Language("zz"))
	assert.Same(t, library.Language("en"), library.Language(""))
	assert.Same(t, library.Language("es"), library.Language("ES"))
}

func TestParseRejectsBadTables(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown temporal anchor",
			yaml: `
languages:
  en:
    temporal:
      - pattern: "latest"
        anchor: sideways
`,
		},
		{
			name: "ordinal index below one",
			yaml: `
languages:
  en:
    ordinals:
      - pattern: "zeroth"
        index: 0
`,
		},
		{
			name: "no languages",
			yaml: `languages: {}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
