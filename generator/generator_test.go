package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaugust4891/ad-image-generator/template"
)

func TestAdTemplateCyclesAndWraps(t *testing.T) {
	g, err := New(&template.AdTemplate{Brand: "A", Product: "B", Styles: []string{"X", "Y"}})
	require.NoError(t, err)

	want := []string{
		"An advertisement image for A B in style: X",
		"An advertisement image for A B in style: Y",
		"An advertisement image for A B in style: X",
	}
	for i, w := range want {
		got := g.Next()
		assert.Equal(t, w, got.Seed, "emission %d", i)
	}
}

func TestGeneralPromptRepeatsIndefinitely(t *testing.T) {
	g, err := New(&template.GeneralPrompt{Prompt: "a lighthouse"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.Equal(t, "a lighthouse", g.Next().Seed)
	}
}

func TestNewRejectsEmptyStyles(t *testing.T) {
	_, err := New(&template.AdTemplate{Brand: "A", Product: "B"})
	assert.Error(t, err)
}
