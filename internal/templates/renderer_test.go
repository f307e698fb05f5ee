package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererStripsSprigEnvAndFileHelpers(t *testing.T) {
	renderer := NewRenderer()

	for _, name := range restricted {
		t.Run("removes "+name, func(t *testing.T) {
			_, ok := renderer.funcs[name]
			require.Falsef(t, ok, "expected sprig helper %q to be removed", name)
		})
	}

	t.Run("rejects removed helper", func(t *testing.T) {
		_, err := renderer.CompileInline("inline", "{{ readFile \"/etc/passwd\" }}")
		require.Error(t, err)
	})

	t.Run("rejects env helper", func(t *testing.T) {
		_, err := renderer.CompileInline("inline", "{{ env \"HOME\" }}")
		require.Error(t, err)
	})
}

func TestRendererRendersLabels(t *testing.T) {
	renderer := NewRenderer()

	tests := []struct {
		name     string
		template string
		data     map[string]any
		want     string
	}{
		{
			name:     "sprig helpers available",
			template: `{{ .city | trim | title }}`,
			data:     map[string]any{"city": "  анапа "},
			want:     "Анапа",
		},
		{
			name:     "missing keys fall back to default",
			template: `[{{ .street | default "-" }}]`,
			data:     map[string]any{},
			want:     "[-]",
		},
		{
			name:     "joinNonEmpty skips blanks",
			template: `{{ joinNonEmpty ", " .city .area .street }}`,
			data:     map[string]any{"city": "Сочи", "area": "", "street": "Искры"},
			want:     "Сочи, Искры",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := renderer.CompileInline("label", tc.template)
			require.NoError(t, err)
			rendered, err := tmpl.Render(tc.data)
			require.NoError(t, err)
			require.Equal(t, tc.want, rendered)
		})
	}
}

func TestRendererBlankAndNames(t *testing.T) {
	renderer := NewRenderer()

	tmpl, err := renderer.CompileInline("label", "   ")
	require.NoError(t, err)
	require.Nil(t, tmpl)
	require.Empty(t, tmpl.Name())

	_, err = tmpl.Render(nil)
	require.Error(t, err)

	named, err := renderer.CompileInline("", "static")
	require.NoError(t, err)
	require.Equal(t, "inline", named.Name())
}
