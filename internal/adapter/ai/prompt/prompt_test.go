package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	s, err := Load("", "NO_INFO_FOUND")
	require.NoError(t, err)

	b, err := s.Build(domain.GenerationRequest{Question: "Giờ mở cửa?", Context: "Mở cửa 8h sáng", Strategy: domain.StrategyPrimary})
	require.NoError(t, err)
	assert.Contains(t, b.Text, "Giờ mở cửa?")
	assert.Contains(t, b.Text, "Mở cửa 8h sáng")
	assert.Contains(t, b.Text, "NO_INFO_FOUND")
	assert.Equal(t, 0.0, b.Temperature)
	assert.Equal(t, 1, b.TopK)
	assert.Equal(t, 0.1, b.TopP)
	assert.Equal(t, 2048, b.MaxOutputTokens)

	p, err := s.Build(domain.GenerationRequest{Question: "q", Context: "c", Strategy: domain.StrategyParaphrase})
	require.NoError(t, err)
	assert.NotEqual(t, b.Text, p.Text)
	assert.Greater(t, p.Temperature, 0.0)
}

func TestBuild_ContextIsNotTemplated(t *testing.T) {
	s, err := Load("", "X")
	require.NoError(t, err)
	b, err := s.Build(domain.GenerationRequest{Question: "q", Context: "{{.Sentinel}} literal", Strategy: domain.StrategyPrimary})
	require.NoError(t, err)
	assert.Contains(t, b.Text, "{{.Sentinel}} literal")
}

func TestBuild_UnknownStrategy(t *testing.T) {
	s, err := Load("", "X")
	require.NoError(t, err)
	_, err = s.Build(domain.GenerationRequest{Strategy: "other"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	doc := "primary:\n  instruction: \"P {{.Question}}\"\n  max_output_tokens: 10\nparaphrase:\n  instruction: \"R {{.Question}}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := Load(path, "S")
	require.NoError(t, err)
	b, err := s.Build(domain.GenerationRequest{Question: "hi", Strategy: domain.StrategyParaphrase})
	require.NoError(t, err)
	assert.Equal(t, "R hi", b.Text)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("primary: ["), "S")
	require.Error(t, err)

	_, err = Parse([]byte("primary:\n  instruction: \"x\"\n"), "S")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = Parse([]byte("primary:\n  instruction: \"{{.Bad\"\nparaphrase:\n  instruction: \"x\"\n"), "S")
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), "S")
	require.Error(t, err)
}
