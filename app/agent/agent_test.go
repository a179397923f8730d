package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docchat/model"
	"docchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	prompts []string
	answer  string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.answer, g.err
}

func TestIsGreeting(t *testing.T) {
	for _, q := range []string{"hello", "  Hi ", "Thank you", "HOW ARE YOU"} {
		assert.True(t, IsGreeting(q), q)
	}
	for _, q := range []string{"hello there", "what is RAG?", ""} {
		assert.False(t, IsGreeting(q), q)
	}
}

func TestPromptText(t *testing.T) {
	assert.Equal(t, "what is RAG?", PromptText("what is RAG?", false))
	assert.Equal(t, "Explain like I'm 5: what is RAG?", PromptText("what is RAG?", true))
}

func TestAnswerWithContext(t *testing.T) {
	gen := &fakeGenerator{answer: "  It is **retrieval** augmented generation.\n"}
	a := New(gen, model.EstimateCounter{}, 1000, nil)

	ans, err := a.Answer(context.Background(), "what is RAG?", []types.Chunk{
		{Content: "RAG combines retrieval"},
		{Content: "with generation"},
	})
	require.NoError(t, err)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "Use the following pieces of context"))
	assert.Contains(t, prompt, "RAG combines retrieval\n\nwith generation")
	assert.True(t, strings.HasSuffix(prompt, "Question: what is RAG?\nHelpful Answer:"))

	assert.Equal(t, "It is **retrieval** augmented generation.", ans.Text)
	assert.Contains(t, ans.HTML, "<strong>retrieval</strong>")
	assert.Len(t, ans.Context, 2)
	assert.Positive(t, ans.PromptTokens)
}

func TestAnswerWithoutContext(t *testing.T) {
	gen := &fakeGenerator{answer: "Paris"}
	a := New(gen, nil, 1000, nil)

	ans, err := a.Answer(context.Background(), "capital of France?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"capital of France?"}, gen.prompts)
	assert.Equal(t, "Paris", ans.Text)
	assert.Empty(t, ans.Context)
}

func TestAnswerGeneratorError(t *testing.T) {
	a := New(&fakeGenerator{err: errors.New("connection refused")}, nil, 1000, nil)
	_, err := a.Answer(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestBuildContextBudget(t *testing.T) {
	a := New(&fakeGenerator{}, model.EstimateCounter{}, 5, nil)

	text, used := a.BuildContext([]types.Chunk{
		{Content: "one two three", TokenCount: 3},
		{Content: "four five", TokenCount: 2},
		{Content: "six"},
	})
	assert.Equal(t, "one two three\n\nfour five", text)
	assert.Len(t, used, 2)

	text, used = a.BuildContext([]types.Chunk{{Content: "a very long first chunk", TokenCount: 50}})
	assert.Equal(t, "a very long first chunk", text, "the first chunk is always kept")
	assert.Len(t, used, 1)
}

func TestRenderHTML(t *testing.T) {
	a := New(&fakeGenerator{}, nil, 0, nil)
	assert.Empty(t, a.RenderHTML(""))
	assert.Equal(t, "<p>plain</p>\n", a.RenderHTML("plain"))
}
