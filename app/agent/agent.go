package agent

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"docchat/config"
	"docchat/model"
	"docchat/types"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"
)

const (
	GreetingAnswer = "Hello! How can I assist you today?"
	eli5Prefix     = "Explain like I'm 5: "

	stuffPrompt = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Helpful Answer:`
)

var greetings = map[string]bool{
	"hello":       true,
	"hi":          true,
	"how are you": true,
	"thanks":      true,
	"thank you":   true,
	"hey":         true,
}

// IsGreeting reports whether query is small talk that gets a canned reply
// when nothing is indexed.
func IsGreeting(query string) bool {
	return greetings[strings.ToLower(strings.TrimSpace(query))]
}

// PromptText is the text used for retrieval and generation.
func PromptText(query string, eli5 bool) string {
	if eli5 {
		return eli5Prefix + query
	}
	return query
}

// Generator completes a prompt with a language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type OllamaGenerator struct {
	llm         *ollama.LLM
	model       string
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOllamaGenerator(cfg config.LLMConfig, logger *zap.Logger) (*OllamaGenerator, error) {
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("init ollama llm: %w", err)
	}
	logger.Info("uses ollama for generation", zap.String("model", cfg.Model), zap.String("url", cfg.URL))
	return &OllamaGenerator{
		llm:         llm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt, llms.WithTemperature(g.temperature))
	if err != nil {
		return "", fmt.Errorf("generate with %s: %w", g.model, err)
	}
	g.logger.Debug("llm answered", zap.Duration("took", time.Since(start)))
	return out, nil
}

type Answer struct {
	Text string
	HTML string
	// Context holds the chunks that made it into the prompt.
	Context      []types.Chunk
	PromptTokens int
}

// Agent builds the prompt from retrieved chunks and asks the model.
type Agent struct {
	gen              Generator
	counter          model.TokenCounter
	maxContextTokens int
	md               goldmark.Markdown
	logger           *zap.Logger
}

func New(gen Generator, counter model.TokenCounter, maxContextTokens int, logger *zap.Logger) *Agent {
	if counter == nil {
		counter = model.EstimateCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		gen:              gen,
		counter:          counter,
		maxContextTokens: maxContextTokens,
		md:               goldmark.New(),
		logger:           logger,
	}
}

// Answer asks the model about promptText. With chunks the stuff prompt is
// used, without them the model answers from general knowledge.
func (a *Agent) Answer(ctx context.Context, promptText string, chunks []types.Chunk) (*Answer, error) {
	prompt := promptText
	var used []types.Chunk
	if len(chunks) > 0 {
		var contextText string
		contextText, used = a.BuildContext(chunks)
		prompt = fmt.Sprintf(stuffPrompt, contextText, promptText)
	}

	tokens := a.counter.Count(prompt)
	a.logger.Debug("prompt built", zap.Int("tokens", tokens), zap.Int("chunks", len(used)))

	out, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(out)
	return &Answer{
		Text:         text,
		HTML:         a.RenderHTML(text),
		Context:      used,
		PromptTokens: tokens,
	}, nil
}

// BuildContext joins chunks in rank order until the token budget would be
// exceeded. The first chunk is always kept.
func (a *Agent) BuildContext(chunks []types.Chunk) (string, []types.Chunk) {
	var (
		parts []string
		used  []types.Chunk
		total int
	)
	for i, c := range chunks {
		n := c.TokenCount
		if n == 0 {
			n = a.counter.Count(c.Content)
		}
		if i > 0 && a.maxContextTokens > 0 && total+n > a.maxContextTokens {
			a.logger.Debug("context token limit reached",
				zap.Int("limit", a.maxContextTokens),
				zap.Int("used_chunks", i))
			break
		}
		total += n
		parts = append(parts, c.Content)
		used = append(used, c)
	}
	return strings.Join(parts, "\n\n"), used
}

// RenderHTML renders the answer as Markdown, falling back to the plain text.
func (a *Agent) RenderHTML(answer string) string {
	if answer == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := a.md.Convert([]byte(answer), &buf); err != nil {
		a.logger.Warn("render answer markdown", zap.Error(err))
		return answer
	}
	return buf.String()
}
