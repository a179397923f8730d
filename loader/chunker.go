package loader

import (
	"fmt"
	"strings"

	"docchat/model"
	"docchat/types"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunker splits the pages of a document into overlapping chunks. Pages are
// split independently so that every chunk keeps its page number.
type Chunker struct {
	strategy types.ChunkStrategy
	size     int
	overlap  int
	splitter textsplitter.RecursiveCharacter
	counter  model.TokenCounter
}

func NewChunker(strategy types.ChunkStrategy, size, overlap int, counter model.TokenCounter) *Chunker {
	if counter == nil {
		counter = model.EstimateCounter{}
	}
	return &Chunker{
		strategy: strategy,
		size:     size,
		overlap:  overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
		counter: counter,
	}
}

func (c *Chunker) Split(doc *types.Document, pages []types.Page) ([]types.Chunk, error) {
	var chunks []types.Chunk
	pos := 0
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		var parts []string
		switch c.strategy {
		case types.ChunkWords:
			parts = c.wordWindows(page.Text)
		default:
			var err error
			parts, err = c.splitter.SplitText(page.Text)
			if err != nil {
				return nil, fmt.Errorf("split page %d of %s: %w", page.Number, doc.FileName, err)
			}
		}

		for _, content := range parts {
			if strings.TrimSpace(content) == "" {
				continue
			}
			chunks = append(chunks, types.Chunk{
				ID:         uuid.New(),
				DocID:      doc.ID,
				Source:     doc.FileName,
				Path:       doc.Path,
				Page:       page.Number,
				Index:      pos,
				Content:    content,
				TokenCount: c.counter.Count(content),
			})
			pos++
		}
	}
	return chunks, nil
}

// wordWindows slides a window of size words over text, stepping by
// size-overlap words. The last window always ends at the last word.
func (c *Chunker) wordWindows(text string) []string {
	words := strings.Fields(text)
	step := c.size - c.overlap
	if step <= 0 {
		step = c.size
	}

	var out []string
	for i := 0; i < len(words); i += step {
		end := i + c.size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
