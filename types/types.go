package types

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ChunkStrategy string

const (
	ChunkRecursive ChunkStrategy = "recursive"
	ChunkWords     ChunkStrategy = "words"
)

type Chunk struct {
	ID         uuid.UUID
	DocID      uuid.UUID
	Source     string // file name of the source PDF
	Path       string // absolute path of the source PDF
	Page       int    // 1-based
	Index      int    // position inside the document
	Content    string
	TokenCount int
	Embedding  []float32
	Score      float64
}

type Document struct {
	ID        uuid.UUID
	Title     string
	FileName  string
	Path      string
	Pages     int
	Chunks    []Chunk
	CreatedAt time.Time
}

// Page is the text of a single PDF page together with the positioned
// glyphs it was built from.
type Page struct {
	Number int
	Text   string
	Glyphs []Glyph
	// Offsets maps every byte of Text to the glyph it came from, -1 for
	// separators inserted between glyphs.
	Offsets []int
}

// Glyph is a run of text placed on a page, in PDF user space units.
type Glyph struct {
	S        string
	X, Y     float64
	W        float64
	FontSize float64
}

type Rect struct {
	LLX, LLY, URX, URY float64
}

type HistoryEntry struct {
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	ELI5      bool      `json:"eli5"`
	CreatedAt time.Time `json:"created_at"`
}

type FAQItem struct {
	Question string `json:"q"`
	Answer   string `json:"a"`
}

// DefaultFAQ is shown by the /faq endpoint and the terminal client.
var DefaultFAQ = []FAQItem{
	{Question: "What is RAG?", Answer: "RAG (Retrieval-Augmented Generation) combines document retrieval with LLM generation for precise answers."},
	{Question: "How to upload PDFs?", Answer: "Use the upload command to select and process multiple PDFs for the AI to reference."},
	{Question: "How does Tiny LLaMA work?", Answer: "Tiny LLaMA is a smaller, efficient LLaMA model for fast on-device question answering."},
	{Question: "Can AI answer without PDFs?", Answer: "Yes, the model can attempt general answers even without uploaded PDFs."},
}

// TitleFromFile turns "annual_report-2024.pdf" into "annual report 2024".
func TitleFromFile(filePath string) string {
	fileName := filepath.Base(filePath)
	if strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		fileName = fileName[:len(fileName)-4]
	}
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return fileName
}
