package catalog

import "time"

// BlockType tags the structural role of a paragraph.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockQuote     BlockType = "quote"
	BlockVerse     BlockType = "verse"
	BlockNoise     BlockType = "noise"
)

// Document is the truth store's document row.
type Document struct {
	ID             string
	Title          string
	Author         string
	Religion       string
	Collection     string
	Language       string
	Year           *int
	Description    string
	Authority      int
	ParagraphCount int
	FileHash       string
	BodyHash       string
	SourcePath     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// Paragraph is the truth store's content row.
type Paragraph struct {
	ID             string
	DocumentID     string
	ParagraphIndex int
	Text           string
	ContentHash    string
	Heading        string
	BlockType      BlockType
	Embedding      []float32
	EmbeddingModel string
	Synced         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasEmbedding reports whether p carries a usable embedding, per the rule
// that an embedding is present iff embedding_model is non-empty.
func (p Paragraph) HasEmbedding() bool {
	return p.EmbeddingModel != ""
}
