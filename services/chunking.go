package services

import (
	"fmt"
	"regexp"
	"strings"
)

// ChunkingService splits labeled documents into bounded-size chunks with
// paragraph awareness, so a chunk never cuts mid-paragraph when it can help it.
type ChunkingService struct {
	maxChunkSize   int
	minChunkSize   int
	overlap        int
	paragraphRegex *regexp.Regexp
}

func NewChunkingService(maxChunkSize, minChunkSize, overlap int) *ChunkingService {
	return &ChunkingService{
		maxChunkSize:   maxChunkSize,
		minChunkSize:   minChunkSize,
		overlap:        overlap,
		paragraphRegex: regexp.MustCompile(`\n\n+`),
	}
}

// Chunk is one piece of a labeled document. ID is deterministic within a
// collection: "{file_path}-{chunk_index}".
type Chunk struct {
	ID    string
	Text  string
	Order int
}

// LabelDocument wraps a file's content in a source-labeled document, the
// form the retrieval chain expects.
func LabelDocument(filePath, content string) string {
	return fmt.Sprintf(
		"<document>\n<source>%s</source>\n<document_content>\n%s\n</document_content>\n</document>",
		filePath, content,
	)
}

// ChunkDocument splits one file's labeled document into chunks, assigning
// each the deterministic per-file id.
func (s *ChunkingService) ChunkDocument(filePath, content string) []Chunk {
	pieces := s.split(LabelDocument(filePath, content))

	chunks := make([]Chunk, 0, len(pieces))
	for i, text := range pieces {
		chunks = append(chunks, Chunk{
			ID:    fmt.Sprintf("%s-%d", filePath, i),
			Text:  text,
			Order: i,
		})
	}
	return chunks
}

// split breaks text at paragraph boundaries, packing paragraphs until the
// size bound is reached. Oversized paragraphs are cut hard at maxChunkSize.
func (s *ChunkingService) split(text string) []string {
	paragraphs := s.paragraphRegex.Split(text, -1)

	var pieces []string
	current := new(strings.Builder)

	flush := func() {
		if current.Len() > 0 {
			piece := current.String()
			pieces = append(pieces, piece)
			current = new(strings.Builder)
			if s.overlap > 0 && len(piece) > s.overlap {
				current.WriteString(piece[len(piece)-s.overlap:])
			}
		}
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if len(paragraph) == 0 {
			continue
		}

		if current.Len()+len(paragraph) > s.maxChunkSize && current.Len() >= s.minChunkSize {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)

		for current.Len() > s.maxChunkSize {
			full := current.String()
			pieces = append(pieces, full[:s.maxChunkSize])
			current = new(strings.Builder)
			current.WriteString(full[s.maxChunkSize:])
		}
	}
	flush()

	return pieces
}
