package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/docqa-be/types"
)

// ChunkService turns the extracted pages of a document into overlapping
// fixed-size chunks ready for embedding.
type ChunkService interface {
	Split(documentID string, pages []types.PageRecord) ([]types.Chunk, error)
}

type chunkService struct {
	size    int
	overlap int
}

func NewChunkService(cfg types.DocumentServiceConfig) (ChunkService, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrConfiguration, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", types.ErrConfiguration, cfg.ChunkOverlap)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", types.ErrConfiguration, cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return &chunkService{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap}, nil
}

// pageSpan maps a half-open rune range of the concatenated text back to
// its source page.
type pageSpan struct {
	page  int
	start int
	end   int
}

// Split concatenates page texts with a newline separator, then slides a
// window of size runes advancing by size-overlap. Offsets are rune
// offsets into the concatenated text. Every chunk carries the page range
// its window covers, so retrieval can cite pages without re-reading the
// source file.
func (s *chunkService) Split(documentID string, pages []types.PageRecord) ([]types.Chunk, error) {
	var sb strings.Builder
	var spans []pageSpan
	offset := 0
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n")
			offset++
		}
		n := len([]rune(p.Text.Text))
		spans = append(spans, pageSpan{page: p.PageNum, start: offset, end: offset + n})
		sb.WriteString(p.Text.Text)
		offset += n
	}
	text := []rune(sb.String())
	if len(text) == 0 {
		return nil, nil
	}

	var chunks []types.Chunk
	now := time.Now().Unix()
	start := 0
	for ordinal := 0; ; ordinal++ {
		end := start + s.size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, types.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			Ordinal:     ordinal,
			PageStart:   pageForOffset(spans, start),
			PageEnd:     pageForOffset(spans, end-1),
			StartOffset: start,
			EndOffset:   end,
			Text:        string(text[start:end]),
			CreatedAt:   now,
		})
		if end == len(text) {
			break
		}
		start += s.size - s.overlap
	}
	return chunks, nil
}

// pageForOffset resolves a rune offset to its page. Offsets landing on a
// separator between pages belong to the following page.
func pageForOffset(spans []pageSpan, offset int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].end > offset })
	if i >= len(spans) {
		i = len(spans) - 1
	}
	return spans[i].page
}
