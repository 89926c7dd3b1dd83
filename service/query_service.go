package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
)

const answerSystemPrompt = `You are a document assistant. Answer the question using only the numbered context passages below. Cite passages as [n]. If the context does not contain the answer, say so plainly instead of guessing.`

// overfetchFactor widens the index search so that hits whose chunk row
// has gone missing can be dropped without starving the result set.
const overfetchFactor = 4

// QueryService answers questions over the caller's documents. Retrieval
// is scoped to authorized documents before scoring; generation failures
// degrade the answer but never fail the request.
type QueryService interface {
	Ask(ctx context.Context, user *types.User, req types.AskRequest) (*types.Answer, error)
	AskStream(ctx context.Context, user *types.User, req types.AskRequest, onSources func([]types.Source), handler types.StreamHandler) (*types.Answer, error)
	Search(ctx context.Context, user *types.User, req types.SearchRequest) ([]types.Source, error)
	History(ctx context.Context, user *types.User, limit int64) ([]types.QueryRecord, error)
}

type QueryServiceConfig struct {
	TopKDefault     int
	MaxContextChars int
}

type queryService struct {
	documentStore database.DocumentStore
	chunkStore    database.ChunkStore
	queryStore    database.QueryStore
	index         database.VectorIndex
	embedding     EmbeddingService
	mediaService  MediaService
	ai            AIService
	authorizer    Authorizer
	cfg           QueryServiceConfig
}

func NewQueryService(
	documentStore database.DocumentStore,
	chunkStore database.ChunkStore,
	queryStore database.QueryStore,
	index database.VectorIndex,
	embedding EmbeddingService,
	mediaService MediaService,
	ai AIService,
	authorizer Authorizer,
	cfg QueryServiceConfig,
) QueryService {
	if cfg.TopKDefault <= 0 {
		cfg.TopKDefault = 3
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 8000
	}
	return &queryService{
		documentStore: documentStore,
		chunkStore:    chunkStore,
		queryStore:    queryStore,
		index:         index,
		embedding:     embedding,
		mediaService:  mediaService,
		ai:            ai,
		authorizer:    authorizer,
		cfg:           cfg,
	}
}

// retrieve runs the authorized similarity search and materializes the
// surviving hits as sources with their chunk rows and document titles.
func (s *queryService) retrieve(ctx context.Context, user *types.User, question string, topK int) ([]types.Source, []types.Chunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, nil, fmt.Errorf("question must not be empty")
	}
	if topK <= 0 {
		topK = s.cfg.TopKDefault
	}
	allowed, err := s.authorizer.AllowedDocuments(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	if len(allowed) == 0 {
		return nil, nil, nil
	}

	qvec, err := s.embedding.EmbedQuery(ctx, question)
	if err != nil {
		return nil, nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := s.index.Search(qvec, topK*overfetchFactor, allowed)
	if err != nil {
		return nil, nil, fmt.Errorf("search index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	rows, err := s.chunkStore.GetChunks(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]types.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	titles := make(map[string]string)
	var sources []types.Source
	var chunks []types.Chunk
	for _, hit := range hits {
		chunk, ok := byID[hit.ChunkID]
		if !ok {
			// Row gone but vector still present; reconciliation will
			// remove the orphan eventually.
			log.Printf("search hit %s has no chunk row, skipping", hit.ChunkID)
			continue
		}
		title, ok := titles[hit.DocumentID]
		if !ok {
			if doc, err := s.documentStore.GetDocument(ctx, hit.DocumentID); err == nil {
				title = doc.Title
			}
			titles[hit.DocumentID] = title
		}
		sources = append(sources, types.Source{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Title:      title,
			PageStart:  chunk.PageStart,
			PageEnd:    chunk.PageEnd,
			Text:       chunk.Text,
			Score:      hit.Score,
		})
		chunks = append(chunks, chunk)
		if len(sources) == topK {
			break
		}
	}
	return sources, chunks, nil
}

// buildContext assembles the prompt context from the ranked sources,
// trimming at chunk granularity once the character budget is spent. At
// least the best source is always included, truncated if it alone blows
// the budget.
func (s *queryService) buildContext(sources []types.Source) ([]types.Source, string) {
	var sb strings.Builder
	var used []types.Source
	for i, src := range sources {
		section := fmt.Sprintf("[%d] %s (pages %d-%d)\n%s\n\n", i+1, src.Title, src.PageStart, src.PageEnd, src.Text)
		if sb.Len()+len(section) > s.cfg.MaxContextChars {
			if len(used) > 0 {
				break
			}
			section = truncateRunes(section, s.cfg.MaxContextChars)
		}
		sb.WriteString(section)
		used = append(used, src)
	}
	return used, sb.String()
}

// truncateRunes cuts s to at most max bytes without splitting a
// multi-byte rune at the cut point.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (s *queryService) prompt(contextText string) string {
	return answerSystemPrompt + "\n\nContext:\n" + contextText
}

func (s *queryService) Ask(ctx context.Context, user *types.User, req types.AskRequest) (*types.Answer, error) {
	sources, chunks, err := s.retrieve(ctx, user, req.Question, req.TopK)
	if err != nil {
		return nil, err
	}
	answer := &types.Answer{
		Question:  req.Question,
		Sources:   []types.Source{},
		CreatedAt: time.Now().Unix(),
	}
	if len(sources) == 0 {
		answer.Answer = "No relevant content was found in your documents."
		s.recordQuery(ctx, user, req.Question, nil)
		return answer, nil
	}

	used, contextText := s.buildContext(sources)
	answer.Sources = used
	if req.IncludeMedia {
		answer.Media = s.mediaRefs(ctx, chunks[:len(used)])
	}

	text, err := s.ai.Chat(WithUser(ctx, user), s.prompt(contextText), []types.Message{{Role: "user", Content: req.Question}})
	if err != nil {
		log.Printf("generation failed, returning sources only: %v", err)
		answer.Unavailable = true
		answer.Reason = "answer generation is temporarily unavailable"
	} else {
		answer.Answer = text
	}
	s.recordQuery(ctx, user, req.Question, used)
	return answer, nil
}

// AskStream behaves like Ask but delivers the generated answer
// incrementally. Sources are announced before generation starts so the
// client can render evidence while tokens arrive.
func (s *queryService) AskStream(ctx context.Context, user *types.User, req types.AskRequest, onSources func([]types.Source), handler types.StreamHandler) (*types.Answer, error) {
	sources, chunks, err := s.retrieve(ctx, user, req.Question, req.TopK)
	if err != nil {
		return nil, err
	}
	answer := &types.Answer{
		Question:  req.Question,
		Sources:   []types.Source{},
		CreatedAt: time.Now().Unix(),
	}
	if len(sources) == 0 {
		answer.Answer = "No relevant content was found in your documents."
		if onSources != nil {
			onSources(nil)
		}
		if err := handler(ctx, answer.Answer); err != nil {
			return nil, err
		}
		s.recordQuery(ctx, user, req.Question, nil)
		return answer, nil
	}

	used, contextText := s.buildContext(sources)
	answer.Sources = used
	if req.IncludeMedia {
		answer.Media = s.mediaRefs(ctx, chunks[:len(used)])
	}
	if onSources != nil {
		onSources(used)
	}

	var full strings.Builder
	streamErr := s.ai.ChatStream(WithUser(ctx, user), s.prompt(contextText), []types.Message{{Role: "user", Content: req.Question}},
		func(ctx context.Context, delta string) error {
			full.WriteString(delta)
			return handler(ctx, delta)
		})
	if streamErr != nil {
		log.Printf("streamed generation failed, returning sources only: %v", streamErr)
		answer.Unavailable = true
		answer.Reason = "answer generation is temporarily unavailable"
	}
	answer.Answer = full.String()
	s.recordQuery(ctx, user, req.Question, used)
	return answer, nil
}

func (s *queryService) Search(ctx context.Context, user *types.User, req types.SearchRequest) ([]types.Source, error) {
	sources, _, err := s.retrieve(ctx, user, req.Query, req.TopK)
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func (s *queryService) History(ctx context.Context, user *types.User, limit int64) ([]types.QueryRecord, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user", types.ErrAuthorizationDenied)
	}
	return s.queryStore.ListQueryRecordsByUser(ctx, user.ID, limit)
}

func (s *queryService) mediaRefs(ctx context.Context, chunks []types.Chunk) []types.MediaRef {
	byDoc := make(map[string][]types.Chunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	var refs []types.MediaRef
	for docID, docChunks := range byDoc {
		items, err := s.mediaService.MediaForChunks(ctx, docID, docChunks)
		if err != nil {
			log.Printf("media for document %s: %v", docID, err)
			continue
		}
		for _, item := range items {
			refs = append(refs, types.MediaRef{
				ID:         item.ID,
				DocumentID: item.DocumentID,
				Kind:       item.Kind,
				Page:       item.Page,
				Caption:    item.Caption,
				CSV:        item.CSV,
				HTML:       item.HTML,
			})
		}
	}
	return refs
}

// recordQuery appends to the audit trail. Failures are logged only; the
// answer is already assembled and must not be dropped over bookkeeping.
func (s *queryService) recordQuery(ctx context.Context, user *types.User, question string, sources []types.Source) {
	if user == nil {
		return
	}
	chunkIDs := make([]string, len(sources))
	for i, src := range sources {
		chunkIDs[i] = src.ChunkID
	}
	rec := &types.QueryRecord{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Question:  question,
		ChunkIDs:  chunkIDs,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.queryStore.AppendQueryRecord(ctx, rec); err != nil {
		log.Printf("append query record for user %s: %v", user.ID, err)
	}
}
