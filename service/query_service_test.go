package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
)

type fakeQueryStore struct {
	records []types.QueryRecord
}

func (f *fakeQueryStore) AppendQueryRecord(_ context.Context, rec *types.QueryRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeQueryStore) ListQueryRecordsByUser(_ context.Context, userID string, limit int64) ([]types.QueryRecord, error) {
	var out []types.QueryRecord
	for _, rec := range f.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAI struct {
	reply  string
	deltas []string
	err    error
	calls  int
}

func (f *fakeAI) Chat(_ context.Context, _ string, _ []types.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeAI) ChatStream(ctx context.Context, _ string, _ []types.Message, handler types.StreamHandler) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, delta := range f.deltas {
		if err := handler(ctx, delta); err != nil {
			return err
		}
	}
	return nil
}

type queryFixture struct {
	svc      QueryService
	docs     *fakeDocumentStore
	chunks   *fakeChunkStore
	queries  *fakeQueryStore
	index    *database.FlatIndex
	embedder *fakeEmbedder
	ai       *fakeAI
}

func newQueryFixture(t *testing.T, ai *fakeAI) *queryFixture {
	t.Helper()
	embedder := &fakeEmbedder{dimension: 8}
	index, err := database.NewFlatIndex(embedder.dimension)
	require.NoError(t, err)

	docs := newFakeDocumentStore()
	chunks := newFakeChunkStore()
	queries := &fakeQueryStore{}
	media := &fakeMediaStore{}

	svc := NewQueryService(
		docs,
		chunks,
		queries,
		index,
		embedder,
		NewMediaService(media, 0, nil),
		ai,
		NewOwnerAuthorizer(docs),
		QueryServiceConfig{TopKDefault: 3, MaxContextChars: 8000},
	)
	return &queryFixture{
		svc:      svc,
		docs:     docs,
		chunks:   chunks,
		queries:  queries,
		index:    index,
		embedder: embedder,
		ai:       ai,
	}
}

// seedDocument indexes chunks whose embedding matches any question
// starting with the same letter as the chunk text.
func (fx *queryFixture) seedDocument(t *testing.T, docID, ownerID string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.docs.CreateDocument(ctx, &types.Document{
		ID:      docID,
		OwnerID: ownerID,
		Title:   "Title of " + docID,
		Status:  types.DOCUMENT_STATUS_INDEXED,
	}))
	for i, text := range texts {
		chunkID := fmt.Sprintf("%s-chunk-%d", docID, i)
		require.NoError(t, fx.chunks.CreateChunks(ctx, []types.Chunk{{
			ID:         chunkID,
			DocumentID: docID,
			Ordinal:    i,
			PageStart:  i + 1,
			PageEnd:    i + 1,
			Text:       text,
		}}))
		vec, err := fx.embedder.EmbedQuery(ctx, text)
		require.NoError(t, err)
		require.NoError(t, fx.index.Add(chunkID, docID, vec))
	}
}

func TestQueryServiceAskReturnsAnswerWithSources(t *testing.T) {
	ai := &fakeAI{reply: "The answer is in [1]."}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-1", "user-1", "alpha facts", "beta facts")

	answer, err := fx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "alpha?"})
	require.NoError(t, err)
	assert.False(t, answer.Unavailable)
	assert.Equal(t, "The answer is in [1].", answer.Answer)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "doc-1-chunk-0", answer.Sources[0].ChunkID)
	assert.Equal(t, "Title of doc-1", answer.Sources[0].Title)
	assert.Equal(t, 1, ai.calls)
}

func TestQueryServiceAuthorizationScopesRetrieval(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-owned", "user-1", "alpha owned")
	fx.seedDocument(t, "doc-foreign", "someone-else", "alpha foreign")

	answer, err := fx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "alpha?", TopK: 10})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-owned", answer.Sources[0].DocumentID)
}

func TestQueryServiceNoDocumentsNoGenerationCall(t *testing.T) {
	ai := &fakeAI{reply: "should not be called"}
	fx := newQueryFixture(t, ai)

	answer, err := fx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "anything?"})
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	assert.False(t, answer.Unavailable)
	assert.Contains(t, answer.Answer, "No relevant content")
	assert.Zero(t, ai.calls, "generation must not run without evidence")
}

func TestQueryServiceGenerationFailureDegrades(t *testing.T) {
	ai := &fakeAI{err: fmt.Errorf("%w: backend down", types.ErrGenerationUnavailable)}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-1", "user-1", "alpha facts")

	answer, err := fx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "alpha?"})
	require.NoError(t, err, "generation failure must not fail the request")
	assert.True(t, answer.Unavailable)
	assert.NotEmpty(t, answer.Reason)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-1-chunk-0", answer.Sources[0].ChunkID)
}

func TestQueryServiceSkipsHitsWithoutChunkRows(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-1", "user-1", "alpha one", "alpha two")

	// Vector still in the index, row gone: simulates a partial delete.
	require.NoError(t, fx.chunks.DeleteChunksByDocument(context.Background(), "doc-1"))
	require.NoError(t, fx.chunks.CreateChunks(context.Background(), []types.Chunk{{
		ID:         "doc-1-chunk-1",
		DocumentID: "doc-1",
		Text:       "alpha two",
	}}))

	answer, err := fx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "alpha?", TopK: 2})
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-1-chunk-1", answer.Sources[0].ChunkID)
}

func TestQueryServiceContextBudgetTrimsSources(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	embedderFx := newQueryFixture(t, ai)
	embedderFx.svc = NewQueryService(
		embedderFx.docs,
		embedderFx.chunks,
		embedderFx.queries,
		embedderFx.index,
		embedderFx.embedder,
		NewMediaService(&fakeMediaStore{}, 0, nil),
		ai,
		NewOwnerAuthorizer(embedderFx.docs),
		QueryServiceConfig{TopKDefault: 3, MaxContextChars: 150},
	)
	long := "alpha " + strings.Repeat("repeated filler text ", 20)
	embedderFx.seedDocument(t, "doc-1", "user-1", long, "alpha short", "alpha other")

	answer, err := embedderFx.svc.Ask(context.Background(), testUser(), types.AskRequest{Question: "alpha?", TopK: 3})
	require.NoError(t, err)
	// The first source alone exceeds the budget, so it is kept truncated
	// and the rest are dropped.
	require.Len(t, answer.Sources, 1)
}

func TestTruncateRunesKeepsValidUTF8(t *testing.T) {
	s := strings.Repeat("ü", 40)

	// 41 bytes lands in the middle of the 21st two-byte rune.
	cut := truncateRunes(s, 41)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, 40, len(cut))

	assert.Equal(t, s, truncateRunes(s, len(s)))
	assert.Equal(t, "", truncateRunes(s, 1))
}

func TestQueryServiceRecordsHistory(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-1", "user-1", "alpha facts")
	user := testUser()

	_, err := fx.svc.Ask(context.Background(), user, types.AskRequest{Question: "alpha?"})
	require.NoError(t, err)

	records, err := fx.svc.History(context.Background(), user, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alpha?", records[0].Question)
	assert.Equal(t, []string{"doc-1-chunk-0"}, records[0].ChunkIDs)
}

func TestQueryServiceAskStream(t *testing.T) {
	ai := &fakeAI{deltas: []string{"The ", "answer."}}
	fx := newQueryFixture(t, ai)
	fx.seedDocument(t, "doc-1", "user-1", "alpha facts")

	var sourcesSeen []types.Source
	var streamed string
	answer, err := fx.svc.AskStream(context.Background(), testUser(), types.AskRequest{Question: "alpha?"},
		func(sources []types.Source) { sourcesSeen = sources },
		func(_ context.Context, delta string) error {
			streamed += delta
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "The answer.", streamed)
	assert.Equal(t, "The answer.", answer.Answer)
	require.Len(t, sourcesSeen, 1)
	assert.Equal(t, "doc-1-chunk-0", sourcesSeen[0].ChunkID)
}

func TestQueryServiceIncludeMedia(t *testing.T) {
	ai := &fakeAI{reply: "ok"}
	embedder := &fakeEmbedder{dimension: 8}
	index, err := database.NewFlatIndex(embedder.dimension)
	require.NoError(t, err)
	docs := newFakeDocumentStore()
	chunks := newFakeChunkStore()
	media := &fakeMediaStore{}
	mediaSvc := NewMediaService(media, 0, nil)
	svc := NewQueryService(docs, chunks, &fakeQueryStore{}, index, embedder, mediaSvc, ai,
		NewOwnerAuthorizer(docs), QueryServiceConfig{})
	ctx := context.Background()

	require.NoError(t, docs.CreateDocument(ctx, &types.Document{
		ID: "doc-1", OwnerID: "user-1", Title: "Doc", Status: types.DOCUMENT_STATUS_INDEXED,
	}))
	require.NoError(t, chunks.CreateChunks(ctx, []types.Chunk{{
		ID: "c1", DocumentID: "doc-1", PageStart: 2, PageEnd: 2, Text: "alpha facts",
	}}))
	vec, err := embedder.EmbedQuery(ctx, "alpha facts")
	require.NoError(t, err)
	require.NoError(t, index.Add("c1", "doc-1", vec))
	_, err = mediaSvc.SaveExtracted(ctx, "doc-1", []types.PageRecord{{
		PageNum: 2,
		Tables:  []types.TableBlock{{Page: 2, Rows: [][]string{{"a", "b"}}, CSV: "a,b\n"}},
	}})
	require.NoError(t, err)

	answer, err := svc.Ask(ctx, testUser(), types.AskRequest{Question: "alpha?", IncludeMedia: true})
	require.NoError(t, err)
	require.Len(t, answer.Media, 1)
	assert.Equal(t, types.MEDIA_KIND_TABLE, answer.Media[0].Kind)
	assert.Equal(t, 2, answer.Media[0].Page)
}
