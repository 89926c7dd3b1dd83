package database

import (
	"context"

	"github.com/tieubaoca/docqa-be/types"
)

// DocumentStore defines the metadata store operations for documents.
// The relational engine behind it is a collaborator; the core only
// depends on these contracts.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]types.Document, error)
	ListDocuments(ctx context.Context) ([]types.Document, error)
	UpdateDocument(ctx context.Context, doc *types.Document) error
	UpdateDocumentStatus(ctx context.Context, id string, status string, reason string) error
	DeleteDocument(ctx context.Context, id string) error
}

// ChunkStore persists chunk rows. All chunk rows of a document are
// written as one batch and removed as one batch; the delete path and
// the reconciler keep them consistent with the vector index.
type ChunkStore interface {
	CreateChunks(ctx context.Context, chunks []types.Chunk) error
	GetChunks(ctx context.Context, ids []string) ([]types.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]types.Chunk, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error
}

type MediaStore interface {
	CreateMediaItems(ctx context.Context, items []types.MediaItem) error
	GetMediaItem(ctx context.Context, id string) (*types.MediaItem, error)
	ListMediaByPages(ctx context.Context, documentID string, pages []int) ([]types.MediaItem, error)
	DeleteMediaByDocument(ctx context.Context, documentID string) error
}

// QueryStore is append-only; records are never mutated.
type QueryStore interface {
	AppendQueryRecord(ctx context.Context, rec *types.QueryRecord) error
	ListQueryRecordsByUser(ctx context.Context, userID string, limit int64) ([]types.QueryRecord, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// VectorIndex is the similarity index over chunk embeddings. Every
// entry is a weak back-reference to a chunk row; the two stores are
// reconciled explicitly, never assumed consistent.
type VectorIndex interface {
	Dimension() int
	Count() int
	Add(chunkID, documentID string, vector []float32) error
	// Search returns up to limit hits ordered by descending similarity.
	// A nil allowed set searches everything; otherwise only entries of
	// the allowed document IDs are considered.
	Search(vector []float32, limit int, allowed map[string]struct{}) ([]types.IndexHit, error)
	DeleteDocument(documentID string) int
	DeleteChunks(chunkIDs []string) int
	ChunkIDs() []string
	Persist(path string) error
}
