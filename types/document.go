package types

const (
	DOCUMENT_STATUS_PENDING    = "pending"
	DOCUMENT_STATUS_PROCESSING = "processing"
	DOCUMENT_STATUS_INDEXED    = "indexed"
	DOCUMENT_STATUS_FAILED     = "failed"
)

const (
	MEDIA_KIND_IMAGE = "image"
	MEDIA_KIND_TABLE = "table"
)

// Document is an uploaded file and the root of the chunk/media lifecycle.
// Status is the only externally observable progress signal of the
// processing job.
type Document struct {
	ID         string `json:"id" bson:"_id,omitempty"`
	OwnerID    string `json:"owner_id" bson:"owner_id"`
	Title      string `json:"title" bson:"title"`
	Filename   string `json:"filename" bson:"filename"`
	Status     string `json:"status" bson:"status"`
	FailReason string `json:"fail_reason,omitempty" bson:"fail_reason,omitempty"`
	PageCount  int    `json:"page_count" bson:"page_count"`
	ChunkCount int    `json:"chunk_count" bson:"chunk_count"`
	UploadedAt int64  `json:"uploaded_at" bson:"uploaded_at"`
	IndexedAt  int64  `json:"indexed_at,omitempty" bson:"indexed_at,omitempty"`
}

// Chunk is the atomic unit of retrieval: a bounded span of document text.
// Chunks are immutable after creation and deleted only with their
// document. The embedding vector lives in the vector index, keyed by the
// chunk ID.
type Chunk struct {
	ID          string `json:"id" bson:"_id,omitempty"`
	DocumentID  string `json:"document_id" bson:"document_id"`
	Ordinal     int    `json:"ordinal" bson:"ordinal"`
	PageStart   int    `json:"page_start" bson:"page_start"`
	PageEnd     int    `json:"page_end" bson:"page_end"`
	StartOffset int    `json:"start_offset" bson:"start_offset"`
	EndOffset   int    `json:"end_offset" bson:"end_offset"`
	Text        string `json:"text" bson:"text"`
	CreatedAt   int64  `json:"created_at" bson:"created_at"`
}

// MediaItem is an image or table extracted from a source page. It is
// associated with chunks by page overlap, a lookup relation that can be
// recomputed at any time; it is not ownership.
type MediaItem struct {
	ID         string     `json:"id" bson:"_id,omitempty"`
	DocumentID string     `json:"document_id" bson:"document_id"`
	Kind       string     `json:"kind" bson:"kind"`
	Page       int        `json:"page" bson:"page"`
	Payload    []byte     `json:"-" bson:"payload,omitempty"`
	Format     string     `json:"format,omitempty" bson:"format,omitempty"`
	Caption    string     `json:"caption,omitempty" bson:"caption,omitempty"`
	Rows       [][]string `json:"rows,omitempty" bson:"rows,omitempty"`
	CSV        string     `json:"csv,omitempty" bson:"csv,omitempty"`
	HTML       string     `json:"html,omitempty" bson:"html,omitempty"`
	Bounds     *Bounds    `json:"bounds,omitempty" bson:"bounds,omitempty"`
	CreatedAt  int64      `json:"created_at" bson:"created_at"`
}

// Bounds is a position descriptor on the source page. Page-level
// association only needs the page number; finer spatial matching can use
// this when the extractor provides it.
type Bounds struct {
	X0 float64 `json:"x0" bson:"x0"`
	Y0 float64 `json:"y0" bson:"y0"`
	X1 float64 `json:"x1" bson:"x1"`
	Y1 float64 `json:"y1" bson:"y1"`
}

// QueryRecord is the append-only audit trail of questions asked.
type QueryRecord struct {
	ID        string   `json:"id" bson:"_id,omitempty"`
	UserID    string   `json:"user_id" bson:"user_id"`
	Question  string   `json:"question" bson:"question"`
	ChunkIDs  []string `json:"chunk_ids" bson:"chunk_ids"`
	CreatedAt int64    `json:"created_at" bson:"created_at"`
}

// IndexHit is one search result from the vector index: a chunk reference
// with its similarity score.
type IndexHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
}

// DocumentServiceConfig contains the chunking policy.
type DocumentServiceConfig struct {
	ChunkSize    int // Maximum size of each text chunk in characters
	ChunkOverlap int // Characters shared between consecutive chunks
}

type UploadRequest struct {
	Title string `json:"title"`
}
