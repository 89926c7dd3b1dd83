package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
)

// DocumentService owns the document lifecycle: upload, background
// indexing, deletion and the startup reconciliation between the chunk
// store and the vector index.
type DocumentService interface {
	Upload(ctx context.Context, user *types.User, title, originalName string, r io.Reader) (*types.Document, error)
	GetDocument(ctx context.Context, user *types.User, id string) (*types.Document, error)
	ListDocuments(ctx context.Context, user *types.User) ([]types.Document, error)
	DeleteDocument(ctx context.Context, user *types.User, id string) error
	Reconcile(ctx context.Context) (*ReconcileReport, error)
	// Wait blocks until all background processing jobs have finished.
	Wait()
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	OrphanVectorsRemoved int `json:"orphan_vectors_removed"`
	ChunksReembedded     int `json:"chunks_reembedded"`
	StaleJobsFailed      int `json:"stale_jobs_failed"`
}

type documentService struct {
	documentStore database.DocumentStore
	chunkStore    database.ChunkStore
	mediaService  MediaService
	pdfService    PDFService
	chunkService  ChunkService
	embedding     EmbeddingService
	index         database.VectorIndex
	authorizer    Authorizer

	uploadDir   string
	indexPath   string
	maxFileSize int64

	wg sync.WaitGroup
}

func NewDocumentService(
	documentStore database.DocumentStore,
	chunkStore database.ChunkStore,
	mediaService MediaService,
	pdfService PDFService,
	chunkService ChunkService,
	embedding EmbeddingService,
	index database.VectorIndex,
	authorizer Authorizer,
	uploadDir, indexPath string,
	maxFileSize int64,
) DocumentService {
	return &documentService{
		documentStore: documentStore,
		chunkStore:    chunkStore,
		mediaService:  mediaService,
		pdfService:    pdfService,
		chunkService:  chunkService,
		embedding:     embedding,
		index:         index,
		authorizer:    authorizer,
		uploadDir:     uploadDir,
		indexPath:     indexPath,
		maxFileSize:   maxFileSize,
	}
}

// Upload stores the file, records the document as pending and kicks off
// the indexing job. The response returns as soon as the row exists; the
// caller watches Status for progress.
func (s *documentService) Upload(ctx context.Context, user *types.User, title, originalName string, r io.Reader) (*types.Document, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user", types.ErrAuthorizationDenied)
	}
	if !strings.EqualFold(filepath.Ext(originalName), ".pdf") {
		return nil, fmt.Errorf("only pdf files are supported, got %s", originalName)
	}
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	docID := uuid.New().String()
	dest := filepath.Join(s.uploadDir, docID+".pdf")
	if err := s.saveFile(dest, r); err != nil {
		return nil, err
	}

	doc := &types.Document{
		ID:         docID,
		OwnerID:    user.ID,
		Title:      title,
		Filename:   filepath.Base(originalName),
		Status:     types.DOCUMENT_STATUS_PENDING,
		UploadedAt: time.Now().Unix(),
	}
	if err := s.documentStore.CreateDocument(ctx, doc); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.wg.Add(1)
	go s.processDocument(docID, dest)
	return doc, nil
}

func (s *documentService) saveFile(dest string, r io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	src := r
	if s.maxFileSize > 0 {
		src = io.LimitReader(r, s.maxFileSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("write upload file: %w", err)
	}
	if s.maxFileSize > 0 && n > s.maxFileSize {
		os.Remove(dest)
		return fmt.Errorf("file exceeds the %d byte upload limit", s.maxFileSize)
	}
	return nil
}

// processDocument runs the extraction pipeline for one document. It
// checks between stages whether the document row still exists; a delete
// while processing turns the job into a cleanup. A panic anywhere in the
// pipeline marks the document failed instead of taking the process down.
func (s *documentService) processDocument(docID, path string) {
	defer s.wg.Done()
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic while processing document %s: %v", docID, r)
			s.failDocument(ctx, docID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	wanted, err := s.stillWanted(ctx, docID)
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("document lookup failed: %v", err))
		return
	}
	if !wanted {
		s.cleanupArtifacts(ctx, docID, path)
		return
	}
	if err := s.documentStore.UpdateDocumentStatus(ctx, docID, types.DOCUMENT_STATUS_PROCESSING, ""); err != nil {
		log.Printf("document %s: mark processing: %v", docID, err)
		return
	}

	pages, pageErrs, err := s.pdfService.Extract(ctx, path)
	for _, perr := range pageErrs {
		log.Printf("document %s: %v", docID, perr)
	}
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("extraction failed: %v", err))
		return
	}

	wanted, err = s.stillWanted(ctx, docID)
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("document lookup failed: %v", err))
		return
	}
	if !wanted {
		s.cleanupArtifacts(ctx, docID, path)
		return
	}

	chunks, err := s.chunkService.Split(docID, pages)
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("chunking failed: %v", err))
		return
	}
	if len(chunks) == 0 {
		s.failDocument(ctx, docID, "document contains no extractable text")
		return
	}
	if err := s.chunkStore.CreateChunks(ctx, chunks); err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("store chunks: %v", err))
		return
	}
	if _, err := s.mediaService.SaveExtracted(ctx, docID, pages); err != nil {
		log.Printf("document %s: save media: %v", docID, err)
	}

	wanted, err = s.stillWanted(ctx, docID)
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("document lookup failed: %v", err))
		return
	}
	if !wanted {
		s.cleanupArtifacts(ctx, docID, path)
		return
	}

	if err := s.indexChunks(ctx, docID, chunks); err != nil {
		// Compensate: partial vectors and the chunk rows come out again
		// so a later retry starts from a clean slate.
		s.index.DeleteDocument(docID)
		if derr := s.chunkStore.DeleteChunksByDocument(ctx, docID); derr != nil {
			log.Printf("document %s: rollback chunks: %v", docID, derr)
		}
		s.failDocument(ctx, docID, err.Error())
		return
	}

	doc, err := s.documentStore.GetDocument(ctx, docID)
	if errors.Is(err, types.ErrDocumentNotFound) {
		s.cleanupArtifacts(ctx, docID, path)
		return
	}
	if err != nil {
		s.failDocument(ctx, docID, fmt.Sprintf("finalize document: %v", err))
		return
	}
	doc.Status = types.DOCUMENT_STATUS_INDEXED
	doc.FailReason = ""
	doc.PageCount = len(pages)
	doc.ChunkCount = len(chunks)
	doc.IndexedAt = time.Now().Unix()
	if err := s.documentStore.UpdateDocument(ctx, doc); err != nil {
		log.Printf("document %s: mark indexed: %v", docID, err)
		return
	}
	log.Printf("document %s indexed: %d pages, %d chunks", docID, len(pages), len(chunks))
}

func (s *documentService) indexChunks(ctx context.Context, docID string, chunks []types.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedding.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding failed: %v", err)
	}
	for i, vec := range vectors {
		if err := s.index.Add(chunks[i].ID, docID, vec); err != nil {
			return fmt.Errorf("index chunk %s: %v", chunks[i].ID, err)
		}
	}
	if err := s.index.Persist(s.indexPath); err != nil {
		return fmt.Errorf("persist index: %v", err)
	}
	return nil
}

// stillWanted reports whether the document row still exists. The delete
// endpoint removes the row first, so a missing row is the cancellation
// signal for in-flight jobs. Store errors are returned separately; a
// transient lookup failure must never be read as a delete, cleanup on
// that path would destroy a live document's chunks and vectors.
func (s *documentService) stillWanted(ctx context.Context, docID string) (bool, error) {
	_, err := s.documentStore.GetDocument(ctx, docID)
	if errors.Is(err, types.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *documentService) failDocument(ctx context.Context, docID, reason string) {
	err := s.documentStore.UpdateDocumentStatus(ctx, docID, types.DOCUMENT_STATUS_FAILED, reason)
	if err != nil && !errors.Is(err, types.ErrDocumentNotFound) {
		log.Printf("document %s: mark failed: %v", docID, err)
	}
}

// cleanupArtifacts removes everything a cancelled job may have written.
func (s *documentService) cleanupArtifacts(ctx context.Context, docID, path string) {
	log.Printf("document %s deleted while processing, cleaning up", docID)
	s.index.DeleteDocument(docID)
	if err := s.index.Persist(s.indexPath); err != nil {
		log.Printf("document %s: persist index after cleanup: %v", docID, err)
	}
	if err := s.chunkStore.DeleteChunksByDocument(ctx, docID); err != nil {
		log.Printf("document %s: cleanup chunks: %v", docID, err)
	}
	if err := s.mediaService.DeleteByDocument(ctx, docID); err != nil {
		log.Printf("document %s: cleanup media: %v", docID, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("document %s: remove file: %v", docID, err)
	}
}

func (s *documentService) GetDocument(ctx context.Context, user *types.User, id string) (*types.Document, error) {
	doc, err := s.documentStore.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.authorizer.CanReadDocument(ctx, user, doc) {
		// Report not found rather than denied so the endpoint does not
		// confirm the document exists.
		return nil, types.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *documentService) ListDocuments(ctx context.Context, user *types.User) ([]types.Document, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user", types.ErrAuthorizationDenied)
	}
	if user.Role == types.USER_ROLE_ADMIN {
		return s.documentStore.ListDocuments(ctx)
	}
	return s.documentStore.ListDocumentsByOwner(ctx, user.ID)
}

// DeleteDocument removes the metadata row first, which cancels any
// in-flight processing job, then compensates across the other stores.
// Each step is attempted regardless of earlier failures; Reconcile mops
// up whatever a crash leaves behind.
func (s *documentService) DeleteDocument(ctx context.Context, user *types.User, id string) error {
	doc, err := s.documentStore.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if !s.authorizer.CanReadDocument(ctx, user, doc) {
		return types.ErrDocumentNotFound
	}
	if err := s.documentStore.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	s.index.DeleteDocument(id)
	if err := s.index.Persist(s.indexPath); err != nil {
		log.Printf("delete document %s: persist index: %v", id, err)
	}
	if err := s.chunkStore.DeleteChunksByDocument(ctx, id); err != nil {
		log.Printf("delete document %s: chunks: %v", id, err)
	}
	if err := s.mediaService.DeleteByDocument(ctx, id); err != nil {
		log.Printf("delete document %s: media: %v", id, err)
	}
	filePath := filepath.Join(s.uploadDir, id+".pdf")
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		log.Printf("delete document %s: file: %v", id, err)
	}
	return nil
}

// Reconcile repairs the weak references between the chunk store and the
// vector index. Index entries whose chunk row is gone are dropped,
// indexed chunks missing from the index are re-embedded, and documents
// stuck in processing (a job interrupted by a restart) are marked
// failed. Intended to run at startup and on demand.
func (s *documentService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	indexed := s.index.ChunkIDs()
	inIndex := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		inIndex[id] = struct{}{}
	}

	if len(indexed) > 0 {
		rows, err := s.chunkStore.GetChunks(ctx, indexed)
		if err != nil {
			return nil, fmt.Errorf("reconcile: load chunk rows: %w", err)
		}
		live := make(map[string]struct{}, len(rows))
		for _, c := range rows {
			live[c.ID] = struct{}{}
		}
		var orphans []string
		for _, id := range indexed {
			if _, ok := live[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if len(orphans) > 0 {
			report.OrphanVectorsRemoved = s.index.DeleteChunks(orphans)
		}
	}

	docs, err := s.documentStore.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list documents: %w", err)
	}
	for _, doc := range docs {
		switch doc.Status {
		case types.DOCUMENT_STATUS_PROCESSING:
			s.failDocument(ctx, doc.ID, "processing interrupted by restart")
			report.StaleJobsFailed++
		case types.DOCUMENT_STATUS_INDEXED:
			chunks, err := s.chunkStore.ListChunksByDocument(ctx, doc.ID)
			if err != nil {
				log.Printf("reconcile: chunks of document %s: %v", doc.ID, err)
				continue
			}
			var missing []types.Chunk
			for _, c := range chunks {
				if _, ok := inIndex[c.ID]; !ok {
					missing = append(missing, c)
				}
			}
			if len(missing) == 0 {
				continue
			}
			if err := s.indexChunks(ctx, doc.ID, missing); err != nil {
				log.Printf("reconcile: re-embed document %s: %v", doc.ID, err)
				continue
			}
			report.ChunksReembedded += len(missing)
		}
	}

	if err := s.index.Persist(s.indexPath); err != nil {
		return report, fmt.Errorf("reconcile: persist index: %w", err)
	}
	return report, nil
}

func (s *documentService) Wait() {
	s.wg.Wait()
}
