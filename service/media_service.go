package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/docqa-be/database"
	"github.com/tieubaoca/docqa-be/types"
)

// MediaService persists the images and tables extracted from a document
// and resolves which of them belong to a set of retrieved chunks. The
// association is by page overlap only, recomputed on every lookup, so
// re-saving the same extraction or re-chunking a document never leaves
// stale links behind.
type MediaService interface {
	SaveExtracted(ctx context.Context, documentID string, pages []types.PageRecord) ([]types.MediaItem, error)
	MediaForChunks(ctx context.Context, documentID string, chunks []types.Chunk) ([]types.MediaItem, error)
	MediaForPage(ctx context.Context, documentID string, page int) ([]types.MediaItem, error)
	GetMediaItem(ctx context.Context, id string) (*types.MediaItem, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

type mediaService struct {
	mediaStore    database.MediaStore
	maxMediaBytes int64
	captioner     ImageCaptioner
}

// NewMediaService builds the media layer. A nil captioner disables
// image captioning; everything else works the same.
func NewMediaService(mediaStore database.MediaStore, maxMediaBytes int64, captioner ImageCaptioner) MediaService {
	return &mediaService{
		mediaStore:    mediaStore,
		maxMediaBytes: maxMediaBytes,
		captioner:     captioner,
	}
}

// SaveExtracted replaces any previously stored media for the document
// before writing the new batch, which makes reprocessing idempotent.
// Invalid and oversized blocks are skipped with a log line; one bad
// image must not sink the whole document.
func (s *mediaService) SaveExtracted(ctx context.Context, documentID string, pages []types.PageRecord) ([]types.MediaItem, error) {
	if err := s.mediaStore.DeleteMediaByDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("clear media for document %s: %w", documentID, err)
	}
	now := time.Now().Unix()
	var items []types.MediaItem
	for _, page := range pages {
		for _, img := range page.Images {
			if err := img.Validate(); err != nil {
				log.Printf("skip media on document %s: %v", documentID, err)
				continue
			}
			if s.maxMediaBytes > 0 && int64(len(img.Data)) > s.maxMediaBytes {
				log.Printf("skip oversized image on document %s page %d: %d bytes", documentID, img.Page, len(img.Data))
				continue
			}
			items = append(items, types.MediaItem{
				ID:         uuid.New().String(),
				DocumentID: documentID,
				Kind:       types.MEDIA_KIND_IMAGE,
				Page:       img.Page,
				Payload:    img.Data,
				Format:     img.Format,
				Bounds:     img.Bounds,
				Caption:    s.captionImage(ctx, documentID, img),
				CreatedAt:  now,
			})
		}
		for _, tbl := range page.Tables {
			if err := tbl.Validate(); err != nil {
				log.Printf("skip media on document %s: %v", documentID, err)
				continue
			}
			items = append(items, types.MediaItem{
				ID:         uuid.New().String(),
				DocumentID: documentID,
				Kind:       types.MEDIA_KIND_TABLE,
				Page:       tbl.Page,
				Rows:       tbl.Rows,
				CSV:        tbl.CSV,
				HTML:       tbl.HTML,
				CreatedAt:  now,
			})
		}
	}
	if len(items) == 0 {
		return nil, nil
	}
	if err := s.mediaStore.CreateMediaItems(ctx, items); err != nil {
		return nil, fmt.Errorf("save media for document %s: %w", documentID, err)
	}
	return items, nil
}

// captionImage asks the vision backend to describe the image. A failed
// or absent captioner yields an empty caption; the image is stored
// either way.
func (s *mediaService) captionImage(ctx context.Context, documentID string, img types.ImageBlock) string {
	if s.captioner == nil {
		return ""
	}
	caption, err := s.captioner.CaptionImage(ctx, img.Format, img.Data)
	if err != nil {
		log.Printf("caption image on document %s page %d: %v", documentID, img.Page, err)
		return ""
	}
	return caption
}

// MediaForChunks collects the union of the page ranges of the given
// chunks and returns every media item on those pages, page ascending.
func (s *mediaService) MediaForChunks(ctx context.Context, documentID string, chunks []types.Chunk) ([]types.MediaItem, error) {
	pageSet := make(map[int]struct{})
	for _, c := range chunks {
		if c.DocumentID != documentID {
			continue
		}
		for p := c.PageStart; p <= c.PageEnd; p++ {
			pageSet[p] = struct{}{}
		}
	}
	if len(pageSet) == 0 {
		return nil, nil
	}
	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return s.mediaStore.ListMediaByPages(ctx, documentID, pages)
}

func (s *mediaService) MediaForPage(ctx context.Context, documentID string, page int) ([]types.MediaItem, error) {
	return s.mediaStore.ListMediaByPages(ctx, documentID, []int{page})
}

func (s *mediaService) GetMediaItem(ctx context.Context, id string) (*types.MediaItem, error) {
	return s.mediaStore.GetMediaItem(ctx, id)
}

func (s *mediaService) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.mediaStore.DeleteMediaByDocument(ctx, documentID)
}
