package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/docqa-be/middleware"
	"github.com/tieubaoca/docqa-be/service"
	"github.com/tieubaoca/docqa-be/types"
	"github.com/tieubaoca/docqa-be/utils"
)

type DocumentHandler struct {
	documentService service.DocumentService
	mediaService    service.MediaService
}

func NewDocumentHandler(documentService service.DocumentService, mediaService service.MediaService) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		mediaService:    mediaService,
	}
}

// Upload accepts a multipart pdf and returns immediately with the
// pending document; indexing continues in the background.
func (h *DocumentHandler) Upload(c *gin.Context) {
	user := middleware.CurrentUser(c)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "missing file field",
		})
		return
	}
	name := utils.SanitizeFilename(fileHeader.Filename)
	if !utils.IsPDF(name) {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "only pdf files are supported",
		})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "failed to read upload",
		})
		return
	}
	defer src.Close()

	doc, err := h.documentService.Upload(c.Request.Context(), user, c.PostForm("title"), name, src)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, types.DataResponse{
		Status: true,
		Data: types.UploadResponse{
			DocumentID:   doc.ID,
			OriginalName: doc.Filename,
			Status:       doc.Status,
		},
	})
}

func (h *DocumentHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)
	docs, err := h.documentService.ListDocuments(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "failed to list documents",
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   docs,
	})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	user := middleware.CurrentUser(c)
	doc, err := h.documentService.GetDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, types.DataResponse{
			Status:  false,
			Message: "document not found",
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   doc,
	})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	user := middleware.CurrentUser(c)
	err := h.documentService.DeleteDocument(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, types.DataResponse{
			Status:  false,
			Message: "failed to delete document",
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status:  true,
		Message: "document deleted",
	})
}

// Status streams processing progress as server-sent events until the
// document reaches a terminal state or the client goes away.
func (h *DocumentHandler) Status(c *gin.Context) {
	user := middleware.CurrentUser(c)
	docID := c.Param("id")
	if _, err := h.documentService.GetDocument(c.Request.Context(), user, docID); err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: "document not found",
		})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		doc, err := h.documentService.GetDocument(c.Request.Context(), user, docID)
		if err != nil {
			c.SSEvent("error", "document no longer available")
			c.Writer.Flush()
			return
		}
		c.SSEvent("status", statusEvent(doc))
		c.Writer.Flush()
		if doc.Status == types.DOCUMENT_STATUS_INDEXED || doc.Status == types.DOCUMENT_STATUS_FAILED {
			return
		}
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func statusEvent(doc *types.Document) types.ProcessingDocumentStatus {
	ev := types.ProcessingDocumentStatus{
		Status:     doc.Status,
		TotalPages: doc.PageCount,
	}
	switch doc.Status {
	case types.DOCUMENT_STATUS_PROCESSING:
		ev.Progress = 0.5
		ev.Message = "extracting and indexing"
	case types.DOCUMENT_STATUS_INDEXED:
		ev.Progress = 1
		ev.ProcessedPages = doc.PageCount
		ev.Message = "indexed"
	case types.DOCUMENT_STATUS_FAILED:
		ev.Progress = 1
		ev.Message = doc.FailReason
	default:
		ev.Message = "queued"
	}
	return ev
}

// GetMedia serves one media item. Images stream their raw payload;
// tables return the structured renderings as JSON.
func (h *DocumentHandler) GetMedia(c *gin.Context) {
	user := middleware.CurrentUser(c)
	item, err := h.mediaService.GetMediaItem(c.Request.Context(), c.Param("mediaId"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: "media not found",
		})
		return
	}
	// Media access follows document access.
	if _, err := h.documentService.GetDocument(c.Request.Context(), user, item.DocumentID); err != nil {
		c.JSON(http.StatusNotFound, types.DataResponse{
			Status:  false,
			Message: "media not found",
		})
		return
	}
	if item.Kind == types.MEDIA_KIND_IMAGE {
		c.Data(http.StatusOK, "image/"+item.Format, item.Payload)
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   item,
	})
}

// Reconcile triggers a consistency pass between the chunk store and the
// vector index. Admin only.
func (h *DocumentHandler) Reconcile(c *gin.Context) {
	report, err := h.documentService.Reconcile(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   report,
	})
}
