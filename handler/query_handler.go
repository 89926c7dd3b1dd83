package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tieubaoca/docqa-be/middleware"
	"github.com/tieubaoca/docqa-be/service"
	"github.com/tieubaoca/docqa-be/types"
)

type QueryHandler struct {
	queryService service.QueryService
}

func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

func (h *QueryHandler) Ask(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req types.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "question is required",
		})
		return
	}
	answer, err := h.queryService.Ask(c.Request.Context(), user, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "failed to answer question",
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   answer,
	})
}

// Search returns ranked sources without generating an answer.
func (h *QueryHandler) Search(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req types.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
		c.JSON(http.StatusBadRequest, types.DataResponse{
			Status:  false,
			Message: "query is required",
		})
		return
	}
	sources, err := h.queryService.Search(c.Request.Context(), user, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "search failed",
		})
		return
	}
	if sources == nil {
		sources = []types.Source{}
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   sources,
	})
}

func (h *QueryHandler) History(c *gin.Context) {
	user := middleware.CurrentUser(c)
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit <= 0 {
		limit = 20
	}
	records, err := h.queryService.History(c.Request.Context(), user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.DataResponse{
			Status:  false,
			Message: "failed to load history",
		})
		return
	}
	c.JSON(http.StatusOK, types.DataResponse{
		Status: true,
		Data:   records,
	})
}
