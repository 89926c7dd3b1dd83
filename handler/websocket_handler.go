package handler

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tieubaoca/docqa-be/middleware"
	"github.com/tieubaoca/docqa-be/service"
	"github.com/tieubaoca/docqa-be/types"
)

type WebsocketHandler struct {
	websocketService *service.WebsocketService
	upgrader         websocket.Upgrader
}

func NewWebsocketHandler(websocketService *service.WebsocketService) *WebsocketHandler {
	return &WebsocketHandler{
		websocketService: websocketService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *WebsocketHandler) Serve(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, types.DataResponse{
			Status:  false,
			Message: "not authenticated",
		})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade for user %s: %v", user.ID, err)
		return
	}
	// The request context dies when this handler returns; the connection
	// outlives it.
	go h.websocketService.HandleConnection(context.Background(), conn, user)
}
