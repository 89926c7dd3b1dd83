package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tieubaoca/docqa-be/types"
)

const (
	websocketWriteWait  = 10 * time.Second
	websocketAskTimeout = 2 * time.Minute
)

// WebsocketService drives the interactive ask channel: one goroutine per
// connection reads requests, answers are streamed back frame by frame.
type WebsocketService struct {
	queryService QueryService
}

func NewWebsocketService(queryService QueryService) *WebsocketService {
	return &WebsocketService{queryService: queryService}
}

// wsConn serializes writes; gorilla connections allow one concurrent
// writer only.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(resp types.WebSocketResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
	return c.conn.WriteJSON(resp)
}

// HandleConnection runs the message loop until the peer disconnects. The
// connection is closed on return.
func (s *WebsocketService) HandleConnection(ctx context.Context, conn *websocket.Conn, user *types.User) {
	defer conn.Close()
	c := &wsConn{conn: conn}
	for {
		var req types.WebsocketRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read for user %s: %v", user.ID, err)
			}
			return
		}
		switch req.Type {
		case types.TypeWebsocketPing:
			if err := c.send(types.WebSocketResponse{Type: types.TypeWebsocketPong}); err != nil {
				return
			}
		case types.TypeWebsocketAsk:
			s.handleAsk(ctx, c, user, req.Payload)
		default:
			c.send(types.WebSocketResponse{
				Type:    types.TypeWebsocketError,
				Payload: "unknown message type " + req.Type,
			})
		}
	}
}

func (s *WebsocketService) handleAsk(ctx context.Context, c *wsConn, user *types.User, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.send(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: "invalid ask payload"})
		return
	}
	var ask types.AskRequest
	if err := json.Unmarshal(raw, &ask); err != nil || ask.Question == "" {
		c.send(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: "invalid ask payload"})
		return
	}

	askCtx, cancel := context.WithTimeout(ctx, websocketAskTimeout)
	defer cancel()

	c.send(types.WebSocketResponse{Type: types.TypeWebsocketProcessing})
	answer, err := s.queryService.AskStream(askCtx, user, ask,
		func(sources []types.Source) {
			c.send(types.WebSocketResponse{Type: types.TypeWebsocketSources, Payload: sources})
		},
		func(_ context.Context, delta string) error {
			return c.send(types.WebSocketResponse{
				Type:    types.TypeWebsocketAnswer,
				Payload: types.WebSocketAnswerDelta{Delta: delta},
			})
		})
	if err != nil {
		log.Printf("websocket ask for user %s: %v", user.ID, err)
		c.send(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: "request failed"})
		return
	}
	done := types.WebSocketAnswerDelta{Done: true}
	if answer.Unavailable {
		c.send(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: answer.Reason})
	}
	c.send(types.WebSocketResponse{Type: types.TypeWebsocketAnswer, Payload: done})
}
