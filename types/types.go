package types

import "context"

const (
	TypeWebsocketPing       = "ping"
	TypeWebsocketPong       = "pong"
	TypeWebsocketAsk        = "ask"
	TypeWebsocketAnswer     = "answer"
	TypeWebsocketSources    = "sources"
	TypeWebsocketProcessing = "processing"
	TypeWebsocketError      = "error"
)

type WebsocketRequest struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type WebSocketResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketAnswerDelta carries one streamed fragment of a generated
// answer. Done is set on the final frame.
type WebSocketAnswerDelta struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

// Message represents a single message in the conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FunctionHandler is a type for handling function calls
type FunctionHandler func(ctx context.Context, args map[string]interface{}) (string, error)

// StreamHandler receives generated answer fragments as they arrive.
// Returning an error aborts the stream.
type StreamHandler func(ctx context.Context, delta string) error
