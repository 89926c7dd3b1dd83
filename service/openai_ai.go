package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/tieubaoca/docqa-be/types"
)

type OpenAIService struct {
	client        *openai.Client
	model         string
	functionsCall map[string]types.FunctionHandler
	tools         []openai.Tool
}

var (
	_ AIService      = (*OpenAIService)(nil)
	_ ImageCaptioner = (*OpenAIService)(nil)
)

func NewOpenAIService(endpoint, apiKey, model string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return &OpenAIService{
		client:        openai.NewClientWithConfig(cfg),
		model:         model,
		functionsCall: make(map[string]types.FunctionHandler),
	}
}

// RegisterFunctionCall exposes a named tool to the model. The handler
// receives the raw JSON arguments and returns the tool output verbatim.
func (s *OpenAIService) RegisterFunctionCall(name, description string, params jsonschema.Definition, handler types.FunctionHandler) {
	s.functionsCall[name] = handler
	s.tools = append(s.tools, openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	})
}

func (s *OpenAIService) Chat(ctx context.Context, prompt string, messages []types.Message) (string, error) {
	chatMessages := buildOpenAIMessages(prompt, messages)
	req := openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: chatMessages,
	}
	if len(s.tools) > 0 {
		req.Tools = s.tools
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", types.ErrGenerationUnavailable)
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) > 0 {
		return s.handleFunctionCall(ctx, chatMessages, choice.Message)
	}
	return choice.Message.Content, nil
}

func (s *OpenAIService) handleFunctionCall(ctx context.Context, history []openai.ChatCompletionMessage, assistant openai.ChatCompletionMessage) (string, error) {
	history = append(history, assistant)
	for _, call := range assistant.ToolCalls {
		handler, ok := s.functionsCall[call.Function.Name]
		if !ok {
			return "", fmt.Errorf("%w: unknown tool %s", types.ErrGenerationUnavailable, call.Function.Name)
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", fmt.Errorf("%w: tool arguments: %v", types.ErrGenerationUnavailable, err)
		}
		result, err := handler(ctx, args)
		if err != nil {
			return "", fmt.Errorf("%w: tool %s: %v", types.ErrGenerationUnavailable, call.Function.Name, err)
		}
		history = append(history, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: history,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", types.ErrGenerationUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// CaptionImage sends the image inline as a data URL and returns the
// model's description.
func (s *OpenAIService) CaptionImage(ctx context.Context, format string, data []byte) (string, error) {
	url := fmt.Sprintf("data:image/%s;base64,%s", format, base64.StdEncoding.EncodeToString(data))
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: imageCaptionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: url}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", types.ErrGenerationUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (s *OpenAIService) ChatStream(ctx context.Context, prompt string, messages []types.Message, handler types.StreamHandler) error {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: buildOpenAIMessages(prompt, messages),
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
	}
	defer stream.Close()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := handler(ctx, delta); err != nil {
				return err
			}
		}
	}
}

func buildOpenAIMessages(prompt string, messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if prompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt,
		})
	}
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}
