package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/tieubaoca/docqa-be/types"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiService rotates through a pool of API keys. When a key hits its
// quota the client is rebuilt with the next key and the call retried,
// at most once per key in the pool.
type GeminiService struct {
	mu       sync.Mutex
	client   *genai.Client
	model    string
	apiKeys  []string
	keyIndex int
}

var (
	_ AIService      = (*GeminiService)(nil)
	_ ImageCaptioner = (*GeminiService)(nil)
)

func NewGeminiService(ctx context.Context, apiKeys []string, model string) (*GeminiService, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("%w: no gemini api keys", types.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKeys[0]))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiService{
		client:  client,
		model:   model,
		apiKeys: apiKeys,
	}, nil
}

func (s *GeminiService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}

func (s *GeminiService) rotateKey(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyIndex = (s.keyIndex + 1) % len(s.apiKeys)
	client, err := genai.NewClient(ctx, option.WithAPIKey(s.apiKeys[s.keyIndex]))
	if err != nil {
		return fmt.Errorf("rotate gemini key: %w", err)
	}
	s.client.Close()
	s.client = client
	return nil
}

func (s *GeminiService) session(prompt string, messages []types.Message) (*genai.ChatSession, genai.Text, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("%w: no messages", types.ErrGenerationUnavailable)
	}
	s.mu.Lock()
	model := s.client.GenerativeModel(s.model)
	s.mu.Unlock()
	if prompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt)}}
	}
	cs := model.StartChat()
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return cs, genai.Text(messages[len(messages)-1].Content), nil
}

func (s *GeminiService) Chat(ctx context.Context, prompt string, messages []types.Message) (string, error) {
	for attempt := 0; attempt < len(s.apiKeys); attempt++ {
		cs, last, err := s.session(prompt, messages)
		if err != nil {
			return "", err
		}
		resp, err := cs.SendMessage(ctx, last)
		if err == nil {
			return flattenGeminiResponse(resp), nil
		}
		if !isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
		}
		if rerr := s.rotateKey(ctx); rerr != nil {
			return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, rerr)
		}
	}
	return "", fmt.Errorf("%w: all gemini keys exhausted", types.ErrGenerationUnavailable)
}

// CaptionImage describes an image through the same key pool as Chat.
func (s *GeminiService) CaptionImage(ctx context.Context, format string, data []byte) (string, error) {
	for attempt := 0; attempt < len(s.apiKeys); attempt++ {
		s.mu.Lock()
		model := s.client.GenerativeModel(s.model)
		s.mu.Unlock()
		resp, err := model.GenerateContent(ctx, genai.Text(imageCaptionPrompt), genai.ImageData(format, data))
		if err == nil {
			return strings.TrimSpace(flattenGeminiResponse(resp)), nil
		}
		if !isQuotaError(err) {
			return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
		}
		if rerr := s.rotateKey(ctx); rerr != nil {
			return "", fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, rerr)
		}
	}
	return "", fmt.Errorf("%w: all gemini keys exhausted", types.ErrGenerationUnavailable)
}

func (s *GeminiService) ChatStream(ctx context.Context, prompt string, messages []types.Message, handler types.StreamHandler) error {
	cs, last, err := s.session(prompt, messages)
	if err != nil {
		return err
	}
	iter := cs.SendMessageStream(ctx, last)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrGenerationUnavailable, err)
		}
		if delta := flattenGeminiResponse(resp); delta != "" {
			if err := handler(ctx, delta); err != nil {
				return err
			}
		}
	}
}

func flattenGeminiResponse(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func isQuotaError(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429
	}
	return false
}
