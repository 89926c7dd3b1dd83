package service

import (
	"context"

	"github.com/tieubaoca/docqa-be/types"
)

// AIService is the generation capability. Backends are swappable; the
// retrieval path only depends on this interface and treats any failure
// here as a degraded answer, never a failed request.
type AIService interface {
	Chat(ctx context.Context, prompt string, messages []types.Message) (string, error)
	ChatStream(ctx context.Context, prompt string, messages []types.Message, handler types.StreamHandler) error
}

const imageCaptionPrompt = "Describe this image in one or two sentences so it can be matched against search queries. Mention any text visible in the image."

// ImageCaptioner is the optional vision capability of a backend. Both
// backends implement it; callers that caption do so best-effort and
// keep going without a caption when the call fails.
type ImageCaptioner interface {
	CaptionImage(ctx context.Context, format string, data []byte) (string, error)
}
