package services

import (
	"context"
	"fmt"

	"github.com/loomchat/loom/internal/llm"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var allowedImageSizes = map[string]bool{
	"1024x1024": true,
	"1792x1024": true,
	"1024x1792": true,
}

// ImageService requests a single image from the provider's image endpoint and
// returns it as a data URL plus the provider's revised prompt.
type ImageService struct {
	logger *zap.Logger
}

func NewImageService(logger *zap.Logger) *ImageService {
	return &ImageService{logger: logger}
}

func (s *ImageService) Generate(ctx context.Context, client *llm.Client, prompt, size, quality string) (*llm.GeneratedImage, error) {
	if !allowedImageSizes[size] {
		size = "1024x1024"
	}
	if quality != "hd" {
		quality = "standard"
	}

	resp, err := client.API().CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           size,
		Quality:        quality,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image provider returned no payload")
	}

	return &llm.GeneratedImage{
		DataURL:       "data:image/png;base64," + resp.Data[0].B64JSON,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

// BoundImageGenerator ties the image service to one request's provider
// client so the tool registry can call it without knowing about credentials.
type BoundImageGenerator struct {
	svc    *ImageService
	client *llm.Client
}

func (s *ImageService) Bind(client *llm.Client) *BoundImageGenerator {
	return &BoundImageGenerator{svc: s, client: client}
}

func (b *BoundImageGenerator) Generate(ctx context.Context, prompt, size, quality string) (*llm.GeneratedImage, error) {
	return b.svc.Generate(ctx, b.client, prompt, size, quality)
}
