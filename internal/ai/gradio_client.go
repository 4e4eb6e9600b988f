package ai

import (
	"GradioClient/internal/gradio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Predictor — то, что умеет вызвать функцию приложения Gradio (gradio.Client).
type Predictor interface {
	Predict(ctx context.Context, apiName string, args ...any) (any, error)
}

// GradioClient отправляет промпт и картинку в функцию приложения Gradio
type GradioClient struct {
	client  Predictor
	apiName string
}

func NewGradioClient(client Predictor, apiName string) *GradioClient {
	return &GradioClient{client: client, apiName: apiName}
}

// SendRequest вызывает apiName с аргументами (text, image). Пустой imageURL уходит как null.
func (c *GradioClient) SendRequest(ctx context.Context, text string, imageURL string) (string, error) {
	var image any
	if strings.TrimSpace(imageURL) != "" {
		image = gradio.HandleFile(imageURL)
	}

	res, err := c.client.Predict(ctx, c.apiName, text, image)
	if err != nil {
		return "", err
	}
	return FormatResult(res)
}

// FormatResult печатает строку как есть, всё остальное — компактным JSON.
func FormatResult(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("format result: %w", err)
	}
	return string(b), nil
}
