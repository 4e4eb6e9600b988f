package ai

import "context"

// Client интерфейс для отправки запроса модели: текст и опциональная картинка (путь или URL).
// Все реализации должны быть взаимозаменяемыми.
type Client interface {
	SendRequest(ctx context.Context, text string, imageURL string) (string, error)
}
