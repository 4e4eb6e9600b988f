package gradio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Протоколы, которые сервер объявляет в /config.
const (
	ProtocolWS   = "ws"
	ProtocolSSE  = "sse"
	ProtocolHTTP = "http"
)

// Варианты sse в Gradio 4.x различаются набором эндпоинтов очереди.
const (
	sseStream = "stream" // sse (4.0): GET /queue/join, данные — POST /queue/data
	sseQueue  = "queue"  // sse_v1, sse_v2, sse_v2.1: POST /queue/join, поток — GET /queue/data
	sseCall   = "call"   // sse_v3 и новее: /call/{name}
)

// AppConfig — часть ответа GET /config, нужная клиенту.
type AppConfig struct {
	Version      string       `json:"version"`
	Protocol     string       `json:"protocol"`
	EnableQueue  bool         `json:"enable_queue"`
	Dependencies []Dependency `json:"dependencies"`
}

// Dependency описывает одну функцию приложения. Индекс в списке — fn_index.
type Dependency struct {
	ID      int     `json:"id"`
	APIName APIName `json:"api_name"`
	Queue   *bool   `json:"queue"` // nil — как у приложения
}

// APIName в разных версиях Gradio бывает строкой, null или false.
type APIName string

func (n *APIName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = APIName(s)
		return nil
	}
	// false/null — функция без имени
	*n = ""
	return nil
}

// Endpoint — именованная функция приложения.
type Endpoint struct {
	Name    string // с ведущим слэшем, напр. /predict
	FnIndex int
}

// normalizeProtocol сводит варианты sse_v1..sse_v3 к sse и восстанавливает
// протокол для старых версий, где поле отсутствует.
func (c *AppConfig) normalizeProtocol() string {
	p := strings.ToLower(strings.TrimSpace(c.Protocol))
	switch {
	case strings.HasPrefix(p, ProtocolSSE):
		return ProtocolSSE
	case p == ProtocolWS:
		return ProtocolWS
	case p == "":
		if c.EnableQueue {
			return ProtocolWS
		}
		return ProtocolHTTP
	default:
		return p
	}
}

// sseFlow выбирает вариант sse по исходному полю protocol.
// Приложение без sse (протокол задан принудительно) получает /call.
func (c *AppConfig) sseFlow() string {
	switch strings.ToLower(strings.TrimSpace(c.Protocol)) {
	case "sse":
		return sseStream
	case "sse_v1", "sse_v2", "sse_v2.1":
		return sseQueue
	default:
		return sseCall
	}
}

// endpoints возвращает именованные функции в порядке fn_index.
func (c *AppConfig) endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(c.Dependencies))
	for i, d := range c.Dependencies {
		if d.APIName == "" {
			continue
		}
		out = append(out, Endpoint{Name: "/" + string(d.APIName), FnIndex: i})
	}
	return out
}

// lookup ищет функцию по api_name; "/predict" и "predict" эквивалентны.
func (c *AppConfig) lookup(apiName string) (Endpoint, bool) {
	name := strings.TrimPrefix(strings.TrimSpace(apiName), "/")
	if name == "" {
		return Endpoint{}, false
	}
	for i, d := range c.Dependencies {
		if string(d.APIName) == name {
			return Endpoint{Name: "/" + name, FnIndex: i}, true
		}
	}
	return Endpoint{}, false
}

func (c *Client) fetchConfig(ctx context.Context) (*AppConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.src+"/config", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}

	var cfg AppConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
