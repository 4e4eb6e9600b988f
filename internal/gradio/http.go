package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// predictHTTP вызывает функцию мимо очереди: POST /run/{name}.
func (c *Client) predictHTTP(ctx context.Context, ep Endpoint, data []any) ([]any, error) {
	body, err := json.Marshal(map[string]any{
		"data":         data,
		"fn_index":     ep.FnIndex,
		"session_hash": c.sessionHash,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.src+"/run"+ep.Name, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", ep.Name, err)
	}

	var result struct {
		Data  []any `json:"data"`
		Error any   `json:"error"`
	}
	// Ошибка приложения приходит JSON-ом даже с кодом 500
	if jerr := json.Unmarshal(raw, &result); jerr == nil && result.Error != nil {
		return nil, appErrorFrom(result.Error)
	} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %w", ep.Name, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(raw))})
	} else if jerr != nil {
		return nil, fmt.Errorf("%s: decode response: %w", ep.Name, jerr)
	}
	return result.Data, nil
}
