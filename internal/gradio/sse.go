package gradio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// predictSSE: POST /call/{name} возвращает event_id, затем GET /call/{name}/{event_id} отдаёт поток событий.
func (c *Client) predictSSE(ctx context.Context, ep Endpoint, data []any) ([]any, error) {
	var submitted struct {
		EventID string `json:"event_id"`
	}
	callURL := c.src + "/call" + ep.Name
	err := c.postJSON(ctx, callURL, map[string]any{
		"data":         data,
		"session_hash": c.sessionHash,
	}, &submitted)
	if err != nil {
		return nil, fmt.Errorf("%s: submit: %w", ep.Name, err)
	}
	if submitted.EventID == "" {
		return nil, fmt.Errorf("%s: empty event id", ep.Name)
	}

	return c.streamResult(ctx, ep, callURL+"/"+submitted.EventID)
}

func (c *Client) streamResult(ctx context.Context, ep Endpoint, streamURL string) ([]any, error) {
	body, err := c.openStream(ctx, streamURL)
	if err != nil {
		return nil, fmt.Errorf("%s: stream: %w", ep.Name, err)
	}
	defer body.Close()

	r := newSSEReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			return nil, streamError(ep, err)
		}
		switch ev.Name {
		case "complete":
			var out []any
			if err := json.Unmarshal([]byte(ev.Data), &out); err != nil {
				return nil, fmt.Errorf("%s: decode output: %w", ep.Name, err)
			}
			return out, nil
		case "error":
			var msg any
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				msg = ev.Data // не JSON — берём как есть
			}
			return nil, appErrorFrom(msg)
		case "generating":
			c.logger.Debugw("generating", "endpoint", ep.Name)
		default:
			// heartbeat и прочее
		}
	}
}

// openStream открывает GET-поток text/event-stream.
func (c *Client) openStream(ctx context.Context, streamURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	// Генерация может идти дольше таймаута обычных запросов: ограничиваем только контекстом.
	stream := *c.http
	stream.Timeout = 0
	resp, err := stream.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func streamError(ep Endpoint, err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: stream closed before completion: %w", ep.Name, io.ErrUnexpectedEOF)
	}
	return fmt.Errorf("%s: stream: %w", ep.Name, err)
}

type sseEvent struct {
	Name string
	Data string
}

// sseReader разбирает text/event-stream. Строки без ограничения длины: в data бывает base64.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader { return &sseReader{r: bufio.NewReader(r)} }

// Next возвращает следующее событие. io.EOF — поток закончился без незавершённого события.
func (s *sseReader) Next() (sseEvent, error) {
	var (
		ev      sseEvent
		data    []string
		started bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) && started {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if started {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // комментарий
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
			started = true
		case "data":
			data = append(data, value)
			started = true
		}
	}
}
