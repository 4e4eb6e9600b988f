package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// queueMessage — сообщение очереди: приходит по websocket (3.x) или в data: sse-потока (4.x).
type queueMessage struct {
	Msg     string `json:"msg"`
	EventID string `json:"event_id,omitempty"`
	Rank    *int   `json:"rank,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Output  struct {
		Data  []any `json:"data"`
		Error any   `json:"error"`
	} `json:"output"`
}

// queueResult обрабатывает сообщения, общие для всех очередей. done — вызов завершён.
func (c *Client) queueResult(ep Endpoint, m queueMessage) (out []any, done bool, err error) {
	switch m.Msg {
	case "queue_full":
		return nil, true, ErrQueueFull
	case "estimation":
		if m.Rank != nil {
			c.logger.Debugw("queued", "endpoint", ep.Name, "rank", *m.Rank)
		}
	case "unexpected_error":
		return nil, true, &AppError{Message: m.Message}
	case "process_completed":
		if !m.Success {
			return nil, true, appErrorFrom(m.Output.Error)
		}
		return m.Output.Data, true, nil
	default:
		// heartbeat, process_starts, process_generating, log
	}
	return nil, false, nil
}

// readQueue читает sse-поток очереди до завершения события eventID.
// onSendData вызывается на запрос сервера прислать данные (вариант sse 4.0).
func (c *Client) readQueue(r *sseReader, ep Endpoint, eventID string, onSendData func(eventID string) error) ([]any, error) {
	for {
		ev, err := r.Next()
		if err != nil {
			return nil, streamError(ep, err)
		}
		if ev.Data == "" {
			continue
		}
		var m queueMessage
		if err := json.Unmarshal([]byte(ev.Data), &m); err != nil {
			return nil, fmt.Errorf("%s: decode queue message: %w", ep.Name, err)
		}
		// в sse_v2 поток общий на сессию: чужие события пропускаем
		if eventID != "" && m.EventID != "" && m.EventID != eventID {
			continue
		}

		switch m.Msg {
		case "send_data":
			if onSendData == nil {
				continue
			}
			if err := onSendData(m.EventID); err != nil {
				return nil, err
			}
			eventID = m.EventID
		case "close_stream":
			return nil, streamError(ep, errClosedStream)
		default:
			if out, done, err := c.queueResult(ep, m); done {
				return out, err
			}
		}
	}
}

// predictSSEQueue (sse_v1, sse_v2, sse_v2.1): POST /queue/join ставит вызов в очередь,
// результат приходит в общий поток сессии GET /queue/data.
func (c *Client) predictSSEQueue(ctx context.Context, ep Endpoint, data []any) ([]any, error) {
	var joined struct {
		EventID string `json:"event_id"`
	}
	err := c.postJSON(ctx, c.src+"/queue/join", map[string]any{
		"data":         data,
		"fn_index":     ep.FnIndex,
		"session_hash": c.sessionHash,
		"event_data":   nil,
		"trigger_id":   nil,
	}, &joined)
	if err != nil {
		return nil, fmt.Errorf("%s: join queue: %w", ep.Name, err)
	}
	if joined.EventID == "" {
		return nil, fmt.Errorf("%s: empty event id", ep.Name)
	}

	body, err := c.openStream(ctx, c.src+"/queue/data?"+url.Values{"session_hash": {c.sessionHash}}.Encode())
	if err != nil {
		return nil, fmt.Errorf("%s: stream: %w", ep.Name, err)
	}
	defer body.Close()

	return c.readQueue(newSSEReader(body), ep, joined.EventID, nil)
}

// predictSSEStream (sse, Gradio 4.0): GET /queue/join открывает поток, по send_data
// аргументы отправляются POST /queue/data, результат приходит в тот же поток.
func (c *Client) predictSSEStream(ctx context.Context, ep Endpoint, data []any) ([]any, error) {
	q := url.Values{
		"fn_index":     {strconv.Itoa(ep.FnIndex)},
		"session_hash": {c.sessionHash},
	}
	body, err := c.openStream(ctx, c.src+"/queue/join?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%s: stream: %w", ep.Name, err)
	}
	defer body.Close()

	sendData := func(eventID string) error {
		err := c.postJSON(ctx, c.src+"/queue/data", map[string]any{
			"data":         data,
			"fn_index":     ep.FnIndex,
			"session_hash": c.sessionHash,
			"event_id":     eventID,
			"event_data":   nil,
		}, nil)
		if err != nil {
			return fmt.Errorf("%s: send data: %w", ep.Name, err)
		}
		return nil
	}
	return c.readQueue(newSSEReader(body), ep, "", sendData)
}

// postJSON отправляет payload и, если out != nil, декодирует ответ в out.
func (c *Client) postJSON(ctx context.Context, u string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
