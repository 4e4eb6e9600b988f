package gradio

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

type wsHash struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

type wsData struct {
	FnIndex     int    `json:"fn_index"`
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	SessionHash string `json:"session_hash"`
}

func (c *Client) queueURL() (string, error) {
	u, err := url.Parse(c.src)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/queue/join"
	return u.String(), nil
}

// predictWS проходит протокол очереди: send_hash → send_data → process_completed.
func (c *Client) predictWS(ctx context.Context, ep Endpoint, data []any) ([]any, error) {
	wsURL, err := c.queueURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, c.authHeader())
	if err != nil {
		return nil, fmt.Errorf("%s: dial queue: %w", ep.Name, err)
	}
	defer conn.Close()

	// ReadJSON не знает о контексте: при отмене закрываем соединение
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var m queueMessage
		if err := conn.ReadJSON(&m); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			return nil, fmt.Errorf("%s: read queue: %w", ep.Name, err)
		}

		switch m.Msg {
		case "send_hash":
			if err := conn.WriteJSON(wsHash{FnIndex: ep.FnIndex, SessionHash: c.sessionHash}); err != nil {
				return nil, fmt.Errorf("%s: send hash: %w", ep.Name, err)
			}
		case "send_data":
			if err := conn.WriteJSON(wsData{FnIndex: ep.FnIndex, Data: data, SessionHash: c.sessionHash}); err != nil {
				return nil, fmt.Errorf("%s: send data: %w", ep.Name, err)
			}
		default:
			if out, done, err := c.queueResult(ep, m); done {
				return out, err
			}
		}
	}
}
