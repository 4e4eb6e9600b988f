package gradio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Minute

// Client — клиент приложения Gradio. Один экземпляр соответствует одной сессии (session_hash).
type Client struct {
	src         string
	http        *http.Client
	logger      *zap.SugaredLogger
	sessionHash string
	hfToken     string
	downloadDir string
	protocol    string // принудительный протокол; пусто — из /config

	config *AppConfig
}

type Option func(*Client)

// WithHTTPClient подменяет http.Client (например, в тестах).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout задаёт таймаут HTTP-запросов на копии текущего клиента: транспорт из WithHTTPClient сохраняется.
// Ожидание в очереди и sse-потоки таймаутом не ограничиваются.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			h := *c.http
			h.Timeout = d
			c.http = &h
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHFToken добавляет Authorization: Bearer ко всем запросам (приватные Spaces).
func WithHFToken(token string) Option {
	return func(c *Client) { c.hfToken = strings.TrimSpace(token) }
}

// WithDownloadDir задаёт папку, куда скачиваются файлы-результаты.
func WithDownloadDir(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.downloadDir = dir
		}
	}
}

// WithProtocol принудительно выбирает протокол: sse|ws|http. "auto" или пусто — по /config.
func WithProtocol(p string) Option {
	return func(c *Client) {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "auto" {
			p = ""
		}
		c.protocol = p
	}
}

// New подключается к приложению по адресу src и загружает его конфигурацию.
func New(ctx context.Context, src string, opts ...Option) (*Client, error) {
	base, err := normalizeSrc(src)
	if err != nil {
		return nil, err
	}
	c := &Client{
		src:         base,
		http:        &http.Client{Timeout: defaultTimeout},
		logger:      zap.NewNop().Sugar(),
		sessionHash: uuid.NewString(),
		downloadDir: filepath.Join(os.TempDir(), "gradio"),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch c.protocol {
	case "", ProtocolSSE, ProtocolWS, ProtocolHTTP:
	default:
		return nil, fmt.Errorf("gradio: unsupported protocol %q", c.protocol)
	}

	cfg, err := c.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.config = cfg
	c.logger.Infow("Loaded as API", "src", c.src, "version", cfg.Version, "protocol", c.protocolFor(nil))
	return c, nil
}

// Src возвращает нормализованный адрес приложения.
func (c *Client) Src() string { return c.src }

func (c *Client) SessionHash() string { return c.sessionHash }

// Endpoints возвращает именованные функции приложения в порядке fn_index.
func (c *Client) Endpoints() []Endpoint { return c.config.endpoints() }

// Predict вызывает функцию apiName с позиционными аргументами и ждёт результата.
// Один выход — возвращается он сам, несколько — срез, ни одного — nil.
// Аргументы-файлы передаются через HandleFile; nil уходит как JSON null.
func (c *Client) Predict(ctx context.Context, apiName string, args ...any) (any, error) {
	ep, ok := c.config.lookup(apiName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, apiName)
	}
	if args == nil {
		args = []any{}
	}

	protocol := c.protocolFor(&ep)
	data, err := c.prepareArgs(ctx, args, protocol != ProtocolSSE)
	if err != nil {
		return nil, err
	}

	c.logger.Debugw("predict", "endpoint", ep.Name, "fn_index", ep.FnIndex, "protocol", protocol, "app_protocol", c.config.Protocol)

	var out []any
	switch protocol {
	case ProtocolSSE:
		switch c.config.sseFlow() {
		case sseStream:
			out, err = c.predictSSEStream(ctx, ep, data)
		case sseQueue:
			out, err = c.predictSSEQueue(ctx, ep, data)
		default:
			out, err = c.predictSSE(ctx, ep, data)
		}
	case ProtocolWS:
		out, err = c.predictWS(ctx, ep, data)
	case ProtocolHTTP:
		out, err = c.predictHTTP(ctx, ep, data)
	default:
		return nil, fmt.Errorf("gradio: unsupported protocol %q", protocol)
	}
	if err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			return nil, fmt.Errorf("%s: %w", ep.Name, cause)
		}
		return nil, err
	}

	for i := range out {
		if out[i], err = c.resolveFiles(ctx, out[i]); err != nil {
			return nil, err
		}
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// protocolFor выбирает протокол вызова. ep == nil — протокол приложения в целом.
func (c *Client) protocolFor(ep *Endpoint) string {
	if c.protocol != "" {
		return c.protocol
	}
	p := c.config.normalizeProtocol()
	if p == ProtocolWS && ep != nil {
		// функция с queue=false в 3.x вызывается мимо очереди
		if q := c.config.Dependencies[ep.FnIndex].Queue; q != nil && !*q {
			return ProtocolHTTP
		}
	}
	return p
}

func (c *Client) authorize(req *http.Request) {
	if c.hfToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.hfToken)
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.hfToken != "" {
		h.Set("Authorization", "Bearer "+c.hfToken)
	}
	return h
}

func normalizeSrc(src string) (string, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return "", errors.New("gradio: empty src")
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	return strings.TrimRight(s, "/"), nil
}
