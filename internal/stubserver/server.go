package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PredictFunc — функция приложения: позиционные аргументы на входе, список выходов на выходе.
type PredictFunc func(args []any) ([]any, error)

// Const возвращает функцию с одним постоянным выходом.
func Const(v any) PredictFunc {
	return func([]any) ([]any, error) { return []any{v}, nil }
}

// Call — зафиксированный вызов функции.
type Call struct {
	API       string
	Args      []any
	Transport string // sse|ws|http — каким путём пришёл вызов
}

type endpoint struct {
	name  string // без ведущего слэша
	fn    PredictFunc
	queue *bool
}

type pendingEvent struct {
	fnIndex int
	data    []any
	session string
}

// Server — заглушка приложения Gradio с тем же контрактом вызова, что у настоящего.
type Server struct {
	protocol  string
	version   string
	uploadDir string
	logger    *zap.SugaredLogger
	router    chi.Router
	upgrader  websocket.Upgrader

	mu        sync.Mutex
	endpoints []endpoint
	events    map[string]pendingEvent
	waiting   map[string]chan []any // вариант sse 4.0: event_id → данные из POST /queue/data
	calls     []Call
}

type Option func(*Server)

// WithProtocol задаёт протокол, который сервер объявляет в /config:
// sse_v3 (/call), sse_v1|sse_v2|sse_v2.1 (POST /queue/join + GET /queue/data),
// sse (GET /queue/join + POST /queue/data), ws или http.
func WithProtocol(p string) Option {
	return func(s *Server) {
		if p != "" {
			s.protocol = p
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUploadDir задаёт папку для загруженных и отдаваемых файлов.
func WithUploadDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.uploadDir = dir
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		protocol:  "sse_v3",
		uploadDir: filepath.Join(os.TempDir(), "gradio-stub"),
		logger:    zap.NewNop().Sugar(),
		events:    make(map[string]pendingEvent),
		waiting:   make(map[string]chan []any),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.version = versionFor(s.protocol)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/config", s.handleConfig)
	r.Post("/call/{name}", s.handleCall)
	r.Get("/call/{name}/{eventID}", s.handleCallStream)
	r.Post("/run/{name}", s.handleRun)
	r.Get("/queue/join", s.handleQueueJoin)
	r.Post("/queue/join", s.handleQueueSubmit)
	r.Get("/queue/data", s.handleQueueData)
	r.Post("/queue/data", s.handleQueueSend)
	r.Post("/upload", s.handleUpload)
	r.Get("/file=*", s.handleFile)
	s.router = r
	return s
}

// Варианты sse-очереди, см. WithProtocol.
const (
	flowStream = "stream"
	flowQueue  = "queue"
	flowCall   = "call"
)

// sseFlow — какие эндпоинты очереди обслуживает сервер; пусто для ws и http.
func (s *Server) sseFlow() string {
	switch s.protocol {
	case "sse":
		return flowStream
	case "sse_v1", "sse_v2", "sse_v2.1":
		return flowQueue
	}
	if strings.HasPrefix(s.protocol, "sse") {
		return flowCall
	}
	return ""
}

// versionFor — версия Gradio, в которой появился протокол.
func versionFor(protocol string) string {
	switch protocol {
	case "sse":
		return "4.0.2"
	case "sse_v1":
		return "4.8.0"
	case "sse_v2":
		return "4.14.0"
	case "sse_v2.1":
		return "4.19.2"
	}
	if strings.HasPrefix(protocol, "sse") {
		return "4.44.1"
	}
	return "3.50.2"
}

// Register добавляет функцию apiName ("/predict" или "predict"). Порядок регистрации — fn_index.
func (s *Server) Register(apiName string, fn PredictFunc) {
	s.register(apiName, fn, nil)
}

// RegisterUnqueued добавляет функцию с queue=false: клиенты 3.x вызывают её через /run.
func (s *Server) RegisterUnqueued(apiName string, fn PredictFunc) {
	q := false
	s.register(apiName, fn, &q)
}

func (s *Server) register(apiName string, fn PredictFunc, queue *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint{name: strings.TrimPrefix(apiName, "/"), fn: fn, queue: queue})
}

// Calls возвращает копию журнала вызовов.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe слушает addr до отмены ctx, затем мягко останавливается.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Stub Gradio app listening", "addr", "http://"+addr+"/", "protocol", s.protocol)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.WithoutCancel(ctx), 5*time.Second, errors.New("stub server shutdown timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		_ = srv.Close()
	}
	s.logger.Infow("Stub Gradio app stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}

// lookup ищет функцию по имени; возвращает fn_index.
func (s *Server) lookup(name string) (endpoint, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimPrefix(name, "/")
	for i, e := range s.endpoints {
		if e.name == name {
			return e, i, true
		}
	}
	return endpoint{}, -1, false
}

func (s *Server) byIndex(i int) (endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.endpoints) {
		return endpoint{}, false
	}
	return s.endpoints[i], true
}

// invoke фиксирует вызов и выполняет функцию.
func (s *Server) invoke(e endpoint, args []any, transport string) ([]any, error) {
	if args == nil {
		args = []any{}
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{API: "/" + e.name, Args: args, Transport: transport})
	s.mu.Unlock()

	s.logger.Infow("predict", "api_name", "/"+e.name, "args", args, "transport", transport)
	return e.fn(args)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
}
