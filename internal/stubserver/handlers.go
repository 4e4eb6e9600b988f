package stubserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type predictBody struct {
	Data        []any  `json:"data"`
	FnIndex     *int   `json:"fn_index"`
	SessionHash string `json:"session_hash"`
	EventID     string `json:"event_id"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	deps := make([]map[string]any, 0, len(s.endpoints))
	for i, e := range s.endpoints {
		d := map[string]any{"id": i, "api_name": e.name, "backend_fn": true}
		if e.queue != nil {
			d["queue"] = *e.queue
		} else {
			d["queue"] = nil
		}
		deps = append(deps, d)
	}
	s.mu.Unlock()

	cfg := map[string]any{
		"version":      s.version,
		"enable_queue": s.protocol != "http",
		"dependencies": deps,
	}
	// в 3.x поле protocol отсутствует: клиент выводит его из enable_queue
	if strings.HasPrefix(s.protocol, "sse") {
		cfg["protocol"] = s.protocol
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleCall ставит вызов в очередь и возвращает event_id.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.sseFlow() != flowCall {
		notFound(w)
		return
	}
	_, idx, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		notFound(w)
		return
	}
	var body predictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	id := newEventID()
	s.mu.Lock()
	s.events[id] = pendingEvent{fnIndex: idx, data: body.Data, session: body.SessionHash}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"event_id": id})
}

// handleCallStream выполняет вызов и отдаёт результат потоком text/event-stream.
func (s *Server) handleCallStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventID")
	s.mu.Lock()
	ev, ok := s.events[id]
	delete(s.events, id)
	s.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	e, ok := s.byIndex(ev.fnIndex)
	if !ok {
		notFound(w)
		return
	}

	stream := newEventStream(w)
	stream.send("heartbeat", nil)
	out, err := s.invoke(e, ev.data, "sse")
	if err != nil {
		stream.send("error", err.Error())
		return
	}
	stream.send("complete", outputs(out))
}

// handleRun — вызов мимо очереди.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	e, _, ok := s.lookup(chi.URLParam(r, "name"))
	if !ok {
		notFound(w)
		return
	}
	var body predictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	out, err := s.invoke(e, body.Data, "http")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": outputs(out), "is_generating": false})
}

// handleQueueWS — протокол очереди Gradio 3.x поверх websocket.
func (s *Server) handleQueueWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"msg": "send_hash"}); err != nil {
		return
	}
	var hash predictBody
	if err := conn.ReadJSON(&hash); err != nil || hash.FnIndex == nil {
		return
	}
	e, ok := s.byIndex(*hash.FnIndex)
	if !ok {
		_ = conn.WriteJSON(map[string]any{"msg": "process_completed", "success": false, "output": map[string]any{"error": "unknown fn_index"}})
		return
	}

	_ = conn.WriteJSON(map[string]any{"msg": "estimation", "rank": 0, "queue_size": 1})
	if err := conn.WriteJSON(map[string]any{"msg": "send_data"}); err != nil {
		return
	}
	var body predictBody
	if err := conn.ReadJSON(&body); err != nil {
		return
	}
	_ = conn.WriteJSON(map[string]any{"msg": "process_starts"})

	out, err := s.invoke(e, body.Data, "ws")
	_ = conn.WriteJSON(completion("", out, err))
}

// handleUpload сохраняет файлы из поля files и возвращает их пути на сервере.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	headers := r.MultipartForm.File["files"]
	paths := make([]string, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		p, err := s.saveFile(filepath.Base(fh.Filename), src)
		_ = src.Close()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
			return
		}
		paths = append(paths, p)
	}
	writeJSON(w, http.StatusOK, paths)
}

// handleFile отдаёт файлы только из папки загрузок.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	p := filepath.Clean(chi.URLParam(r, "*"))
	root, err := filepath.Abs(s.uploadDir)
	if err != nil {
		notFound(w)
		return
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		notFound(w)
		return
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "File not allowed"})
		return
	}
	http.ServeFile(w, r, abs)
}

// PutFile кладёт файл в папку загрузок и возвращает его описание для выхода функции.
func (s *Server) PutFile(name string, content []byte) (map[string]any, error) {
	p, err := s.saveFile(name, bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(s.protocol, "sse") {
		return map[string]any{"name": p, "is_file": true, "data": nil, "orig_name": name}, nil
	}
	return map[string]any{
		"path":      p,
		"url":       nil,
		"orig_name": name,
		"meta":      map[string]any{"_type": "gradio.FileData"},
	}, nil
}

func (s *Server) saveFile(name string, src io.Reader) (string, error) {
	dir := filepath.Join(s.uploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return filepath.Abs(p)
}

// completion — сообщение process_completed очереди.
func completion(eventID string, out []any, err error) map[string]any {
	m := map[string]any{"msg": "process_completed"}
	if eventID != "" {
		m["event_id"] = eventID
	}
	if err != nil {
		m["success"] = false
		m["output"] = map[string]any{"error": err.Error()}
		return m
	}
	m["success"] = true
	m["output"] = map[string]any{"data": outputs(out), "is_generating": false}
	return m
}

func newEventID() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

func outputs(out []any) []any {
	if out == nil {
		return []any{}
	}
	return out
}
