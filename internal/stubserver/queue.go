package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// sendDataTimeout — сколько поток sse 4.0 ждёт POST /queue/data.
const sendDataTimeout = 30 * time.Second

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher}
}

// send пишет событие; пустое имя — только строка data:, как в потоках очереди.
func (e *eventStream) send(event string, payload any) {
	b, _ := json.Marshal(payload)
	if event != "" {
		_, _ = fmt.Fprintf(e.w, "event: %s\n", event)
	}
	_, _ = fmt.Fprintf(e.w, "data: %s\n\n", b)
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// handleQueueJoin: GET /queue/join — websocket для ws, поток событий для sse 4.0.
func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	switch {
	case s.protocol == "ws":
		s.handleQueueWS(w, r)
	case s.sseFlow() == flowStream:
		s.handleQueueStream(w, r)
	default:
		notFound(w)
	}
}

// handleQueueStream просит данные сообщением send_data и ждёт их в POST /queue/data.
func (s *Server) handleQueueStream(w http.ResponseWriter, r *http.Request) {
	fnIndex, err := strconv.Atoi(r.URL.Query().Get("fn_index"))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "fn_index required"})
		return
	}
	e, ok := s.byIndex(fnIndex)
	if !ok {
		notFound(w)
		return
	}

	id := newEventID()
	ch := make(chan []any, 1)
	s.mu.Lock()
	s.waiting[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, id)
		s.mu.Unlock()
	}()

	stream := newEventStream(w)
	stream.send("", map[string]any{"msg": "estimation", "event_id": id, "rank": 0, "queue_size": 1})
	stream.send("", map[string]any{"msg": "send_data", "event_id": id})

	var data []any
	select {
	case data = <-ch:
	case <-r.Context().Done():
		return
	case <-time.After(sendDataTimeout):
		stream.send("", map[string]any{"msg": "unexpected_error", "event_id": id, "message": "no data received"})
		return
	}

	stream.send("", map[string]any{"msg": "process_starts", "event_id": id})
	out, err := s.invoke(e, data, "sse")
	stream.send("", completion(id, out, err))
}

// handleQueueSend: POST /queue/data — аргументы для события, открытого handleQueueStream.
func (s *Server) handleQueueSend(w http.ResponseWriter, r *http.Request) {
	if s.sseFlow() != flowStream {
		notFound(w)
		return
	}
	var body predictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	ch, ok := s.waiting[body.EventID]
	delete(s.waiting, body.EventID)
	s.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	ch <- body.Data
	writeJSON(w, http.StatusOK, map[string]string{"msg": "success"})
}

// handleQueueSubmit: POST /queue/join (sse_v1, sse_v2) ставит вызов в очередь сессии.
func (s *Server) handleQueueSubmit(w http.ResponseWriter, r *http.Request) {
	if s.sseFlow() != flowQueue {
		notFound(w)
		return
	}
	var body predictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	if body.FnIndex == nil || body.SessionHash == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "fn_index and session_hash required"})
		return
	}
	if _, ok := s.byIndex(*body.FnIndex); !ok {
		notFound(w)
		return
	}

	id := newEventID()
	s.mu.Lock()
	s.events[id] = pendingEvent{fnIndex: *body.FnIndex, data: body.Data, session: body.SessionHash}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"event_id": id})
}

// handleQueueData: GET /queue/data — поток сессии, выполняет все её ожидающие вызовы.
func (s *Server) handleQueueData(w http.ResponseWriter, r *http.Request) {
	if s.sseFlow() != flowQueue {
		notFound(w)
		return
	}
	session := r.URL.Query().Get("session_hash")

	type queued struct {
		id string
		ev pendingEvent
	}
	var pending []queued
	s.mu.Lock()
	for id, ev := range s.events {
		if session != "" && ev.session == session {
			pending = append(pending, queued{id: id, ev: ev})
			delete(s.events, id)
		}
	}
	s.mu.Unlock()
	if len(pending) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found."})
		return
	}

	stream := newEventStream(w)
	stream.send("", map[string]any{"msg": "heartbeat"})
	for i, q := range pending {
		stream.send("", map[string]any{"msg": "estimation", "event_id": q.id, "rank": i, "queue_size": len(pending)})
	}
	for _, q := range pending {
		e, ok := s.byIndex(q.ev.fnIndex)
		if !ok {
			stream.send("", map[string]any{"msg": "unexpected_error", "event_id": q.id, "message": "unknown fn_index"})
			continue
		}
		stream.send("", map[string]any{"msg": "process_starts", "event_id": q.id})
		out, err := s.invoke(e, q.ev.data, "sse")
		stream.send("", completion(q.id, out, err))
	}
}
