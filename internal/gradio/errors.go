package gradio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrEndpointNotFound = errors.New("gradio: endpoint not found")
	ErrQueueFull        = errors.New("gradio: queue is full")

	// сервер закрыл поток очереди, не завершив событие
	errClosedStream = errors.New("gradio: queue stream closed by server")
)

// AppError — ошибка, которую вернуло само приложение (исключение в функции на стороне сервера).
type AppError struct {
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return "gradio: the upstream app raised an error"
	}
	return "gradio: app error: " + e.Message
}

// StatusError — ответ сервера с кодом вне 2xx.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gradio: status=%d, body=%s", e.Code, e.Body)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if len(b) == 0 {
		b = []byte(resp.Status)
	}
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
}

// appErrorFrom строит AppError из поля error ответа: строка, null или что-то ещё.
func appErrorFrom(v any) *AppError {
	switch m := v.(type) {
	case nil:
		return &AppError{}
	case string:
		return &AppError{Message: m}
	default:
		return &AppError{Message: fmt.Sprint(m)}
	}
}
