package main

import (
	"GradioClient/internal/config"
	"GradioClient/internal/stubserver"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Локальная заглушка приложения Gradio: /predict возвращает фиксированный ответ
// и печатает в лог полученные аргументы. Нужна, чтобы проверить клиент без модели.
//
//	go run ./cmd/stub-server -stub-response ok -stub-protocol ws
func main() {
	cfg := config.NewConfig()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	defer func() {
		_ = logger.Sync()
	}()

	srv := stubserver.New(
		stubserver.WithProtocol(cfg.StubServer.Protocol),
		stubserver.WithLogger(sugar),
	)
	srv.Register("/predict", stubserver.Const(cfg.StubServer.Response))

	// Graceful shutdown on Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.StubServer.BindAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorw("server error", "error", err)
		os.Exit(1)
	}
}
