package main

import (
	"GradioClient/internal/ai"
	"GradioClient/internal/app/requester"
	"GradioClient/internal/config"
	"GradioClient/internal/gradio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"go.uber.org/zap"
)

// Минимальный клиент к модели, запущенной через Pinokio (SDXL Turbo на Gradio).
// Параметры вызова конкретного приложения — на вкладке API внизу интерфейса Gradio.
// Пример запуска:
//
//	go run ./cmd/sdxl-turbo -prompt "A pig with wings"
func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.NewConfig()
	// создаём предустановленный регистратор zap
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// делаем регистратор SugaredLogger
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow(
		"Starting app",
		"DebugMode", cfg.DebugMode,
		"url", cfg.Gradio.URL,
		"api_name", cfg.Gradio.APIName,
	)

	var client ai.Client
	if cfg.DryRun {
		// Инициализируем вариант заглушку: сеть не нужна
		client = ai.NewStubClient(cfg.StubServer.Response)
	} else {
		gc, err := gradio.New(ctx, cfg.Gradio.URL,
			gradio.WithTimeout(cfg.Gradio.HTTPTimeout),
			gradio.WithProtocol(cfg.Gradio.Protocol),
			gradio.WithHFToken(cfg.Gradio.HFToken),
			gradio.WithDownloadDir(cfg.DownloadDir),
			gradio.WithLogger(sugar),
		)
		if err != nil {
			sugar.Errorw("failed to connect", "url", cfg.Gradio.URL, "error", err)
			return 1
		}
		client = ai.NewGradioClient(gc, cfg.Gradio.APIName)
	}

	req := requester.New(cfg, client, sugar)

	if cfg.Interactive {
		if err := console(ctx, req, sugar); err != nil {
			sugar.Errorw("console failed", "error", err)
			return 1
		}
		return 0
	}

	resp, err := req.RunOnce(ctx, cfg.Prompt)
	if err != nil {
		sugar.Errorw("predict failed", "error", err)
		return 1
	}
	fmt.Println(resp)
	return 0
}

// console читает промпты построчно и отправляет каждый отдельным запросом.
func console(ctx context.Context, req *requester.Requester, sugar *zap.SugaredLogger) error {
	rl, err := readline.New("prompt> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()
	// Ctrl+C во время запроса: закрываем консоль, Readline вернёт ошибку
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF, readline.ErrInterrupt
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		resp, err := req.RunOnce(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			sugar.Errorw("predict failed", "prompt", line, "error", err)
			continue
		}
		fmt.Println(resp)
	}
}
