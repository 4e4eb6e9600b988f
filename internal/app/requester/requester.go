package requester

import (
	"GradioClient/internal/ai"
	"GradioClient/internal/config"
	"GradioClient/internal/service/files"
	"context"
	"time"

	"go.uber.org/zap"
)

type Requester struct {
	cfg     *config.Config
	client  ai.Client
	cleaner *files.Cleaner
	logger  *zap.SugaredLogger
}

func New(cfg *config.Config, client ai.Client, logger *zap.SugaredLogger) *Requester {
	return &Requester{
		cfg:     cfg,
		client:  client,
		cleaner: files.NewCleaner(logger),
		logger:  logger,
	}
}

// RunOnce выполняет сценарий «Послать запрос» один раз: промпт + картинка из конфига.
func (r *Requester) RunOnce(ctx context.Context, prompt string) (string, error) {
	// Перед отправкой уберём старые результаты прошлых запусков
	r.cleaner.Clean(r.cfg.DownloadDir, r.cfg.DownloadTTL, r.cfg.DebugMode)

	start := time.Now()
	r.logger.Infow("Отправка..", "prompt", prompt, "image", r.cfg.Image, "api_name", r.cfg.Gradio.APIName)
	resp, err := r.client.SendRequest(ctx, prompt, r.cfg.Image)
	if err != nil {
		return "", err
	}
	r.logger.Infow("Ответ получен", "duration", time.Since(start).String())
	return resp, nil
}
