package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DebugMode   bool          `env:"DEBUG_MODE"`   // Режим дебага: подробные логи, очистка скачанных файлов отключена
	Prompt      string        `env:"PROMPT"`       // Текст промпта
	Image       string        `env:"IMAGE"`        // Путь или URL картинки; пусто — аргумент уходит как null
	Interactive bool          `env:"INTERACTIVE"`  // Читать промпты построчно из консоли
	DryRun      bool          `env:"DRY_RUN"`      // Не ходить в сеть: ответ даёт заглушка ai.StubClient
	DownloadDir string        `env:"DOWNLOAD_DIR"` // Куда скачивать файлы-результаты
	DownloadTTL time.Duration `env:"DOWNLOAD_TTL"` // Через сколько удалять скачанные файлы; 0 — не удалять

	Gradio     GradioConfig
	StubServer StubServerConfig
}

// GradioConfig параметры подключения к приложению Gradio.
type GradioConfig struct {
	URL         string        `env:"GRADIO_URL"`      // Адрес приложения, по умолчанию локальный Pinokio
	APIName     string        `env:"GRADIO_API_NAME"` // Имя вызываемой функции, см. вкладку API внизу интерфейса
	Protocol    string        `env:"GRADIO_PROTOCOL"` // auto|sse|ws|http
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT"`    // Таймаут HTTP-запросов
	HFToken     string        `env:"HF_TOKEN"`        // Токен для приватных приложений (опционально)
}

// StubServerConfig конфигурация локальной заглушки приложения (cmd/stub-server).
type StubServerConfig struct {
	BindAddr string `env:"STUB_BIND_ADDR"`
	Protocol string `env:"STUB_PROTOCOL"` // sse_v3|ws|http
	Response string `env:"STUB_RESPONSE"` // Что возвращает /predict
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode:   false,
		Prompt:      "A pig with wings",
		Image:       "", // без картинки
		DownloadDir: "outputs",
		DownloadTTL: 0,
		Gradio: GradioConfig{
			URL:         "http://127.0.0.1:7860/",
			APIName:     "/predict",
			Protocol:    "auto",
			HTTPTimeout: 5 * time.Minute, // генерация на CPU бывает долгой
		},
		StubServer: StubServerConfig{
			BindAddr: "127.0.0.1:7860",
			Protocol: "sse_v3",
			Response: "ok",
		},
	}
}

// NewConfig загружает конфигурацию приложения из .env, окружения и os.Args.
func NewConfig() *Config {
	cfg, err := Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load собирает конфигурацию: дефолты → .env → окружение → флаги fs.
// Позиционные аргументы, если есть, склеиваются в промпт.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	_ = godotenv.Load()

	// Стартуем с дефолтов, затем перекрываем .env/окружением и флагами
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.StringVar(&cfg.Prompt, "prompt", cfg.Prompt, "текст промпта")
	fs.StringVar(&cfg.Image, "image", cfg.Image, "путь к картинке или её URL (пусто — без картинки)")
	fs.BoolVar(&cfg.Interactive, "interactive", cfg.Interactive, "читать промпты из консоли, по одному на строку")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "не подключаться к приложению, отвечать заглушкой")
	fs.StringVar(&cfg.DownloadDir, "download-dir", cfg.DownloadDir, "папка для скачанных файлов-результатов")
	fs.DurationVar(&cfg.DownloadTTL, "download-ttl", cfg.DownloadTTL, "удалять скачанные файлы старше указанного времени, напр. 24h (0 — не удалять)")
	// Gradio
	fs.StringVar(&cfg.Gradio.URL, "url", cfg.Gradio.URL, "адрес приложения Gradio")
	fs.StringVar(&cfg.Gradio.APIName, "api-name", cfg.Gradio.APIName, "имя вызываемой функции, напр. /predict")
	fs.StringVar(&cfg.Gradio.Protocol, "protocol", cfg.Gradio.Protocol, "протокол вызова: auto|sse|ws|http")
	fs.DurationVar(&cfg.Gradio.HTTPTimeout, "http-timeout", cfg.Gradio.HTTPTimeout, "таймаут HTTP-запросов, напр. 90s")
	fs.StringVar(&cfg.Gradio.HFToken, "hf-token", cfg.Gradio.HFToken, "токен Hugging Face для приватных приложений (перекрывает ENV)")
	// Заглушка
	fs.StringVar(&cfg.StubServer.BindAddr, "stub-bind-addr", cfg.StubServer.BindAddr, "адрес заглушки (cmd/stub-server)")
	fs.StringVar(&cfg.StubServer.Protocol, "stub-protocol", cfg.StubServer.Protocol, "протокол заглушки: sse_v3|ws|http")
	fs.StringVar(&cfg.StubServer.Response, "stub-response", cfg.StubServer.Response, "ответ заглушки на /predict")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		cfg.Prompt = strings.Join(fs.Args(), " ")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Gradio.URL) == "" {
		return fmt.Errorf("config: empty gradio url; set GRADIO_URL or -url")
	}
	if strings.TrimSpace(c.Gradio.APIName) == "" {
		return fmt.Errorf("config: empty api name; set GRADIO_API_NAME or -api-name")
	}
	c.Gradio.Protocol = strings.ToLower(strings.TrimSpace(c.Gradio.Protocol))
	switch c.Gradio.Protocol {
	case "", "auto", "sse", "ws", "http":
	default:
		return fmt.Errorf("config: unknown protocol %q (auto|sse|ws|http)", c.Gradio.Protocol)
	}
	switch c.StubServer.Protocol {
	case "ws", "http":
	default:
		if !strings.HasPrefix(c.StubServer.Protocol, "sse") {
			return fmt.Errorf("config: unknown stub protocol %q (sse_v3|ws|http)", c.StubServer.Protocol)
		}
	}
	return nil
}
