package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Credential CredentialConfig
	Vision     VisionConfig
	OCR        OCRConfig
	Extraction ExtractionConfig
	RequestLog RequestLogConfig
	Dashboard  DashboardConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	APIKey       string
	APIKeyHeader string
	JWTSecret    string
}

type CredentialConfig struct {
	CredsJSON       string
	Scopes          []string
	RefreshMargin   time.Duration
	DefaultInterval time.Duration
}

type VisionConfig struct {
	Provider     string // "openai", "anthropic" or "ollama"
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	OpenAIKey    string
	AnthropicKey string
	OllamaURL    string
}

type OCRConfig struct {
	Language      string
	TesseractPath string
}

type ExtractionConfig struct {
	DPI            int
	WorkerPoolSize int
	MaxUploadBytes int64
}

type RequestLogConfig struct {
	Path string
}

type DashboardConfig struct {
	Path string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)

	v.SetDefault("api_key_header", "api-key")

	v.SetDefault("creds_scopes", "https://www.googleapis.com/auth/drive")
	v.SetDefault("credential_refresh_margin_seconds", 300)
	v.SetDefault("credential_default_interval_seconds", 1200)

	v.SetDefault("vision_provider", "openai")
	v.SetDefault("vision_model", "gpt-4o")
	v.SetDefault("vision_max_tokens", 300)
	v.SetDefault("vision_timeout_seconds", 60)
	v.SetDefault("ollama_url", "http://localhost:11434")

	v.SetDefault("ocr_language", "fra")
	v.SetDefault("tesseract_path", "tesseract")

	v.SetDefault("raster_dpi", 200)
	v.SetDefault("worker_pool_size", runtime.NumCPU())
	v.SetDefault("max_upload_mb", 32)

	v.SetDefault("request_log_path", "request_logs.json")
	v.SetDefault("dashboard_path", "index.html")

	v.SetDefault("rate_limit_rps", 20)
	v.SetDefault("rate_limit_burst", 40)
}

// Load reads configuration from the environment, optionally overlaid on a
// docintel.yaml found in the working directory or /etc/docintel.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	v.SetConfigName("docintel")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/docintel")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	port := v.GetInt("server_port")
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid SERVER_PORT: %d", port)
	}

	dpi := v.GetInt("raster_dpi")
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid RASTER_DPI: %d", dpi)
	}

	poolSize := v.GetInt("worker_pool_size")
	if poolSize <= 0 {
		return nil, fmt.Errorf("invalid WORKER_POOL_SIZE: %d", poolSize)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server_host"),
			Port: port,
		},
		Auth: AuthConfig{
			APIKey:       v.GetString("api_key"),
			APIKeyHeader: v.GetString("api_key_header"),
			JWTSecret:    v.GetString("auth_jwt_secret"),
		},
		Credential: CredentialConfig{
			CredsJSON:       v.GetString("creds_json"),
			Scopes:          splitList(v.GetString("creds_scopes")),
			RefreshMargin:   time.Duration(v.GetInt("credential_refresh_margin_seconds")) * time.Second,
			DefaultInterval: time.Duration(v.GetInt("credential_default_interval_seconds")) * time.Second,
		},
		Vision: VisionConfig{
			Provider:     strings.ToLower(v.GetString("vision_provider")),
			Model:        v.GetString("vision_model"),
			MaxTokens:    v.GetInt("vision_max_tokens"),
			Timeout:      time.Duration(v.GetInt("vision_timeout_seconds")) * time.Second,
			OpenAIKey:    v.GetString("openai_api_key"),
			AnthropicKey: v.GetString("anthropic_api_key"),
			OllamaURL:    v.GetString("ollama_url"),
		},
		OCR: OCRConfig{
			Language:      v.GetString("ocr_language"),
			TesseractPath: v.GetString("tesseract_path"),
		},
		Extraction: ExtractionConfig{
			DPI:            dpi,
			WorkerPoolSize: poolSize,
			MaxUploadBytes: int64(v.GetInt("max_upload_mb")) << 20,
		},
		RequestLog: RequestLogConfig{
			Path: v.GetString("request_log_path"),
		},
		Dashboard: DashboardConfig{
			Path: v.GetString("dashboard_path"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("rate_limit_rps"),
			Burst: v.GetInt("rate_limit_burst"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports every required secret that is missing.
func (c *Config) Validate() error {
	var missing []string
	if c.Auth.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if c.Credential.CredsJSON == "" {
		missing = append(missing, "CREDS_JSON")
	}
	switch c.Vision.Provider {
	case "openai":
		if c.Vision.OpenAIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "anthropic":
		if c.Vision.AnthropicKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case "ollama":
		if c.Vision.OllamaURL == "" {
			missing = append(missing, "OLLAMA_URL")
		}
	default:
		return fmt.Errorf("unsupported VISION_PROVIDER: %q", c.Vision.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
