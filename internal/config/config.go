package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	LLMModel        string  `yaml:"llm_model"`
	LLMTemperature  float64 `yaml:"llm_temperature"`
	LLMMaxTokens    int     `yaml:"llm_max_tokens"`
	LLMTimeoutSecs  int     `yaml:"llm_timeout_seconds"`
	LLMRatePerSec   float64 `yaml:"llm_rate_per_second"`
	LLMRateBurst    int     `yaml:"llm_rate_burst"`

	DBPath string `yaml:"db_path"`

	SelectorCacheTTLSecs int `yaml:"selector_cache_ttl_seconds"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackAlertsChan string `yaml:"slack_alerts_channel"`

	DigestCronSpec     string `yaml:"digest_cron_spec"`
	EmailRetryCronSpec string `yaml:"email_retry_cron_spec"`
	DigestRecipient    string `yaml:"digest_recipient"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideInt(&cfg.LLMTimeoutSecs, "LLM_TIMEOUT_SECONDS")
	envOverrideFloat(&cfg.LLMRatePerSec, "LLM_RATE_PER_SECOND")
	envOverrideInt(&cfg.LLMRateBurst, "LLM_RATE_BURST")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.SelectorCacheTTLSecs, "SELECTOR_CACHE_TTL_SECONDS")
	envOverride(&cfg.SMTPHost, "SMTP_HOST")
	envOverrideInt(&cfg.SMTPPort, "SMTP_PORT")
	envOverride(&cfg.SMTPUsername, "SMTP_USERNAME")
	envOverride(&cfg.SMTPPassword, "SMTP_PASSWORD")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAlertsChan, "SLACK_ALERTS_CHANNEL")
	envOverride(&cfg.DigestCronSpec, "DIGEST_CRON_SPEC")
	envOverride(&cfg.EmailRetryCronSpec, "EMAIL_RETRY_CRON_SPEC")
	envOverride(&cfg.DigestRecipient, "DIGEST_RECIPIENT")

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.LLMTemperature == 0 {
		cfg.LLMTemperature = 0.3
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 1024
	}
	if cfg.LLMTimeoutSecs == 0 {
		cfg.LLMTimeoutSecs = 30
	}
	if cfg.LLMRatePerSec == 0 {
		cfg.LLMRatePerSec = 5
	}
	if cfg.LLMRateBurst == 0 {
		cfg.LLMRateBurst = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./dealerpilot.db"
	}
	if cfg.SelectorCacheTTLSecs == 0 {
		cfg.SelectorCacheTTLSecs = 30
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.DigestCronSpec == "" {
		cfg.DigestCronSpec = "0 8 * * *"
	}
	if cfg.EmailRetryCronSpec == "" {
		cfg.EmailRetryCronSpec = "*/15 * * * *"
	}

	if cfg.AnthropicAPIKey == "" {
		log.Fatalf("Required config 'anthropic_api_key' is not set (via config.yaml or env var)")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 1 {
		log.Fatalf("invalid llm_temperature '%f': must be between 0 and 1", cfg.LLMTemperature)
	}
	if cfg.LLMMaxTokens < 1 {
		log.Fatalf("invalid llm_max_tokens '%d': must be >= 1", cfg.LLMMaxTokens)
	}
	if cfg.SelectorCacheTTLSecs < 0 {
		log.Fatalf("invalid selector_cache_ttl_seconds '%d': must be >= 0", cfg.SelectorCacheTTLSecs)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
