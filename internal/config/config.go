package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM    LLMConfig
	Server ServerConfig
	Store  StoreConfig
	Core   CoreConfig
	Log    LogConfig
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Models       []ModelConfig `mapstructure:"models"`
}

// ModelConfig is one selectable model.
type ModelConfig struct {
	Label string `mapstructure:"label"`
	Value string `mapstructure:"value"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StoreConfig holds the sqlite settings
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// CoreConfig bounds the command core's histories and queue.
type CoreConfig struct {
	HistorySize        int `mapstructure:"history_size"`
	QueueSize          int `mapstructure:"queue_size"`
	ServiceHistorySize int `mapstructure:"service_history_size"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the yaml file named by CONFIG_PATH, or
// ./config.yaml when unset. A missing file is not an error. Environment
// variables prefixed with CHATCORE_ override file values, e.g.
// CHATCORE_LLM_API_KEY.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
	v.SetDefault("store.path", "chatcore.db")
	v.SetDefault("core.history_size", 10)
	v.SetDefault("core.queue_size", 10)
	v.SetDefault("core.service_history_size", 10)
	v.SetDefault("log.level", "info")

	v.SetConfigType("yaml")
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHATCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(config.LLM.Models) == 0 && config.LLM.Model != "" {
		config.LLM.Models = []ModelConfig{{Label: config.LLM.Model, Value: config.LLM.Model}}
	}

	return &config, nil
}
