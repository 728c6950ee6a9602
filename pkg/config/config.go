package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr       string `mapstructure:"addr"`
		CORSOrigin string `mapstructure:"cors_origin"`
	} `mapstructure:"server"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Ollama struct {
		URL            string `mapstructure:"url"`
		Model          string `mapstructure:"model"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"ollama"`
	Embedder struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"embedder"`
	Vector struct {
		DataDir string `mapstructure:"data_dir"`
	} `mapstructure:"vector"`
	Engine struct {
		Parallel bool `mapstructure:"parallel"`
	} `mapstructure:"engine"`
}

// Load reads configuration from config.yaml and the environment. A missing
// config file is tolerated so the service can run from environment variables
// and defaults alone.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.cors_origin", "http://localhost:3000")
	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.2")
	viper.SetDefault("ollama.timeout_seconds", 60)
	viper.SetDefault("embedder.url", "http://localhost:8001")
	viper.SetDefault("vector.data_dir", "./data/vectors")
	viper.SetDefault("engine.parallel", false)

	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("server.addr", "SERVER_ADDR")
	viper.BindEnv("ollama.url", "OLLAMA_URL")
	viper.BindEnv("ollama.model", "OLLAMA_MODEL")
	viper.BindEnv("embedder.url", "EMBEDDER_URL")
	viper.BindEnv("vector.data_dir", "VECTOR_DATA_DIR")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
