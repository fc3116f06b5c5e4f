package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/openlabel/annostore/anno"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Annostore AnnostoreConfig `mapstructure:"annostore"`
}

// AnnostoreConfig stores annostore specific configurations.
type AnnostoreConfig struct {
	LibraryDir string          `mapstructure:"libraryDir"`
	MediaDir   string          `mapstructure:"mediaDir"`
	Workers    int             `mapstructure:"workers"`
	Embedding  EmbeddingConfig `mapstructure:"embedding"`
}

// EmbeddingConfig stores embedding precompute settings.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Dims      int    `mapstructure:"dims"`
	ModelPath string `mapstructure:"modelPath"`
	BatchSize int    `mapstructure:"batchSize"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("annostore.libraryDir", internal.DefaultLibraryDir)
	viper.SetDefault("annostore.mediaDir", internal.DefaultMediaDir)
	viper.SetDefault("annostore.workers", 4)
	viper.SetDefault("annostore.embedding.provider", "hash")
	viper.SetDefault("annostore.embedding.dims", 384)
	viper.SetDefault("annostore.embedding.batchSize", 16)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. annostore.embedding.dims becomes ANNOSTORE_EMBEDDING_DIMS

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &AppConfig, nil
}
