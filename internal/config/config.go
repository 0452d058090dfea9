package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds tunables shared by the codec services
type Config struct {
	ChunkSize             int    `mapstructure:"chunk_size" json:"chunk_size" yaml:"chunk_size"`
	SearchBufferSize      int    `mapstructure:"search_buffer_size" json:"search_buffer_size" yaml:"search_buffer_size"`
	MaxSearchResults      int    `mapstructure:"max_search_results" json:"max_search_results" yaml:"max_search_results"`
	DefaultPageSize       uint32 `mapstructure:"default_page_size" json:"default_page_size" yaml:"default_page_size"`
	DecompressAllRamdisks bool   `mapstructure:"decompress_all_ramdisks" json:"decompress_all_ramdisks" yaml:"decompress_all_ramdisks"`
	CacheBlockSize        int    `mapstructure:"cache_block_size" json:"cache_block_size" yaml:"cache_block_size"`
	CacheBlocks           int    `mapstructure:"cache_blocks" json:"cache_blocks" yaml:"cache_blocks"`
	ExtractWorkers        int    `mapstructure:"extract_workers" json:"extract_workers" yaml:"extract_workers"`
	LogLevel              string `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
}

const (
	defaultChunkSize      = 1 << 20
	defaultSearchBuffer   = 1 << 20
	defaultMaxResults     = 1000
	defaultPageSize       = 4096
	defaultCacheBlockSize = 64 * 1024
	defaultCacheBlocks    = 128
	defaultExtractWorkers = 4

	// A FILL chunk repeats a 4 byte word
	minChunkSize = 4
	// Smallest power of two that holds every v0-v2 boot header
	minPageSize = 2048
)

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ChunkSize:        defaultChunkSize,
		SearchBufferSize: defaultSearchBuffer,
		MaxSearchResults: defaultMaxResults,
		DefaultPageSize:  defaultPageSize,
		CacheBlockSize:   defaultCacheBlockSize,
		CacheBlocks:      defaultCacheBlocks,
		ExtractWorkers:   defaultExtractWorkers,
		LogLevel:         "info",
	}
}

// Load reads configuration from droidimg-config.yaml (or the explicit file
// when path is set) and DROIDIMG_* environment variables on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("droidimg-config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.droidimg")
		v.AddConfigPath("/etc/droidimg")
	}

	v.SetDefault("chunk_size", defaultChunkSize)
	v.SetDefault("search_buffer_size", defaultSearchBuffer)
	v.SetDefault("max_search_results", defaultMaxResults)
	v.SetDefault("default_page_size", defaultPageSize)
	v.SetDefault("decompress_all_ramdisks", false)
	v.SetDefault("cache_block_size", defaultCacheBlockSize)
	v.SetDefault("cache_blocks", defaultCacheBlocks)
	v.SetDefault("extract_workers", defaultExtractWorkers)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("DROIDIMG")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks that sizes are usable
func (c *Config) Validate() error {
	if c.ChunkSize < minChunkSize {
		return fmt.Errorf("chunk_size must be at least %d bytes, got %d", minChunkSize, c.ChunkSize)
	}
	if c.SearchBufferSize <= 0 {
		return fmt.Errorf("search_buffer_size must be positive, got %d", c.SearchBufferSize)
	}
	if c.DefaultPageSize < minPageSize || c.DefaultPageSize&(c.DefaultPageSize-1) != 0 {
		return fmt.Errorf("default_page_size must be a power of two of at least %d, got %d", minPageSize, c.DefaultPageSize)
	}
	if c.CacheBlockSize <= 0 || c.CacheBlocks <= 0 {
		return fmt.Errorf("cache_block_size and cache_blocks must be positive")
	}
	if c.ExtractWorkers <= 0 {
		return fmt.Errorf("extract_workers must be positive, got %d", c.ExtractWorkers)
	}
	return nil
}
