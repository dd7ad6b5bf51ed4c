package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage driver names understood by the uploader package.
const (
	StorageDriverMinio = "minio"
	StorageDriverS3    = "s3"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Validation  ValidationConfig  `mapstructure:"validation"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Server      ServerConfig      `mapstructure:"server"`
	Batch       BatchConfig       `mapstructure:"batch"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the fixed target parameters handed to the compressor
type CompressionConfig struct {
	MaxSizeMB        float64 `mapstructure:"max_size_mb" validate:"gt=0"`
	MaxWidthOrHeight int     `mapstructure:"max_width_or_height" validate:"gte=0"`
	InitialQuality   int     `mapstructure:"initial_quality" validate:"gte=1,lte=100"`
	MinQuality       int     `mapstructure:"min_quality" validate:"gte=1,lte=100"`
	QualityStep      int     `mapstructure:"quality_step" validate:"gte=1,lte=50"`
	MaxIterations    int     `mapstructure:"max_iterations" validate:"gte=1"`
	FileType         string  `mapstructure:"file_type" validate:"omitempty,oneof=jpeg png"`
}

// ValidationConfig contains the limits applied to incoming files
type ValidationConfig struct {
	MaxBytes      int64 `mapstructure:"max_bytes" validate:"gt=0"`
	AdvisoryBytes int64 `mapstructure:"advisory_bytes" validate:"gte=0"`
	SniffContent  bool  `mapstructure:"sniff_content"`
}

// StorageConfig contains object storage credentials and naming settings
type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=minio s3"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket" validate:"required"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	CacheControl  string `mapstructure:"cache_control"`
	ObjectPrefix  string `mapstructure:"object_prefix"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port         int   `mapstructure:"port" validate:"gte=1,lte=65535"`
	MaxUploadMiB int64 `mapstructure:"max_upload_mib" validate:"gte=1"`
}

// BatchConfig contains settings for compressing whole directories
type BatchConfig struct {
	WorkerThreads     int    `mapstructure:"worker_threads" validate:"gte=0"`
	BufferSize        int    `mapstructure:"buffer_size" validate:"gte=0"`
	DuplicateHandling string `mapstructure:"duplicate_handling" validate:"oneof=skip overwrite rename"`
	MaxFilesPerRun    int    `mapstructure:"max_files_per_run" validate:"gte=0"`
	OutputSuffix      string `mapstructure:"output_suffix"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			MaxSizeMB:        1,
			MaxWidthOrHeight: 1920,
			InitialQuality:   80,
			MinQuality:       10,
			QualityStep:      10,
			MaxIterations:    10,
		},
		Validation: ValidationConfig{
			MaxBytes:      10 * 1024 * 1024,
			AdvisoryBytes: 100 * 1024,
			SniffContent:  false,
		},
		Storage: StorageConfig{
			Driver:       StorageDriverMinio,
			Bucket:       "demo-images",
			UseSSL:       true,
			CacheControl: "3600",
			ObjectPrefix: "compressed-",
		},
		Server: ServerConfig{
			Port:         8080,
			MaxUploadMiB: 12,
		},
		Batch: BatchConfig{
			WorkerThreads:     4,
			BufferSize:        100,
			DuplicateHandling: "rename",
			OutputSuffix:      "-compressed",
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "image-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from .env, the config file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is fine, credentials may come from the real environment.
	_ = godotenv.Load()

	config := DefaultConfig()
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.image-compressor")
		v.AddConfigPath("/etc/image-compressor")
	}

	v.SetEnvPrefix("IMAGE_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnv registers every key so AutomaticEnv also applies to keys absent from the file.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"compression.max_size_mb", "compression.max_width_or_height",
		"compression.initial_quality", "compression.min_quality",
		"compression.quality_step", "compression.max_iterations", "compression.file_type",
		"validation.max_bytes", "validation.advisory_bytes", "validation.sniff_content",
		"storage.driver", "storage.endpoint", "storage.region", "storage.access_key",
		"storage.secret_key", "storage.bucket", "storage.use_ssl",
		"storage.public_base_url", "storage.cache_control", "storage.object_prefix",
		"server.port", "server.max_upload_mib",
		"batch.worker_threads", "batch.buffer_size", "batch.duplicate_handling",
		"batch.max_files_per_run", "batch.output_suffix",
		"logging.level", "logging.file_path",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverMinio
	}
	c.Batch.DuplicateHandling = strings.ToLower(strings.TrimSpace(c.Batch.DuplicateHandling))
	if c.Batch.DuplicateHandling == "" {
		c.Batch.DuplicateHandling = "rename"
	}
	c.Compression.FileType = strings.ToLower(strings.TrimPrefix(c.Compression.FileType, "image/"))
	if c.Compression.FileType == "jpg" {
		c.Compression.FileType = "jpeg"
	}

	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Compression.MinQuality > c.Compression.InitialQuality {
		return fmt.Errorf("min_quality (%d) must not exceed initial_quality (%d)",
			c.Compression.MinQuality, c.Compression.InitialQuality)
	}
	if c.Validation.AdvisoryBytes > c.Validation.MaxBytes {
		return fmt.Errorf("advisory_bytes (%d) must not exceed max_bytes (%d)",
			c.Validation.AdvisoryBytes, c.Validation.MaxBytes)
	}
	if c.Server.MaxUploadMiB<<20 <= c.Validation.MaxBytes {
		return fmt.Errorf("server max_upload_mib (%d MiB) must exceed validation max_bytes (%d)",
			c.Server.MaxUploadMiB, c.Validation.MaxBytes)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// StorageConfigured reports whether enough credentials are present to build a storage client
func (c *Config) StorageConfigured() bool {
	s := c.Storage
	if s.AccessKey == "" || s.SecretKey == "" || s.Bucket == "" {
		return false
	}
	if s.Driver == StorageDriverMinio && s.Endpoint == "" {
		return false
	}
	return true
}

// MaxOutputBytes returns the compression size target in bytes
func (c *CompressionConfig) MaxOutputBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}
