package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type PipelineConfig struct {
	MinPhotos      int           `yaml:"min_photos"`
	MaxPhotos      int           `yaml:"max_photos"`
	MaxPhotoSizeMB int           `yaml:"max_photo_size_mb"`
	MaxImageDim    int           `yaml:"max_image_dim"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	ThumbnailDim   int           `yaml:"thumbnail_dim"`
	WorkerCount    int           `yaml:"worker_count"`
	ProgressStride int           `yaml:"progress_stride"`
	PresignExpiry  time.Duration `yaml:"presign_expiry"`
}

type EngineConfig struct {
	TrainCommand    string `yaml:"train_command"`
	GenerateCommand string `yaml:"generate_command"`
	WorkDir         string `yaml:"work_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Pipeline.MinPhotos == 0 {
		cfg.Pipeline.MinPhotos = 3
	}
	if cfg.Pipeline.MaxPhotos == 0 {
		cfg.Pipeline.MaxPhotos = 30
	}
	if cfg.Pipeline.MaxPhotoSizeMB == 0 {
		cfg.Pipeline.MaxPhotoSizeMB = 15
	}
	if cfg.Pipeline.MaxImageDim == 0 {
		cfg.Pipeline.MaxImageDim = 1024
	}
	if cfg.Pipeline.JPEGQuality == 0 {
		cfg.Pipeline.JPEGQuality = 95
	}
	if cfg.Pipeline.ThumbnailDim == 0 {
		cfg.Pipeline.ThumbnailDim = 256
	}
	if cfg.Pipeline.WorkerCount == 0 {
		cfg.Pipeline.WorkerCount = 2
	}
	if cfg.Pipeline.ProgressStride == 0 {
		cfg.Pipeline.ProgressStride = 10
	}
	if cfg.Pipeline.PresignExpiry == 0 {
		cfg.Pipeline.PresignExpiry = time.Hour
	}
	if cfg.Engine.WorkDir == "" {
		cfg.Engine.WorkDir = os.TempDir()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LORAPIX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LORAPIX_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("LORAPIX_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("LORAPIX_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("LORAPIX_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("LORAPIX_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("LORAPIX_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("LORAPIX_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LORAPIX_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("LORAPIX_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("LORAPIX_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("LORAPIX_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("LORAPIX_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.WorkerCount = n
		}
	}
	if v := os.Getenv("LORAPIX_TRAIN_COMMAND"); v != "" {
		cfg.Engine.TrainCommand = v
	}
	if v := os.Getenv("LORAPIX_GENERATE_COMMAND"); v != "" {
		cfg.Engine.GenerateCommand = v
	}
}
