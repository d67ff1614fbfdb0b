package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAlgorithm              = "HS256"
	defaultAccessTokenExpireHours = 24
	defaultImageBaseURL           = "/images"
	defaultMaxImageBytes          = 5 << 20
	defaultImageURLExpiryMinutes  = 15
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	SecretKey                  string   `yaml:"secretKey"`
	Algorithm                  string   `yaml:"algorithm"`
	AccessTokenExpireHours     int      `yaml:"accessTokenExpireHours"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	ImageBaseURL               string   `yaml:"imageBaseURL"`
	ImageDir                   string   `yaml:"imageDir"`
	MaxImageBytes              int64    `yaml:"maxImageBytes"`
	MinioEndpoint              string   `yaml:"minioEndpoint"`
	MinioAccessKey             string   `yaml:"minioAccessKey"`
	MinioSecretKey             string   `yaml:"minioSecretKey"`
	MinioBucket                string   `yaml:"minioBucket"`
	MinioUseSSL                bool     `yaml:"minioUseSSL"`
	ImageURLExpiryMinutes      int      `yaml:"imageUrlExpiryMinutes"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("ALGORITHM"); v != "" {
		cfg.Algorithm = strings.TrimSpace(v)
	}
	if err := envInt("ACCESS_TOKEN_EXPIRE_HOURS", &cfg.AccessTokenExpireHours); err != nil {
		return err
	}
	if v := os.Getenv("BOOKSTORE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BOOKSTORE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if err := envInt("BOOKSTORE_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute); err != nil {
		return err
	}
	if err := envInt("BOOKSTORE_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute); err != nil {
		return err
	}
	if v := os.Getenv("BOOKSTORE_IMAGE_BASE_URL"); v != "" {
		cfg.ImageBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOKSTORE_IMAGE_DIR"); v != "" {
		cfg.ImageDir = strings.TrimSpace(v)
	}
	if v := os.Getenv("BOOKSTORE_MAX_IMAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid BOOKSTORE_MAX_IMAGE_BYTES %q", v)
		}
		cfg.MaxImageBytes = n
	}
	if err := envInt("BOOKSTORE_IMAGE_URL_EXPIRE_MINUTES", &cfg.ImageURLExpiryMinutes); err != nil {
		return err
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: invalid %s %q", name, v)
	}
	*dst = n
	return nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = defaultAlgorithm
	}
	if cfg.AccessTokenExpireHours == 0 {
		cfg.AccessTokenExpireHours = defaultAccessTokenExpireHours
	}
	if cfg.ImageBaseURL == "" {
		cfg.ImageBaseURL = defaultImageBaseURL
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.ImageURLExpiryMinutes == 0 {
		cfg.ImageURLExpiryMinutes = defaultImageURLExpiryMinutes
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported algorithm %q (HS256, HS384 or HS512)", cfg.Algorithm)
	}
	if cfg.AccessTokenExpireHours < 0 {
		return errors.New("config: accessTokenExpireHours must be > 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.LoginRateLimitPerMinute > 0 || cfg.RegisterRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when rate limits are enabled")
	}
	if cfg.MaxImageBytes < 0 {
		return errors.New("config: maxImageBytes must be >= 0")
	}
	if cfg.MinioEndpoint != "" && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "") {
		return errors.New("config: minioAccessKey, minioSecretKey and minioBucket are required with minioEndpoint")
	}
	if cfg.ImageURLExpiryMinutes < 0 || cfg.ImageURLExpiryMinutes > 7*24*60 {
		return errors.New("config: imageUrlExpiryMinutes must be between 1 and 10080")
	}
	return nil
}

// AccessTokenTTL converts the configured hours into a duration.
func (c FileConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireHours) * time.Hour
}

// ImageURLExpiry is how long pre-signed cover links stay valid.
func (c FileConfig) ImageURLExpiry() time.Duration {
	return time.Duration(c.ImageURLExpiryMinutes) * time.Minute
}

// ImageStorageEnabled reports whether cover uploads have a backend.
func (c FileConfig) ImageStorageEnabled() bool {
	return c.MinioEndpoint != "" || c.ImageDir != ""
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
