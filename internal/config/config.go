package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Redis       RedisConfig       `yaml:"redis"`
	Vision      VisionConfig      `yaml:"vision"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Gallery     GalleryConfig     `yaml:"gallery"`
	Presence    PresenceConfig    `yaml:"presence"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Upload      UploadConfig      `yaml:"upload"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`

	// TrustedProxies lists proxy CIDRs whose X-Forwarded-For is honored
	// when resolving the client IP. Empty means the socket peer is used.
	TrustedProxies []string `yaml:"trusted_proxies"`
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

// RedisConfig is optional. When Addr is empty gallery writes are serialized
// with an in-process lock, which is only correct for a single replica.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type VisionConfig struct {
	// ONNXLibrary is the path of the ONNX Runtime shared library. Empty
	// picks the platform default name.
	ONNXLibrary        string        `yaml:"onnx_library"`
	ModelsDir          string        `yaml:"models_dir"`
	DetectionModel     string        `yaml:"detection_model"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	EmbeddingInput     string        `yaml:"embedding_input"`
	EmbeddingOutput    string        `yaml:"embedding_output"`
	EmbeddingDim       int           `yaml:"embedding_dim"`
	EmbeddingSize      int           `yaml:"embedding_size"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	MultiFacePolicy    string        `yaml:"multi_face_policy"`
	WorkerCount        int           `yaml:"worker_count"`
	ExtractTimeout     time.Duration `yaml:"extract_timeout"`
}

type MatcherConfig struct {
	Threshold float64 `yaml:"threshold"`
	// Index is "exhaustive" (default) or "hnsw".
	Index string `yaml:"index"`
}

type GalleryConfig struct {
	// Driver is "postgres" (default) or "file".
	Driver   string        `yaml:"driver"`
	FilePath string        `yaml:"file_path"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type PresenceConfig struct {
	TrustedNetworks []string `yaml:"trusted_networks"`
	TrustClientFlag bool     `yaml:"trust_client_flag"`
}

type CredentialsConfig struct {
	Secret             string        `yaml:"secret"`
	Issuer             string        `yaml:"issuer"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	ScopedTTL          time.Duration `yaml:"scoped_ttl"`
	FaceVerifiedTTL    time.Duration `yaml:"face_verified_ttl"`
	LegacyFaceVerified bool          `yaml:"legacy_face_verified"`
}

type UploadConfig struct {
	Dir         string `yaml:"dir"`
	MaxBatch    int    `yaml:"max_batch"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Credentials.Secret == "" {
		return fmt.Errorf("credentials.secret is required")
	}
	if c.Matcher.Threshold <= 0 {
		return fmt.Errorf("matcher.threshold must be positive, got %v", c.Matcher.Threshold)
	}
	switch c.Matcher.Index {
	case "exhaustive", "hnsw":
	default:
		return fmt.Errorf("matcher.index: unknown index %q", c.Matcher.Index)
	}
	switch c.Vision.MultiFacePolicy {
	case "primary", "reject":
	default:
		return fmt.Errorf("vision.multi_face_policy: unknown policy %q", c.Vision.MultiFacePolicy)
	}
	switch c.Gallery.Driver {
	case "postgres", "file":
	default:
		return fmt.Errorf("gallery.driver: unknown driver %q", c.Gallery.Driver)
	}
	return nil
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
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facecheck-uploads"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.Vision.DetectionModel == "" {
		cfg.Vision.DetectionModel = "det_10g.onnx"
	}
	if cfg.Vision.EmbeddingModel == "" {
		cfg.Vision.EmbeddingModel = "face_recognition_128.onnx"
	}
	if cfg.Vision.EmbeddingInput == "" {
		cfg.Vision.EmbeddingInput = "input"
	}
	if cfg.Vision.EmbeddingOutput == "" {
		cfg.Vision.EmbeddingOutput = "descriptor"
	}
	if cfg.Vision.EmbeddingDim == 0 {
		cfg.Vision.EmbeddingDim = 128
	}
	if cfg.Vision.EmbeddingSize == 0 {
		cfg.Vision.EmbeddingSize = 150
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.MultiFacePolicy == "" {
		cfg.Vision.MultiFacePolicy = "primary"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.ExtractTimeout == 0 {
		cfg.Vision.ExtractTimeout = 10 * time.Second
	}
	if cfg.Matcher.Threshold == 0 {
		cfg.Matcher.Threshold = 0.5
	}
	if cfg.Matcher.Index == "" {
		cfg.Matcher.Index = "exhaustive"
	}
	if cfg.Gallery.Driver == "" {
		cfg.Gallery.Driver = "postgres"
	}
	if cfg.Gallery.FilePath == "" {
		cfg.Gallery.FilePath = "data/gallery.json"
	}
	if cfg.Gallery.CacheTTL == 0 {
		cfg.Gallery.CacheTTL = 30 * time.Second
	}
	if cfg.Credentials.Issuer == "" {
		cfg.Credentials.Issuer = "facecheck"
	}
	if cfg.Credentials.SessionTTL == 0 {
		cfg.Credentials.SessionTTL = 12 * time.Hour
	}
	if cfg.Credentials.ScopedTTL == 0 {
		cfg.Credentials.ScopedTTL = 30 * time.Minute
	}
	if cfg.Credentials.FaceVerifiedTTL == 0 {
		cfg.Credentials.FaceVerifiedTTL = 2 * time.Minute
	}
	if cfg.Upload.Dir == "" {
		cfg.Upload.Dir = os.TempDir()
	}
	if cfg.Upload.MaxBatch == 0 {
		cfg.Upload.MaxBatch = 20
	}
	if cfg.Upload.MaxFileSize == 0 {
		cfg.Upload.MaxFileSize = 8 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FC_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FC_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FC_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FC_ONNX_LIB"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("FC_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("FC_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matcher.Threshold = f
		}
	}
	if v := os.Getenv("FC_GALLERY_DRIVER"); v != "" {
		cfg.Gallery.Driver = v
	}
	if v := os.Getenv("FC_TRUSTED_NETWORKS"); v != "" {
		cfg.Presence.TrustedNetworks = splitList(v)
	}
	if v := os.Getenv("FC_JWT_SECRET"); v != "" {
		cfg.Credentials.Secret = v
	}
	if v := os.Getenv("FC_UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
