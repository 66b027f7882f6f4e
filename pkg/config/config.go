// Package config loads the reage configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/blend"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/pipeline"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/storage"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

type Config struct {
	Pipeline PipelineConfig      `yaml:"pipeline"`
	Model    ModelConfig         `yaml:"model"`
	Storage  storage.MinioConfig `yaml:"storage"`
	Queue    QueueConfig         `yaml:"queue"`
	Kube     KubeConfig          `yaml:"kube"`
	Logging  LoggingConfig       `yaml:"logging"`
}

// PipelineConfig mirrors pipeline.Options in serialisable form.
type PipelineConfig struct {
	WindowSize   int    `yaml:"window_size"`
	Stride       int    `yaml:"stride"`
	Workers      int    `yaml:"workers"`      // 0 uses GOMAXPROCS
	Blend        string `yaml:"blend"`        // uniform, linear
	TileTimeout  string `yaml:"tile_timeout"` // e.g. "30s"; empty disables
	FrameWorkers int    `yaml:"frame_workers"`
	FramePolicy  string `yaml:"frame_policy"` // abort, keep_original
}

type ModelConfig struct {
	Backend  string `yaml:"backend"` // identity, wasm
	WasmPath string `yaml:"wasm_path"`
	VMPool   int    `yaml:"vm_pool"`
	// Serialize forces one tile at a time on the backend.
	Serialize bool `yaml:"serialize"`
}

type QueueConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
	Group  string `yaml:"group"`
	Block  string `yaml:"block"`
}

type KubeConfig struct {
	Kubeconfig  string `yaml:"kubeconfig"`
	Namespace   string `yaml:"namespace"`
	Image       string `yaml:"image"`
	ModelBucket string `yaml:"model_bucket"`
	SecretName  string `yaml:"secret_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			WindowSize:   tile.DefaultWindow,
			Stride:       tile.DefaultStride,
			Blend:        "uniform",
			FrameWorkers: 2,
			FramePolicy:  "abort",
		},
		Model: ModelConfig{
			Backend: "identity",
			VMPool:  1,
		},
		Storage: storage.MinioConfig{
			Endpoint: "http://localhost:9000",
			Region:   "us-east-1",
			Bucket:   "faces",
		},
		Queue: QueueConfig{
			Addr:  "localhost:6379",
			Block: "5s",
		},
		Kube: KubeConfig{
			Namespace:   "default",
			ModelBucket: "http://minio.default.svc:9000/models",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnvOverrides() {
	c.Pipeline.WindowSize = getEnvInt("WINDOW_SIZE", c.Pipeline.WindowSize)
	c.Pipeline.Stride = getEnvInt("STRIDE", c.Pipeline.Stride)
	c.Pipeline.Workers = getEnvInt("MAX_WORKERS", c.Pipeline.Workers)
	c.Pipeline.FrameWorkers = getEnvInt("FRAME_WORKERS", c.Pipeline.FrameWorkers)
	c.Pipeline.FramePolicy = getEnv("FRAME_POLICY", c.Pipeline.FramePolicy)
	if p := os.Getenv("WASM_MODEL"); p != "" {
		c.Model.WasmPath = p
		c.Model.Backend = "wasm"
	}
	c.Storage.Endpoint = getEnv("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnv("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = getEnv("MINIO_BUCKET", c.Storage.Bucket)
	c.Queue.Addr = getEnv("REDIS_ADDR", c.Queue.Addr)
	c.Kube.Namespace = getEnv("KUBE_NAMESPACE", c.Kube.Namespace)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if _, err := c.PipelineOptions(nil); err != nil {
		return err
	}
	switch c.Model.Backend {
	case "identity":
	case "wasm":
		if c.Model.WasmPath == "" {
			return errors.New("model.wasm_path is required for the wasm backend")
		}
		if c.Model.VMPool <= 0 {
			return fmt.Errorf("model.vm_pool must be positive, got %d", c.Model.VMPool)
		}
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	return nil
}

// PipelineOptions converts the pipeline section, attaching logger.
func (c *Config) PipelineOptions(logger *zap.Logger) (pipeline.Options, error) {
	p := c.Pipeline
	if p.WindowSize <= 0 || p.Stride <= 0 {
		return pipeline.Options{}, fmt.Errorf("%w: window_size=%d stride=%d", tile.ErrInvalidGridParameters, p.WindowSize, p.Stride)
	}
	policy, err := blend.ParsePolicy(p.Blend)
	if err != nil {
		return pipeline.Options{}, err
	}
	framePolicy, err := pipeline.ParseFramePolicy(p.FramePolicy)
	if err != nil {
		return pipeline.Options{}, err
	}
	var timeout time.Duration
	if p.TileTimeout != "" {
		timeout, err = time.ParseDuration(p.TileTimeout)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("pipeline.tile_timeout: %w", err)
		}
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return pipeline.Options{
		Window:       p.WindowSize,
		Stride:       p.Stride,
		Workers:      workers,
		Policy:       policy,
		TileTimeout:  timeout,
		FrameWorkers: p.FrameWorkers,
		FramePolicy:  framePolicy,
		Logger:       logger,
	}, nil
}

// QueueBlock is how long a worker waits on an empty queue.
func (c *Config) QueueBlock() time.Duration {
	d, err := time.ParseDuration(c.Queue.Block)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
