package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/blend"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/pipeline"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/tile"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"WINDOW_SIZE", "STRIDE", "MAX_WORKERS", "FRAME_WORKERS", "FRAME_POLICY", "WASM_MODEL",
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET",
		"REDIS_ADDR", "KUBE_NAMESPACE", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 512, cfg.Pipeline.WindowSize)
	assert.Equal(t, 256, cfg.Pipeline.Stride)
	assert.Equal(t, "identity", cfg.Model.Backend)
	require.NoError(t, cfg.Validate())

	// Unset workers resolve on the host that runs the pipeline.
	assert.Zero(t, cfg.Pipeline.Workers)
	opts, err := cfg.PipelineOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.GOMAXPROCS(0), opts.Workers)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "reage.yaml")

	cfg := DefaultConfig()
	cfg.Pipeline.Blend = "linear"
	cfg.Pipeline.TileTimeout = "45s"
	cfg.Storage.AccessKey = "minioadmin"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "linear", loaded.Pipeline.Blend)
	assert.Equal(t, "minioadmin", loaded.Storage.AccessKey)

	opts, err := loaded.PipelineOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, blend.Linear, opts.Policy)
	assert.Equal(t, 45*time.Second, opts.TileTimeout)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  stride: 128\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Pipeline.Stride)
	assert.Equal(t, 512, cfg.Pipeline.WindowSize)
	assert.Equal(t, "localhost:6379", cfg.Queue.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pipeline, cfg.Pipeline)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reage.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDOW_SIZE", "256")
	t.Setenv("STRIDE", "not-a-number")
	t.Setenv("WASM_MODEL", "/opt/model/reage.wasm")
	t.Setenv("MINIO_SECRET_KEY", "s3cret")
	t.Setenv("FRAME_POLICY", "keep_original")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Pipeline.WindowSize)
	assert.Equal(t, 256, cfg.Pipeline.Stride, "unparsable value keeps the default")
	assert.Equal(t, "wasm", cfg.Model.Backend)
	assert.Equal(t, "/opt/model/reage.wasm", cfg.Model.WasmPath)
	assert.Equal(t, "s3cret", cfg.Storage.SecretKey)

	opts, err := cfg.PipelineOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.KeepOriginal, opts.FramePolicy)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Stride = 0
	assert.ErrorIs(t, cfg.Validate(), tile.ErrInvalidGridParameters)

	cfg = DefaultConfig()
	cfg.Pipeline.Blend = "gaussian"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Pipeline.TileTimeout = "soon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Model.Backend = "wasm"
	assert.Error(t, cfg.Validate())
	cfg.Model.WasmPath = "reage.wasm"
	assert.NoError(t, cfg.Validate())

	cfg.Model.Backend = "onnx"
	assert.Error(t, cfg.Validate())
}

func TestQueueBlock(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Second, cfg.QueueBlock())
	cfg.Queue.Block = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.QueueBlock())
	cfg.Queue.Block = "bogus"
	assert.Equal(t, 5*time.Second, cfg.QueueBlock())
}
