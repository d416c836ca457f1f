package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchcompose/batchcompose/pkg/types"
)

const validCompose = `
data_dir: ./state
metrics_addr: ":9090"
interval: 90s
log:
  level: debug
gateway:
  timeout: 45s
  elevated_qos: restore
policy:
  not_found_budget: 5
  backoff_initial: 3s
  backoff_max: 2m
  history_limit: 50
profiles:
  - name: l40s-2
    partition: gpu-l40s
    gpus: 2
    gpu_type: l40s
    memory_gb: 64
    cpus_per_task: 8
    time_limit: "8:00:00"
    preemptible: true
templates:
  - name: vllm
    command: python -m serving.vllm
    env:
      HF_HOME: /scratch/hf
    args:
      tensor_parallel_size: "{{.GPUs}}"
composition:
  - profile: l40s-2
    template: vllm
    instances: 2
`

func writeCompose(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batchcompose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidCompose(t *testing.T) {
	cfg, err := Load(writeCompose(t, validCompose))
	require.NoError(t, err)

	assert.Equal(t, "./state", cfg.DataDir)
	assert.Equal(t, 90*time.Second, cfg.Interval.Std())
	assert.Equal(t, 45*time.Second, cfg.Gateway.Timeout.Std())
	assert.Equal(t, "restore", cfg.Gateway.ElevatedQOS)
	assert.Equal(t, 5, cfg.Policy.NotFoundBudget)
	assert.Equal(t, 3*time.Second, cfg.Policy.BackoffInitial.Std())

	key := types.CompositionKey{ResourceProfile: "l40s-2", JobTemplate: "vllm"}
	assert.Equal(t, types.DesiredComposition{key: 2}, cfg.Desired())

	kinds := cfg.JobKinds()
	require.Len(t, kinds, 1)
	assert.Equal(t, key, kinds[0].Key)
	assert.True(t, kinds[0].Profile.Preemptible)
	assert.Equal(t, 2, kinds[0].Profile.GPUs)
	assert.Equal(t, "python -m serving.vllm", kinds[0].Template.Command)

	cc := cfg.ClusterConfig()
	assert.Equal(t, 45*time.Second, cc.GatewayTimeout)
	assert.Equal(t, 50, cc.HistoryLimit)
}

func TestLoadRejectsUnknownProfile(t *testing.T) {
	compose := `
templates:
  - name: vllm
    command: python -m serving.vllm
composition:
  - profile: nonexistent
    template: vllm
    instances: 1
`
	_, err := Load(writeCompose(t, compose))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestLoadRejectsUnknownTemplate(t *testing.T) {
	compose := `
profiles:
  - name: cpu
composition:
  - profile: cpu
    template: nonexistent
    instances: 1
`
	_, err := Load(writeCompose(t, compose))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestLoadRejectsNegativeInstances(t *testing.T) {
	compose := `
profiles:
  - name: cpu
templates:
  - name: etl
    command: python -m pipelines.etl
composition:
  - profile: cpu
    template: etl
    instances: -1
`
	_, err := Load(writeCompose(t, compose))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative instance count")
}

func TestLoadRejectsDuplicateEntries(t *testing.T) {
	compose := `
profiles:
  - name: cpu
templates:
  - name: etl
    command: python -m pipelines.etl
composition:
  - profile: cpu
    template: etl
    instances: 1
  - profile: cpu
    template: etl
    instances: 2
`
	_, err := Load(writeCompose(t, compose))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate composition entry")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeCompose(t, "interval: ninety\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
