package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/token_stream/dataset"
	"github.com/wbrown/token_stream/resources"
)

func writeConfig(t *testing.T, name string, body string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadLayersFilesAndOverrides(t *testing.T) {
	yamlPath := writeConfig(t, "run.yaml", `
base_url: s3://corpus/fineweb
max_shard: 9
batch_size: 4
uint32: true
`)
	jsonPath := writeConfig(t, "run.json", `{"batch_size": 2, "seq_len": 64}`)

	cfg, err := Load(Defaults(), []string{yamlPath, jsonPath},
		[]string{"--num-workers=16", "split=val", "rank=3", "world_size=8"})
	require.NoError(t, err)
	assert.Equal(t, "s3://corpus/fineweb", cfg.BaseURL)
	assert.Equal(t, 9, cfg.MaxShard)
	assert.Equal(t, 2, cfg.BatchSize)
	assert.Equal(t, 64, cfg.SeqLen)
	assert.True(t, cfg.Uint32)
	assert.Equal(t, 16, cfg.NumWorkers)
	assert.Equal(t, dataset.SplitVal, cfg.Split)
	assert.Equal(t, "gpt2", cfg.Tokenizer, "defaults survive")
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, resources.ShardConfig{BaseURL: "s3://corpus/fineweb",
		MaxShard: 9}, cfg.ShardConfig())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "run.yml", "batch_size: 4\nlearning_rate: 0.1\n")
	_, err := Load(Defaults(), []string{path}, nil)
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = Load(Defaults(), nil, []string{"learning_rate=0.1"})
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestLoadRejectsTypeMismatches(t *testing.T) {
	path := writeConfig(t, "run.yaml", "batch_size: lots\n")
	_, err := Load(Defaults(), []string{path}, nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	for _, override := range []string{"seq_len=1.5", "uint32=maybe",
		"max_shard=", "batch_size=2.0", "num_workers=[1]"} {
		_, err = Load(Defaults(), nil, []string{override})
		assert.ErrorIs(t, err, ErrTypeMismatch, override)
	}
}

func TestLoadRejectsFractionalIntegers(t *testing.T) {
	for name, body := range map[string]string{
		"run.yaml": "split: val\nbatch_size: 2.9\n",
		"run.json": `{"seq_len": 1.5}`,
	} {
		path := writeConfig(t, name, body)
		cfg, err := Load(Defaults(), []string{path}, nil)
		assert.ErrorIs(t, err, ErrTypeMismatch, name)
		assert.Equal(t, Defaults().BatchSize, cfg.BatchSize, name)
		assert.Equal(t, Defaults().SeqLen, cfg.SeqLen, name)
	}

	cfg, err := Load(Defaults(), nil, []string{"seq_len=1.5"})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, Defaults().SeqLen, cfg.SeqLen)

	cfg, err = Load(Defaults(), nil, []string{"seq_len=16", "batch_size=3"})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.SeqLen)
	assert.Equal(t, 3, cfg.BatchSize)
}

func TestLoadRejectsFormatsAndMissingFiles(t *testing.T) {
	path := writeConfig(t, "run.toml", "batch_size = 4\n")
	_, err := Load(Defaults(), []string{path}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(Defaults(), []string{filepath.Join(t.TempDir(),
		"absent.yaml")}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(Defaults(), nil, []string{"batch_size"})
	assert.ErrorIs(t, err, ErrMalformedOverride)
}

func TestEmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "")
	cfg, err := Load(Defaults(), []string{path}, nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestStringOverridesKeepRawValue(t *testing.T) {
	cfg, err := Load(Defaults(), nil, []string{
		"base_url=https://example.com/data?x=1", "val_shard=00042",
		"data_dir="})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/data?x=1", cfg.BaseURL)
	assert.Equal(t, "00042", cfg.ValShard)
	assert.Equal(t, "", cfg.DataDir)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.MaxShard = -1
	assert.ErrorIs(t, bad.Validate(), resources.ErrInvalidConfig)

	bad = cfg
	bad.Split = "test"
	assert.ErrorIs(t, bad.Validate(), dataset.ErrInvalidSplit)

	bad = cfg
	bad.SeqLen = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRunConfig)
}
