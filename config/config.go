package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/wbrown/token_stream/dataset"
	"github.com/wbrown/token_stream/resources"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownKey        = errors.New("unknown config key")
	ErrTypeMismatch      = errors.New("config value has the wrong type")
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrMalformedOverride = errors.New("override is not key=value")
	ErrInvalidRunConfig  = errors.New("invalid run config")
)

// RunConfig holds every setting the command line tools accept.
type RunConfig struct {
	BaseURL    string `yaml:"base_url"`
	MaxShard   int    `yaml:"max_shard"`
	DataDir    string `yaml:"data_dir"`
	NumFiles   int    `yaml:"num_files"`
	NumWorkers int    `yaml:"num_workers"`

	Split    string `yaml:"split"`
	ValShard string `yaml:"val_shard"`

	BatchSize          int    `yaml:"batch_size"`
	SeqLen             int    `yaml:"seq_len"`
	Tokenizer          string `yaml:"tokenizer"`
	TokenizerThreads   int    `yaml:"tokenizer_threads"`
	TokenizerBatchSize int    `yaml:"tokenizer_batch_size"`

	Windows int    `yaml:"windows"`
	Output  string `yaml:"output"`
	Uint32  bool   `yaml:"uint32"`
}

// launcherKeys are set by the distributed launcher and never by config.
var launcherKeys = map[string]bool{
	"rank":       true,
	"local_rank": true,
	"world_size": true,
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() RunConfig {
	shards := resources.DefaultShardConfig()
	return RunConfig{
		BaseURL:            shards.BaseURL,
		MaxShard:           shards.MaxShard,
		NumFiles:           -1,
		NumWorkers:         4,
		Split:              dataset.SplitTrain,
		BatchSize:          8,
		SeqLen:             1024,
		Tokenizer:          "gpt2",
		TokenizerThreads:   4,
		TokenizerBatchSize: 128,
		Windows:            16,
		Output:             "tokenized.chunk",
	}
}

// Load
// Starts from defaults, applies each file in order and then each
// `key=value` override. Later sources win.
func Load(defaults RunConfig, files []string, overrides []string) (
	RunConfig, error) {
	cfg := defaults
	for _, path := range files {
		if fileErr := cfg.ApplyFile(path); fileErr != nil {
			return cfg, fileErr
		}
	}
	for _, override := range overrides {
		if overrideErr := cfg.ApplyOverride(override); overrideErr != nil {
			return cfg, overrideErr
		}
	}
	return cfg, nil
}

// ApplyFile
// Decodes a `.yaml`, `.yml` or `.json` file onto cfg. Keys that are not
// RunConfig fields are rejected.
func (cfg *RunConfig) ApplyFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return readErr
	}
	var doc yaml.Node
	if parseErr := yaml.Unmarshal(data, &doc); parseErr != nil {
		return classify(path, parseErr)
	}
	if integerErr := cfg.checkIntegers(path, &doc); integerErr != nil {
		return integerErr
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if decodeErr := dec.Decode(cfg); decodeErr != nil {
		if errors.Is(decodeErr, io.EOF) {
			return nil
		}
		return classify(path, decodeErr)
	}
	return nil
}

func classify(path string, decodeErr error) error {
	var typeErr *yaml.TypeError
	if !errors.As(decodeErr, &typeErr) {
		return fmt.Errorf("cannot parse %s: %w", path, decodeErr)
	}
	for _, msg := range typeErr.Errors {
		if strings.Contains(msg, "not found in type") {
			return fmt.Errorf("%w: %s: %s", ErrUnknownKey, path, msg)
		}
	}
	return fmt.Errorf("%w: %s: %s", ErrTypeMismatch, path,
		strings.Join(typeErr.Errors, "; "))
}

// checkIntegers rejects non-integer scalars for integer fields, which
// yaml.v3 would otherwise truncate.
func (cfg *RunConfig) checkIntegers(path string, doc *yaml.Node) error {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 ||
		doc.Content[0].Kind != yaml.MappingNode {
		return nil
	}
	mapping := doc.Content[0].Content
	for idx := 0; idx+1 < len(mapping); idx += 2 {
		key, value := mapping[idx].Value, mapping[idx+1]
		field, ok := cfg.fieldFor(key)
		if !ok || !isInteger(field.Kind()) || value.ShortTag() == "!!int" {
			continue
		}
		return fmt.Errorf("%w: %s: line %d: %s=%q is not an integer",
			ErrTypeMismatch, path, value.Line, key, value.Value)
	}
	return nil
}

func isInteger(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16,
		reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// fieldFor returns the field of cfg tagged `key`.
func (cfg *RunConfig) fieldFor(key string) (reflect.Value, bool) {
	value := reflect.ValueOf(cfg).Elem()
	for idx := 0; idx < value.NumField(); idx++ {
		tag := value.Type().Field(idx).Tag.Get("yaml")
		if strings.Split(tag, ",")[0] == key {
			return value.Field(idx), true
		}
	}
	return reflect.Value{}, false
}

// ApplyOverride
// Applies one `key=value` (or `--key=value`) override. The value is read as
// a YAML scalar of the field's type. Launcher keys such as `rank` are
// accepted and ignored.
func (cfg *RunConfig) ApplyOverride(override string) error {
	override = strings.TrimLeft(override, "-")
	key, raw, found := strings.Cut(override, "=")
	if !found || key == "" {
		return fmt.Errorf("%w: %q", ErrMalformedOverride, override)
	}
	key = strings.ReplaceAll(strings.TrimSpace(key), "-", "_")
	if launcherKeys[key] {
		return nil
	}
	field, ok := cfg.fieldFor(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if field.Kind() == reflect.String {
		field.SetString(raw)
		return nil
	}
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: %s needs a %s value", ErrTypeMismatch, key,
			field.Kind())
	}
	mismatch := fmt.Errorf("%w: %s=%q is not a %s", ErrTypeMismatch, key,
		raw, field.Kind())
	var doc yaml.Node
	if parseErr := yaml.Unmarshal([]byte(raw), &doc); parseErr != nil ||
		len(doc.Content) == 0 || doc.Content[0].Kind != yaml.ScalarNode {
		return mismatch
	}
	scalar := doc.Content[0]
	if isInteger(field.Kind()) && scalar.ShortTag() != "!!int" {
		return mismatch
	}
	decoded := reflect.New(field.Type())
	if decodeErr := scalar.Decode(decoded.Interface()); decodeErr != nil {
		return mismatch
	}
	field.Set(decoded.Elem())
	return nil
}

// ShardConfig returns the shard addressing part of cfg.
func (cfg RunConfig) ShardConfig() resources.ShardConfig {
	return resources.ShardConfig{
		BaseURL:  cfg.BaseURL,
		MaxShard: cfg.MaxShard,
		DataDir:  cfg.DataDir,
	}
}

// Validate checks the settings that have no meaningful fallback.
func (cfg RunConfig) Validate() error {
	if shardErr := cfg.ShardConfig().Validate(); shardErr != nil {
		return shardErr
	}
	if splitErr := dataset.ValidateSplit(cfg.Split); splitErr != nil {
		return splitErr
	}
	if cfg.BatchSize < 1 || cfg.SeqLen < 1 {
		return fmt.Errorf("%w: batch_size %d and seq_len %d must be "+
			"positive", ErrInvalidRunConfig, cfg.BatchSize, cfg.SeqLen)
	}
	if cfg.NumWorkers < 0 || cfg.TokenizerThreads < 0 ||
		cfg.TokenizerBatchSize < 0 {
		return fmt.Errorf("%w: worker counts must not be negative",
			ErrInvalidRunConfig)
	}
	return nil
}
