package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/ieee0824/ctc-finetune/feature"
	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/trainer"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the input and output locations.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	OutputDir string `toml:"output_dir"`
	ModelsDir string `toml:"models_dir"`
}

// Dataset selects the corpus layout and preprocessing limits.
type Dataset struct {
	Format          string  `toml:"format"` // "timit" or "manifest"
	TrainManifest   string  `toml:"train_manifest"`
	TestManifest    string  `toml:"test_manifest"`
	MaxInputSeconds float64 `toml:"max_input_seconds"`
	Workers         int     `toml:"workers"`
}

// Model describes the network to fine-tune.
type Model struct {
	// Pretrained is a model file, a directory holding model.bin or a name
	// under paths.models_dir. Empty starts from random weights.
	Pretrained           string                   `toml:"pretrained"`
	FreezeFeatureEncoder bool                     `toml:"freeze_feature_encoder"`
	ProjectionDim        int                      `toml:"projection_dim"`
	HiddenSize           int                      `toml:"hidden_size"`
	NumLayers            int                      `toml:"num_layers"`
	Frontend             feature.FilterbankConfig `toml:"frontend"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// File is written inside paths.output_dir. Empty disables file logging.
	File string `toml:"file"`
}

// Config is the complete ctctrain configuration.
type Config struct {
	Paths    Paths             `toml:"paths"`
	Dataset  Dataset           `toml:"dataset"`
	Model    Model             `toml:"model"`
	Training trainer.Arguments `toml:"training"`
	Logging  Logging           `toml:"logging"`
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or the first of ./ctctrain.toml and
// the per-user file when path is empty. Missing files yield defaults. The
// environment (after .env is loaded) overrides file values. It returns the
// resolved path and whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// TrainingArguments returns the training arguments bound to the output dir.
func (c *Config) TrainingArguments() trainer.Arguments {
	args := c.Training
	args.OutputDir = c.Paths.OutputDir
	return args
}

// ModelConfig returns the network shape for a vocabulary of vocabSize.
func (c *Config) ModelConfig(vocabSize int) model.Config {
	return model.Config{
		Frontend:      c.Model.Frontend,
		ProjectionDim: c.Model.ProjectionDim,
		HiddenSize:    c.Model.HiddenSize,
		NumLayers:     c.Model.NumLayers,
		VocabSize:     vocabSize,
	}
}

// LogFilePath returns the log file location, or "" when file logging is off.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Logging.File) == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.Paths.OutputDir, c.Logging.File)
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.OutputDir, historyFileName)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the configuration path rules: "~" expansion and
// conversion to an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
