package config

import (
	"github.com/ieee0824/ctc-finetune/feature"
	"github.com/ieee0824/ctc-finetune/trainer"
)

const (
	defaultConfigPath = "~/.config/ctctrain/config.toml"
	projectConfigName = "ctctrain.toml"
	historyFileName   = "history.db"

	defaultDataDir         = "~/Downloads/data"
	defaultOutputDir       = "output"
	defaultModelsDir       = "~/.cache/ctctrain/models"
	defaultDatasetFormat   = "timit"
	defaultMaxInputSeconds = 4.0
	defaultWorkers         = 4
	defaultProjectionDim   = 128
	defaultHiddenSize      = 128
	defaultNumLayers       = 2
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogFile         = "train.log"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			OutputDir: defaultOutputDir,
			ModelsDir: defaultModelsDir,
		},
		Dataset: Dataset{
			Format:          defaultDatasetFormat,
			MaxInputSeconds: defaultMaxInputSeconds,
			Workers:         defaultWorkers,
		},
		Model: Model{
			FreezeFeatureEncoder: true,
			ProjectionDim:        defaultProjectionDim,
			HiddenSize:           defaultHiddenSize,
			NumLayers:            defaultNumLayers,
			Frontend:             feature.DefaultFilterbankConfig(),
		},
		Training: trainer.DefaultArguments(defaultOutputDir),
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
			File:   defaultLogFile,
		},
	}
}
