// Package trainer fine-tunes a CTC model with anysgd, evaluating word error
// rate and writing rotating checkpoints as it goes.
package trainer

import (
	"errors"
	"fmt"

	"github.com/ieee0824/ctc-finetune/padding"
)

// Arguments holds the training hyperparameters.
type Arguments struct {
	OutputDir      string           `json:"output_dir" toml:"-"`
	GroupByLength  bool             `json:"group_by_length" toml:"group_by_length"`
	BatchSize      int              `json:"batch_size" toml:"batch_size"`
	EvalBatchSize  int              `json:"eval_batch_size" toml:"eval_batch_size"`
	Epochs         int              `json:"epochs" toml:"epochs"`
	LoggingSteps   int              `json:"logging_steps" toml:"logging_steps"`
	EvalSteps      int              `json:"eval_steps" toml:"eval_steps"`
	SaveSteps      int              `json:"save_steps" toml:"save_steps"`
	LearningRate   float64          `json:"learning_rate" toml:"learning_rate"`
	WeightDecay    float64          `json:"weight_decay" toml:"weight_decay"`
	WarmupSteps    int              `json:"warmup_steps" toml:"warmup_steps"`
	SaveTotalLimit int              `json:"save_total_limit" toml:"save_total_limit"`
	Padding        padding.Strategy `json:"padding" toml:"padding"`
	MaxLength      int              `json:"max_length,omitempty" toml:"max_length"`
	ResumeFrom     string           `json:"-" toml:"-"`
}

// DefaultArguments returns batch 8, 30 epochs, a 500 step logging, eval and
// save cadence, lr 1e-4, weight decay 0.005 and 1000 warmup steps.
func DefaultArguments(outputDir string) Arguments {
	return Arguments{
		OutputDir:      outputDir,
		GroupByLength:  true,
		BatchSize:      8,
		EvalBatchSize:  8,
		Epochs:         30,
		LoggingSteps:   500,
		EvalSteps:      500,
		SaveSteps:      500,
		LearningRate:   1e-4,
		WeightDecay:    0.005,
		WarmupSteps:    1000,
		SaveTotalLimit: 2,
		Padding:        padding.Longest,
	}
}

// Validate rejects arguments the loop cannot run with.
func (a Arguments) Validate() error {
	switch {
	case a.OutputDir == "":
		return errors.New("trainer: output dir is required")
	case a.BatchSize <= 0 || a.EvalBatchSize <= 0:
		return fmt.Errorf("trainer: batch sizes %d/%d must be positive", a.BatchSize, a.EvalBatchSize)
	case a.Epochs <= 0:
		return fmt.Errorf("trainer: epochs %d must be positive", a.Epochs)
	case a.LoggingSteps <= 0 || a.EvalSteps <= 0 || a.SaveSteps <= 0:
		return errors.New("trainer: logging, eval and save steps must be positive")
	case a.LearningRate <= 0:
		return fmt.Errorf("trainer: learning rate %g must be positive", a.LearningRate)
	case a.WeightDecay < 0 || a.WarmupSteps < 0 || a.SaveTotalLimit < 0:
		return errors.New("trainer: weight decay, warmup and save limit must not be negative")
	}
	return nil
}

// PaddingOptions returns the collation padding of the run.
func (a Arguments) PaddingOptions() padding.Options {
	return padding.Options{Strategy: a.Padding, MaxLength: a.MaxLength}
}
