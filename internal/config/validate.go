package config

import (
	"errors"
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	for _, p := range []*string{&c.Paths.DataDir, &c.Paths.OutputDir, &c.Paths.ModelsDir} {
		if *p, err = expandPath(strings.TrimSpace(*p)); err != nil {
			return err
		}
	}
	for _, p := range []*string{&c.Dataset.TrainManifest, &c.Dataset.TestManifest} {
		if *p == "" {
			continue
		}
		if *p, err = expandPath(strings.TrimSpace(*p)); err != nil {
			return err
		}
	}
	c.Dataset.Format = strings.ToLower(strings.TrimSpace(c.Dataset.Format))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Training.OutputDir = c.Paths.OutputDir
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	switch c.Dataset.Format {
	case "timit":
		if c.Paths.DataDir == "" {
			return errors.New("paths.data_dir must be set for the timit format")
		}
	case "manifest":
		if c.Dataset.TrainManifest == "" || c.Dataset.TestManifest == "" {
			return errors.New("dataset.train_manifest and dataset.test_manifest must be set for the manifest format")
		}
	default:
		return fmt.Errorf("dataset.format %q must be timit or manifest", c.Dataset.Format)
	}
	if c.Dataset.MaxInputSeconds <= 0 {
		return fmt.Errorf("dataset.max_input_seconds %g must be positive", c.Dataset.MaxInputSeconds)
	}
	if c.Dataset.Workers <= 0 {
		return fmt.Errorf("dataset.workers %d must be positive", c.Dataset.Workers)
	}
	if c.Model.ProjectionDim <= 0 || c.Model.HiddenSize <= 0 || c.Model.NumLayers <= 0 {
		return errors.New("model.projection_dim, model.hidden_size and model.num_layers must be positive")
	}
	if err := c.Model.Frontend.Validate(); err != nil {
		return fmt.Errorf("model.frontend: %w", err)
	}
	if err := c.TrainingArguments().Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}
