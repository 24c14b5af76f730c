package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// loadDotEnv reads ./.env into the process environment. Variables already
// set win over the file.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// applyEnv overlays CTCTRAIN_* variables on the file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"CTCTRAIN_DATA_DIR", &c.Paths.DataDir},
		{"CTCTRAIN_OUTPUT_DIR", &c.Paths.OutputDir},
		{"CTCTRAIN_MODELS_DIR", &c.Paths.ModelsDir},
		{"CTCTRAIN_PRETRAINED", &c.Model.Pretrained},
		{"CTCTRAIN_LOG_LEVEL", &c.Logging.Level},
		{"CTCTRAIN_LOG_FORMAT", &c.Logging.Format},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok && v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CTCTRAIN_WORKERS", &c.Dataset.Workers},
		{"CTCTRAIN_BATCH_SIZE", &c.Training.BatchSize},
		{"CTCTRAIN_EPOCHS", &c.Training.Epochs},
	}
	for _, s := range ints {
		v, ok := lookup(s.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		*s.dst = n
	}

	if v, ok := lookup("CTCTRAIN_LEARNING_RATE"); ok && v != "" {
		lr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CTCTRAIN_LEARNING_RATE: %w", err)
		}
		c.Training.LearningRate = lr
	}
	return nil
}
