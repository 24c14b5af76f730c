package main

import (
	"fmt"

	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/internal/config"
)

func loadCorpus(cfg *config.Config) (*dataset.Corpus, error) {
	switch cfg.Dataset.Format {
	case "timit":
		return dataset.LoadTIMIT(cfg.Paths.DataDir)
	case "manifest":
		train, err := dataset.LoadManifest(cfg.Dataset.TrainManifest)
		if err != nil {
			return nil, err
		}
		test, err := dataset.LoadManifest(cfg.Dataset.TestManifest)
		if err != nil {
			return nil, err
		}
		return &dataset.Corpus{Train: train, Test: test}, nil
	}
	return nil, fmt.Errorf("unsupported dataset format %q", cfg.Dataset.Format)
}
