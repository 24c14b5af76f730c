package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctc-finetune/model"
	"github.com/ieee0824/ctc-finetune/vocab"
)

func newInitModelCommand(ctx *commandContext) *cobra.Command {
	var vocabPath string
	var vocabSize int
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init-model <name>",
		Short: "Create a randomly initialized model under paths.models_dir",
		Long: `Init-model writes <models_dir>/<name>/model.bin using the [model] shape of
the configuration. The result can be referenced with model.pretrained or
--pretrained. The output size comes from --vocab or --vocab-size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			size := vocabSize
			if vocabPath != "" {
				v, err := vocab.Load(vocabPath)
				if err != nil {
					return err
				}
				size = v.Len()
			}
			if size <= 0 {
				return errors.New("set --vocab or --vocab-size")
			}

			m, err := model.New(cfg.ModelConfig(size))
			if err != nil {
				return err
			}
			target := filepath.Join(cfg.Paths.ModelsDir, args[0], model.FileName)
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("model already exists at %s (use --overwrite to replace it)", target)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create model directory: %w", err)
			}
			if err := m.Save(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d-parameter model to %s\n", m.NumParameters(), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocab", "", "vocab.json whose size sets the output layer")
	cmd.Flags().IntVar(&vocabSize, "vocab-size", 0, "Output layer size")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing model")
	return cmd
}
