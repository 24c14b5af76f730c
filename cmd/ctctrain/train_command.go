package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	finetune "github.com/ieee0824/ctc-finetune"
	"github.com/ieee0824/ctc-finetune/internal/config"
	"github.com/ieee0824/ctc-finetune/internal/history"
	"github.com/ieee0824/ctc-finetune/trainer"
)

type trainFlags struct {
	dataDir    string
	outputDir  string
	pretrained string
	resume     string
	epochs     int
	batchSize  int
	lr         float64
	noFreeze   bool
}

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build the vocabulary, preprocess the corpus and fine-tune",
		Long: `Train cleans the transcripts, writes vocab.json, preprocesses the audio and
fine-tunes the model with CTC loss. Checkpoints are written to
<output_dir>/checkpoint-<step>; pass --resume latest to continue from the
newest one after an interruption.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			logger, err := ctx.loggerFor("train")
			if err != nil {
				return err
			}

			trainArgs := cfg.TrainingArguments()
			var runID string
			if flags.resume != "" {
				dir := flags.resume
				if dir == "latest" {
					if dir, err = trainer.LatestCheckpoint(trainArgs.OutputDir); err != nil {
						return err
					}
				}
				st, err := trainer.LoadState(dir)
				if err != nil {
					return err
				}
				trainArgs.ResumeFrom = dir
				runID = st.RunID
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			corpus, err := loadCorpus(cfg)
			if err != nil {
				return err
			}
			logger.Info("corpus loaded", "train", len(corpus.Train), "test", len(corpus.Test), "format", cfg.Dataset.Format)

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := store.StartRun(signalCtx, history.Run{
				ID:        runID,
				OutputDir: trainArgs.OutputDir,
				BaseModel: cfg.Model.Pretrained,
			}); err != nil {
				return err
			}

			p := finetune.New(trainArgs,
				finetune.WithModelShape(cfg.ModelConfig(0)),
				finetune.WithPretrained(cfg.Model.Pretrained, cfg.Paths.ModelsDir),
				finetune.WithFreezeFeatureEncoder(cfg.Model.FreezeFeatureEncoder),
				finetune.WithMaxInputSeconds(cfg.Dataset.MaxInputSeconds),
				finetune.WithWorkers(cfg.Dataset.Workers),
				finetune.WithLogger(logger),
				finetune.WithProgress(newProgress(cmd.ErrOrStderr())),
				finetune.WithTrainerOptions(trainer.WithRecorder(store), trainer.WithRunID(runID)),
			)
			st, runErr := p.Run(signalCtx, corpus)

			status := history.StatusCompleted
			switch {
			case errors.Is(runErr, context.Canceled):
				status = history.StatusInterrupted
			case runErr != nil:
				status = history.StatusFailed
			}
			// The signal context may be done already.
			if err := store.FinishRun(context.WithoutCancel(signalCtx), runID, status, st, runErr); err != nil {
				logger.Warn("record run outcome failed", "error", err)
			}
			if runErr != nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s finished at step %d\n", runID, st.GlobalStep)
			if st.BestWER != nil {
				fmt.Fprintf(out, "Best WER %.4f", *st.BestWER)
				if st.BestCheckpoint != "" {
					fmt.Fprintf(out, " (%s)", st.BestCheckpoint)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "Model written to %s\n", trainArgs.OutputDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.dataDir, "data-dir", "", "Override paths.data_dir")
	cmd.Flags().StringVarP(&flags.outputDir, "output-dir", "o", "", "Override paths.output_dir")
	cmd.Flags().StringVar(&flags.pretrained, "pretrained", "", "Override model.pretrained")
	cmd.Flags().StringVar(&flags.resume, "resume", "", `Checkpoint directory to resume from, or "latest"`)
	cmd.Flags().IntVar(&flags.epochs, "epochs", 0, "Override training.epochs")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Override training.batch_size")
	cmd.Flags().Float64Var(&flags.lr, "learning-rate", 0, "Override training.learning_rate")
	cmd.Flags().BoolVar(&flags.noFreeze, "no-freeze", false, "Train the feature projection too")
	return cmd
}

func (f *trainFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if f.dataDir != "" {
		dir, err := config.ExpandPath(f.dataDir)
		if err != nil {
			return err
		}
		cfg.Paths.DataDir = dir
	}
	if f.outputDir != "" {
		dir, err := config.ExpandPath(f.outputDir)
		if err != nil {
			return err
		}
		cfg.Paths.OutputDir = dir
	}
	if f.pretrained != "" {
		cfg.Model.Pretrained = f.pretrained
	}
	if cmd.Flags().Changed("epochs") {
		cfg.Training.Epochs = f.epochs
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Training.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("learning-rate") {
		cfg.Training.LearningRate = f.lr
	}
	if f.noFreeze {
		cfg.Model.FreezeFeatureEncoder = false
	}
	return cfg.Validate()
}
