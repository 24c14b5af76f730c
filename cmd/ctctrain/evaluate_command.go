package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	finetune "github.com/ieee0824/ctc-finetune"
	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/metric"
	"github.com/ieee0824/ctc-finetune/text"
	"github.com/ieee0824/ctc-finetune/trainer"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var samples int

	cmd := &cobra.Command{
		Use:   "evaluate <model-dir>",
		Short: "Score a checkpoint or final model on the test split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.loggerFor("evaluate")
			if err != nil {
				return err
			}
			tr, err := finetune.LoadTranscriber(args[0])
			if err != nil {
				return err
			}
			corpus, err := loadCorpus(cfg)
			if err != nil {
				return err
			}
			if len(corpus.Test) == 0 {
				return fmt.Errorf("no test examples in %s corpus", cfg.Dataset.Format)
			}
			dataset.MapText(corpus.Test, text.Normalize)

			progress := newProgress(cmd.ErrOrStderr())
			items, err := dataset.Preprocess(cmd.Context(), corpus.Test, tr.Processor, cfg.Dataset.Workers, progress("test", len(corpus.Test)))
			if err != nil {
				return err
			}
			trainArgs := cfg.TrainingArguments()
			res, err := trainer.Evaluate(cmd.Context(), tr.Model, tr.Processor, items, trainArgs.EvalBatchSize, trainArgs.PaddingOptions())
			if err != nil {
				return err
			}
			logger.Info("evaluation finished", "model", args[0], "eval_loss", res.Loss, "eval_wer", res.WER, "samples", res.Samples)

			out := cmd.OutOrStdout()
			if samples > 0 {
				rows := make([][]string, 0, samples)
				for i := 0; i < samples && i < len(res.Predictions); i++ {
					errs := metric.EditDistance(strings.Fields(res.Predictions[i]), strings.Fields(res.References[i]))
					rows = append(rows, []string{items[i].ID, res.References[i], res.Predictions[i], strconv.Itoa(errs)})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Reference", "Prediction", "Errors"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
			}
			fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, [][]string{
				{"samples", strconv.Itoa(res.Samples)},
				{"eval_loss", strconv.FormatFloat(res.Loss, 'f', 4, 64)},
				{"eval_wer", strconv.FormatFloat(res.WER, 'f', 4, 64)},
			}, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "n", 10, "Number of example transcriptions to print")
	return cmd
}
