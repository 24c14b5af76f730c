package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ieee0824/ctc-finetune/dataset"
	"github.com/ieee0824/ctc-finetune/text"
	"github.com/ieee0824/ctc-finetune/vocab"
)

func newVocabCommand(ctx *commandContext) *cobra.Command {
	var outPath, manifestDir string
	var show bool

	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Build vocab.json from the corpus transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			corpus, err := loadCorpus(cfg)
			if err != nil {
				return err
			}
			dataset.MapText(corpus.Train, text.Normalize)
			dataset.MapText(corpus.Test, text.Normalize)
			v := vocab.Build(dataset.Texts(corpus.Train), dataset.Texts(corpus.Test))

			target := outPath
			if target == "" {
				target = filepath.Join(cfg.Paths.OutputDir, vocab.FileName)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create vocab directory: %w", err)
			}
			if err := v.Save(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if show {
				rows := make([][]string, 0, v.Len())
				for id, tok := range v.Tokens() {
					rows = append(rows, []string{strconv.Itoa(id), strconv.Quote(tok)})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Token"}, rows, []columnAlignment{alignRight, alignLeft}))
			}
			fmt.Fprintf(out, "Wrote %d tokens to %s\n", v.Len(), target)

			if manifestDir != "" {
				if err := writeCleanManifests(manifestDir, corpus); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote cleaned manifests to %s\n", manifestDir)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination file (default <output_dir>/vocab.json)")
	cmd.Flags().BoolVar(&show, "show", false, "Print the token table")
	cmd.Flags().StringVar(&manifestDir, "manifests", "", "Also write the cleaned transcripts as train.tsv and test.tsv in this directory")
	return cmd
}

// writeCleanManifests writes both splits with absolute audio paths so the
// manifests load from any directory.
func writeCleanManifests(dir string, corpus *dataset.Corpus) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	splits := []struct {
		name     string
		examples []dataset.Example
	}{
		{"train.tsv", corpus.Train},
		{"test.tsv", corpus.Test},
	}
	for _, split := range splits {
		examples := make([]dataset.Example, len(split.examples))
		for i, ex := range split.examples {
			abs, err := filepath.Abs(ex.AudioPath)
			if err != nil {
				return err
			}
			ex.AudioPath = abs
			examples[i] = ex
		}
		if err := dataset.WriteManifest(filepath.Join(dir, split.name), examples); err != nil {
			return err
		}
	}
	return nil
}
