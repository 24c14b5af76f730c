package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	finetune "github.com/ieee0824/ctc-finetune"
	"github.com/ieee0824/ctc-finetune/match"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var scriptPath string
	var minScore int

	cmd := &cobra.Command{
		Use:   "transcribe <model-dir> <audio>...",
		Short: "Transcribe WAV or SPHERE files with a trained model",
		Long: `Transcribe WAV or SPHERE files with a trained model.

With --script the files are treated as consecutive parts of a reading of the
script. Each transcript is aligned against the unread rest of the script and
the line gains the reached word position and the time of the first matched
character ("-" when the transcript did not match).`,
		Args:        cobra.MinimumNArgs(2),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := finetune.LoadTranscriber(args[0])
			if err != nil {
				return err
			}
			var tracker *match.Tracker
			if scriptPath != "" {
				data, err := os.ReadFile(scriptPath)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				tracker = match.NewTracker(match.NewScript(strings.Split(string(data), "\n")))
				tracker.MinScore = minScore
			}

			out := cmd.OutOrStdout()
			for _, path := range args[1:] {
				res, err := tr.TranscribeFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				switch {
				case tracker != nil:
					at := "-"
					if span, ok := tracker.Match(res.Text); ok {
						tracker.Commit()
						at = fmt.Sprintf("%.2fs", res.Offsets[span.Start])
					}
					fmt.Fprintf(out, "%s\t%.2fs\t%s\t%d/%d\t%s\n", path, res.Duration, res.Text,
						tracker.Position(), len(tracker.Script.Words), at)
				case len(args) > 2:
					fmt.Fprintf(out, "%s\t%s\n", path, res.Text)
				default:
					fmt.Fprintln(out, res.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "Follow the reading position in this text file")
	cmd.Flags().IntVar(&minScore, "min-score", match.DefaultMinScore, "Alignment score needed to move the script position")
	return cmd
}
