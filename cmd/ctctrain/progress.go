package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newProgress returns a reporter drawing a bar on w per preprocessing stage.
// Nothing is drawn when w is not a terminal.
func newProgress(w io.Writer) func(stage string, total int) func() {
	visible := isTerminal(w)
	return func(stage string, total int) func() {
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("preprocess "+stage),
			progressbar.OptionSetVisibility(visible),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		return func() { _ = bar.Add(1) }
	}
}
