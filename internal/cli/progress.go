package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/taxflow/internal/engine"
)

// Progress drives a terminal progress bar from processor callbacks.
type Progress struct {
	writer      io.Writer
	bar         *progressbar.ProgressBar
	description string
}

// NewProgress creates a progress bar that is sized on the first update.
func NewProgress(writer io.Writer, description string) *Progress {
	return &Progress{writer: writer, description: description}
}

// Update matches engine.WithProgress.
func (p *Progress) Update(pr engine.Progress) {
	if pr.Total == 0 {
		return
	}
	if p.bar == nil {
		p.bar = progressbar.NewOptions(pr.Total,
			progressbar.OptionSetWriter(p.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]"+p.description+"[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(p.writer); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		)
	}
	if err := p.bar.Set(pr.Done); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Done reports whether the bar reached its total.
func (p *Progress) Done() bool {
	return p.bar != nil && p.bar.IsFinished()
}
